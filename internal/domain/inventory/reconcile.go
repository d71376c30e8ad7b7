package inventory

import (
	"context"
	"time"

	"github.com/Spok95/coffee-stock/internal/domain/ledger"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
)

type ReconcileLine struct {
	MaterialID      int64
	OldRemain       decimal.Decimal
	NewRemain       decimal.Decimal
	TotalContracted decimal.Decimal
}

type ReconcileReport struct {
	Date  time.Time
	Lines []ReconcileLine
}

// Reconcile пересчитывает снимок остатка на начало дня date для каждого
// материала с контрактацией за этот день и выправляет кэш по журналу.
// Повторный запуск без новых событий даёт те же снимки.
func (s *Service) Reconcile(ctx context.Context, date time.Time) (rep ReconcileReport, err error) {
	day := s.dayOrToday(date)
	rep.Date = day
	ctx, finish := s.begin(ctx, "reconcile", attribute.String("date", day.Format(time.DateOnly)))
	defer func() { finish(err) }()

	ids, err := s.store.MaterialsWith(ctx, ledger.KindContracting, day)
	if err != nil {
		return rep, err
	}
	if len(ids) == 0 {
		return rep, nil
	}

	err = s.store.Update(ctx, ids, func(ctx context.Context, tx ledger.Tx) error {
		rep.Lines = rep.Lines[:0]
		for _, id := range ids {
			line, err := s.reconcileOne(ctx, tx, id, day)
			if err != nil {
				return err
			}
			rep.Lines = append(rep.Lines, line)
		}
		return nil
	})
	if err != nil {
		return ReconcileReport{Date: day}, err
	}

	remains := make(map[int64]decimal.Decimal, len(rep.Lines))
	for _, l := range rep.Lines {
		remains[l.MaterialID] = l.NewRemain
		if !l.OldRemain.Equal(l.NewRemain) {
			s.log.Info("remain corrected", "material_id", l.MaterialID, "old", l.OldRemain.String(), "new", l.NewRemain.String())
		}
	}
	s.committed(ctx, nil, remains)
	s.log.Info("reconciliation done", "date", day.Format(time.DateOnly), "materials", len(rep.Lines))
	return rep, nil
}

func (s *Service) reconcileOne(ctx context.Context, tx ledger.Tx, id int64, day time.Time) (ReconcileLine, error) {
	line := ReconcileLine{MaterialID: id}

	old, err := tx.Remain(ctx, id)
	if err != nil {
		return line, err
	}
	line.OldRemain = old

	// снимок за day — остаток на начало дня, считается от предыдущих снимков
	opening, err := project(ctx, tx, id, ledger.PrevDay(day))
	if err != nil {
		return line, err
	}
	opening = s.clamp(id, "opening", opening)

	consumed, err := tx.Sum(ctx, ledger.OnDay(id, ledger.KindConsumption, day))
	if err != nil {
		return line, err
	}
	if err := tx.PutSnapshot(ctx, ledger.Snapshot{
		MaterialID:     id,
		Date:           day,
		ActualRemain:   opening,
		ActualConsumed: consumed,
	}); err != nil {
		return line, err
	}

	after, err := movement(ctx, tx, id, day, time.Time{})
	if err != nil {
		return line, err
	}
	line.NewRemain = s.clamp(id, "remain", opening.Add(after))
	if err := tx.SetRemain(ctx, id, line.NewRemain); err != nil {
		return line, err
	}

	line.TotalContracted, err = tx.Sum(ctx, ledger.OnDay(id, ledger.KindContracting, day))
	if err != nil {
		return line, err
	}
	return line, nil
}

// clamp: журнал без начального прихода может дать минус, остаток ниже нуля не опускается.
func (s *Service) clamp(materialID int64, what string, v decimal.Decimal) decimal.Decimal {
	if v.IsNegative() {
		s.log.Warn("ledger projection is negative, clamped to zero", "material_id", materialID, "value", what, "projected", v.String())
		return decimal.Zero
	}
	return v
}
