package inventory

import (
	"context"
	"time"

	"github.com/Spok95/coffee-stock/internal/domain/ledger"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
)

type ImportationRequest struct {
	MaterialID   int64
	Date         time.Time // нулевая — сегодня
	Quantity     decimal.Decimal
	PricePerUnit decimal.Decimal
}

func (s *Service) RecordImportation(ctx context.Context, req ImportationRequest) (ledger.Event, error) {
	evs, err := s.ImportBatch(ctx, []ImportationRequest{req})
	if err != nil {
		return ledger.Event{}, err
	}
	return evs[0], nil
}

// ImportBatch проводит поставку из нескольких строк: либо все, либо ни одной.
func (s *Service) ImportBatch(ctx context.Context, reqs []ImportationRequest) (evs []ledger.Event, err error) {
	ctx, finish := s.begin(ctx, "import_batch", attribute.Int("lines", len(reqs)))
	defer func() { finish(err) }()

	if len(reqs) == 0 {
		return nil, ErrInvalidQuantity
	}
	ids := make([]int64, 0, len(reqs))
	for _, r := range reqs {
		if !r.Quantity.IsPositive() || r.PricePerUnit.IsNegative() {
			return nil, ErrInvalidQuantity
		}
		ids = append(ids, r.MaterialID)
	}

	remains := make(map[int64]decimal.Decimal, len(reqs))
	err = s.store.Update(ctx, ids, func(ctx context.Context, tx ledger.Tx) error {
		evs = evs[:0]
		for _, r := range reqs {
			next, err := tx.Adjust(ctx, r.MaterialID, r.Quantity)
			if err != nil {
				return err
			}
			remains[r.MaterialID] = next

			ev, err := tx.Append(ctx, ledger.Event{
				Kind:         ledger.KindImportation,
				MaterialID:   r.MaterialID,
				Date:         s.dayOrToday(r.Date),
				Quantity:     r.Quantity,
				PricePerUnit: r.PricePerUnit,
			})
			if err != nil {
				return err
			}
			evs = append(evs, ev)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.committed(ctx, evs, remains)
	s.log.Info("importation recorded", "lines", len(evs))
	return evs, nil
}
