package inventory

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/Spok95/coffee-stock/internal/domain/ledger"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
)

type WasteRequest struct {
	MaterialID int64
	Date       time.Time // нулевая — сегодня
	Quantity   decimal.Decimal
	Reason     string
}

// RecordWaste списывает потери. Потеря ограничена тем, что прошло через день:
// снимок остатка + приход + расход за дату; равенство тоже отклоняется.
func (s *Service) RecordWaste(ctx context.Context, req WasteRequest) (ev ledger.Event, err error) {
	day := s.dayOrToday(req.Date)
	ctx, finish := s.begin(ctx, "record_waste",
		attribute.Int64("material.id", req.MaterialID),
		attribute.String("date", day.Format(time.DateOnly)),
		attribute.String("quantity", req.Quantity.String()),
	)
	defer func() { finish(err) }()

	if !req.Quantity.IsPositive() {
		return ledger.Event{}, ErrInvalidQuantity
	}
	reason := strings.TrimSpace(req.Reason)
	if reason == "" {
		return ledger.Event{}, ErrReasonRequired
	}

	var remain decimal.Decimal
	err = s.store.Update(ctx, []int64{req.MaterialID}, func(ctx context.Context, tx ledger.Tx) error {
		sn, err := tx.Snapshot(ctx, req.MaterialID, day)
		if err != nil {
			return err
		}
		if sn == nil {
			return ErrMaterialHasNoBaseline
		}
		imported, err := tx.Sum(ctx, ledger.OnDay(req.MaterialID, ledger.KindImportation, day))
		if err != nil {
			return err
		}
		consumed, err := tx.Sum(ctx, ledger.OnDay(req.MaterialID, ledger.KindConsumption, day))
		if err != nil {
			return err
		}
		accountable := sn.ActualRemain.Add(imported).Add(consumed)
		if req.Quantity.GreaterThanOrEqual(accountable) {
			return &ExceedsAccountableError{MaterialID: req.MaterialID, Quantity: req.Quantity, Accountable: accountable}
		}

		remain, err = tx.Adjust(ctx, req.MaterialID, req.Quantity.Neg())
		if errors.Is(err, ledger.ErrNegativeRemain) {
			return &ExceedsAccountableError{MaterialID: req.MaterialID, Quantity: req.Quantity, Accountable: accountable}
		}
		if err != nil {
			return err
		}

		ev, err = tx.Append(ctx, ledger.Event{
			Kind:       ledger.KindWaste,
			MaterialID: req.MaterialID,
			Date:       day,
			Quantity:   req.Quantity,
			Reason:     reason,
		})
		return err
	})
	if err != nil {
		return ledger.Event{}, err
	}

	s.committed(ctx, []ledger.Event{ev}, map[int64]decimal.Decimal{req.MaterialID: remain})
	s.log.Info("waste recorded", "material_id", req.MaterialID, "qty", req.Quantity.String(), "reason", reason)
	return ev, nil
}
