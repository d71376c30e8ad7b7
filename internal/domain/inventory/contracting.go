package inventory

import (
	"context"
	"time"

	"github.com/Spok95/coffee-stock/internal/domain/ledger"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
)

type ContractingRequest struct {
	MaterialID int64
	Date       time.Time // нулевая — сегодня
	Quantity   decimal.Decimal
	StaffID    *int64
}

// CreateContracting фиксирует закупочное обязательство на день. Объём не может
// превышать остаток на начало дня (по журналу) плюс поступления этого же дня.
// Кэш остатка не меняется.
func (s *Service) CreateContracting(ctx context.Context, req ContractingRequest) (ev ledger.Event, err error) {
	day := s.dayOrToday(req.Date)
	ctx, finish := s.begin(ctx, "create_contracting",
		attribute.Int64("material.id", req.MaterialID),
		attribute.String("date", day.Format(time.DateOnly)),
		attribute.String("quantity", req.Quantity.String()),
	)
	defer func() { finish(err) }()

	if !req.Quantity.IsPositive() {
		return ledger.Event{}, ErrInvalidQuantity
	}
	if err := s.checkStaff(ctx, req.StaffID); err != nil {
		return ledger.Event{}, err
	}

	err = s.store.Update(ctx, []int64{req.MaterialID}, func(ctx context.Context, tx ledger.Tx) error {
		opening, err := project(ctx, tx, req.MaterialID, ledger.PrevDay(day))
		if err != nil {
			return err
		}
		imported, err := tx.Sum(ctx, ledger.OnDay(req.MaterialID, ledger.KindImportation, day))
		if err != nil {
			return err
		}
		available := opening.Add(imported)
		if req.Quantity.GreaterThan(available) {
			return &InsufficientStockError{MaterialID: req.MaterialID, Requested: req.Quantity, Available: available}
		}

		ev, err = tx.Append(ctx, ledger.Event{
			Kind:       ledger.KindContracting,
			MaterialID: req.MaterialID,
			Date:       day,
			Quantity:   req.Quantity,
			StaffID:    req.StaffID,
		})
		return err
	})
	if err != nil {
		return ledger.Event{}, err
	}

	s.committed(ctx, []ledger.Event{ev}, nil)
	s.log.Info("contracting created", "material_id", req.MaterialID, "date", day.Format(time.DateOnly), "qty", req.Quantity.String())
	return ev, nil
}

func (s *Service) checkStaff(ctx context.Context, staffID *int64) error {
	if staffID == nil || s.staff == nil {
		return nil
	}
	st, err := s.staff.GetByID(ctx, *staffID)
	if err != nil {
		return err
	}
	if st == nil || !st.Active {
		return ErrUnknownStaff
	}
	return nil
}
