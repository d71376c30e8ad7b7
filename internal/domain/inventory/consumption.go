package inventory

import (
	"context"
	"errors"
	"fmt"

	"github.com/Spok95/coffee-stock/internal/domain/ledger"
	"github.com/Spok95/coffee-stock/internal/domain/recipes"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
)

type ToppingSelection struct {
	ProductID int64
	Quantity  int // на одну единицу позиции
}

type LineItem struct {
	ProductID int64
	SizeID    *int64
	Quantity  int
	Toppings  []ToppingSelection
}

// Stage — этап попытки списания под заказ.
type Stage string

const (
	StageResolving  Stage = "resolving"
	StageValidating Stage = "validating"
	StageCommitting Stage = "committing"
	StageCommitted  Stage = "committed"
	StageRejected   Stage = "rejected"
)

// ConsumeForOrder списывает материалы по всем позициям заказа одной транзакцией.
// Если хоть одного материала не хватает, не списывается ничего.
// Повторный вызов для того же заказа возвращает уже записанные события.
func (s *Service) ConsumeForOrder(ctx context.Context, orderID int64, items []LineItem) (evs []ledger.Event, err error) {
	ctx, finish := s.begin(ctx, "consume_for_order", attribute.Int64("order.id", orderID))
	defer func() { finish(err) }()

	if orderID <= 0 || len(items) == 0 {
		return nil, ErrInvalidOrder
	}

	prev, err := s.store.OrderConsumptions(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if len(prev) > 0 {
		s.log.Debug("order already consumed", "order_id", orderID, "events", len(prev))
		return prev, nil
	}

	stage := StageResolving
	defer func() {
		if err != nil {
			s.log.Info("order consumption rejected", "order_id", orderID, "stage", string(stage), "err", err)
		}
	}()

	reqs, err := s.resolve(ctx, items)
	if err != nil {
		return nil, err
	}
	if len(reqs) == 0 {
		stage = StageCommitted
		return []ledger.Event{}, nil
	}

	ids := make([]int64, len(reqs))
	for i, r := range reqs {
		ids[i] = r.MaterialID
	}

	var (
		written []ledger.Event
		replay  []ledger.Event
		remains = make(map[int64]decimal.Decimal, len(reqs))
	)
	err = s.store.Update(ctx, ids, func(ctx context.Context, tx ledger.Tx) error {
		written, replay = nil, nil

		// параллельная попытка того же заказа могла успеть раньше нас;
		// LockOrder держит их по очереди даже при разных материалах
		existing, err := tx.OrderConsumptions(ctx, orderID)
		if err != nil {
			return err
		}
		if len(existing) > 0 {
			replay = existing
			return nil
		}

		stage = StageValidating
		for _, r := range reqs {
			remain, err := tx.Remain(ctx, r.MaterialID)
			if err != nil {
				return err
			}
			if r.Amount.GreaterThan(remain) {
				stage = StageRejected
				return &InsufficientMaterialError{MaterialID: r.MaterialID, Required: r.Amount, Remain: remain}
			}
		}

		stage = StageCommitting
		day := s.today()
		for _, r := range reqs {
			next, err := tx.Adjust(ctx, r.MaterialID, r.Amount.Neg())
			if errors.Is(err, ledger.ErrNegativeRemain) {
				stage = StageRejected
				cur, err := tx.Remain(ctx, r.MaterialID)
				if err != nil {
					return err
				}
				return &InsufficientMaterialError{MaterialID: r.MaterialID, Required: r.Amount, Remain: cur}
			}
			if err != nil {
				return err
			}
			remains[r.MaterialID] = next

			oid := orderID
			ev, err := tx.Append(ctx, ledger.Event{
				Kind:       ledger.KindConsumption,
				MaterialID: r.MaterialID,
				Date:       day,
				Quantity:   r.Amount,
				OrderID:    &oid,
				Reason:     fmt.Sprintf("order #%d", orderID),
			})
			if err != nil {
				return err
			}
			written = append(written, ev)
		}
		return nil
	}, ledger.LockOrder(orderID))
	if errors.Is(err, ledger.ErrDuplicateConsumption) {
		// заказ записан другим процессом между проверкой и вставкой
		replay, err = s.store.OrderConsumptions(ctx, orderID)
		if err == nil && len(replay) == 0 {
			err = fmt.Errorf("%w: order %d rejected as duplicate but has no events", ErrLedgerWriteFailed, orderID)
		}
	}
	if err != nil {
		return nil, err
	}
	if replay != nil {
		stage = StageCommitted
		return replay, nil
	}

	stage = StageCommitted
	s.committed(ctx, written, remains)
	s.log.Info("order consumed", "order_id", orderID, "materials", len(written))
	return written, nil
}

// resolve собирает потребность по всем позициям и топпингам, суммируя по материалу.
func (s *Service) resolve(ctx context.Context, items []LineItem) ([]recipes.Requirement, error) {
	var all []recipes.Requirement
	for _, it := range items {
		if it.Quantity <= 0 {
			return nil, ErrInvalidQuantity
		}
		reqs, err := s.resolver.Resolve(ctx, it.ProductID, it.SizeID, it.Quantity)
		if err != nil {
			return nil, fmt.Errorf("product %d: %w", it.ProductID, err)
		}
		all = append(all, reqs...)

		for _, tp := range it.Toppings {
			if tp.Quantity <= 0 {
				return nil, ErrInvalidQuantity
			}
			reqs, err := s.resolver.Resolve(ctx, tp.ProductID, nil, tp.Quantity*it.Quantity)
			if err != nil {
				return nil, fmt.Errorf("topping %d: %w", tp.ProductID, err)
			}
			all = append(all, reqs...)
		}
	}
	return recipes.Merge(all), nil
}
