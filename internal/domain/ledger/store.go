package ledger

import (
	"context"
	"errors"
	"sort"
	"time"

	"github.com/shopspring/decimal"
)

var (
	ErrBusy                 = errors.New("ledger: material is busy, retry the whole operation")
	ErrWriteFailed          = errors.New("ledger: write failed")
	ErrNegativeRemain       = errors.New("ledger: remain would become negative")
	ErrUnknownMaterial      = errors.New("ledger: unknown material")
	ErrNotLocked            = errors.New("ledger: material is not locked by this transaction")
	ErrDuplicateConsumption = errors.New("ledger: consumption already recorded for order and material")
	ErrInvalidEvent         = errors.New("ledger: invalid event")
)

// Reader — чтение журнала и кэша остатков. Внутри Tx видит ещё не
// закоммиченные записи этой же транзакции.
type Reader interface {
	Remain(ctx context.Context, materialID int64) (decimal.Decimal, error)
	Events(ctx context.Context, q Query) ([]Event, error)
	Sum(ctx context.Context, q Query) (decimal.Decimal, error)
	OrderConsumptions(ctx context.Context, orderID int64) ([]Event, error)
	// Snapshot возвращает (nil, nil), если снимка за дату нет.
	Snapshot(ctx context.Context, materialID int64, date time.Time) (*Snapshot, error)
	LatestSnapshot(ctx context.Context, materialID int64, onOrBefore time.Time) (*Snapshot, error)
	MaterialsWith(ctx context.Context, kind Kind, date time.Time) ([]int64, error)
}

// Tx — единица работы над заблокированными материалами.
type Tx interface {
	Reader
	Append(ctx context.Context, ev Event) (Event, error)
	// Adjust меняет кэш остатка на delta; результат не может быть < 0.
	Adjust(ctx context.Context, materialID int64, delta decimal.Decimal) (decimal.Decimal, error)
	SetRemain(ctx context.Context, materialID int64, remain decimal.Decimal) error
	PutSnapshot(ctx context.Context, s Snapshot) error
}

// Store — единственный путь записи в журнал. Update блокирует материалы
// в порядке возрастания id и применяет все записи fn целиком или никак.
type Store interface {
	Reader
	Update(ctx context.Context, materialIDs []int64, fn func(ctx context.Context, tx Tx) error, opts ...UpdateOption) error
}

type updateOptions struct {
	orders []int64
}

type UpdateOption func(*updateOptions)

// LockOrder сериализует транзакции одного заказа, даже если их наборы
// материалов не пересекаются. Блокировка заказа берётся раньше материалов.
func LockOrder(orderID int64) UpdateOption {
	return func(o *updateOptions) { o.orders = append(o.orders, orderID) }
}

func applyOptions(opts []UpdateOption) updateOptions {
	var o updateOptions
	for _, fn := range opts {
		fn(&o)
	}
	o.orders = normalizeIDs(o.orders)
	return o
}

func normalizeIDs(ids []int64) []int64 {
	out := make([]int64, 0, len(ids))
	seen := make(map[int64]struct{}, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func validate(ev Event) error {
	if !ev.Kind.Valid() || ev.MaterialID <= 0 || ev.Date.IsZero() || !ev.Quantity.IsPositive() {
		return ErrInvalidEvent
	}
	if ev.Kind == KindConsumption && ev.OrderID == nil {
		return ErrInvalidEvent
	}
	return nil
}
