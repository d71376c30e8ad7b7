package inventory

import (
	"errors"
	"fmt"

	"github.com/Spok95/coffee-stock/internal/domain/ledger"
	"github.com/Spok95/coffee-stock/internal/domain/recipes"
	"github.com/shopspring/decimal"
)

var (
	ErrInsufficientMaterial  = errors.New("inventory: insufficient material")
	ErrInsufficientStock     = errors.New("inventory: contracting exceeds available stock")
	ErrExceedsAccountable    = errors.New("inventory: waste exceeds accountable quantity")
	ErrMaterialHasNoBaseline = errors.New("inventory: material has no remain snapshot for date")
	ErrInvalidQuantity       = errors.New("inventory: quantity must be > 0")
	ErrInvalidOrder          = errors.New("inventory: invalid order")
	ErrReasonRequired        = errors.New("inventory: reason is required")
	ErrUnknownStaff          = errors.New("inventory: unknown staff")
)

// Ошибки нижних слоёв, которые видит вызывающий код.
var (
	ErrRecipeNotFound    = recipes.ErrRecipeNotFound
	ErrBusy              = ledger.ErrBusy
	ErrLedgerWriteFailed = ledger.ErrWriteFailed
	ErrUnknownMaterial   = ledger.ErrUnknownMaterial
)

type InsufficientMaterialError struct {
	MaterialID int64
	Required   decimal.Decimal
	Remain     decimal.Decimal
}

func (e *InsufficientMaterialError) Error() string {
	return fmt.Sprintf("inventory: insufficient material %d: required %s, remain %s", e.MaterialID, e.Required, e.Remain)
}

func (e *InsufficientMaterialError) Is(target error) bool { return target == ErrInsufficientMaterial }

type InsufficientStockError struct {
	MaterialID int64
	Requested  decimal.Decimal
	Available  decimal.Decimal
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("inventory: contracting %s of material %d exceeds available %s", e.Requested, e.MaterialID, e.Available)
}

func (e *InsufficientStockError) Is(target error) bool { return target == ErrInsufficientStock }

type ExceedsAccountableError struct {
	MaterialID  int64
	Quantity    decimal.Decimal
	Accountable decimal.Decimal
}

func (e *ExceedsAccountableError) Error() string {
	return fmt.Sprintf("inventory: waste %s of material %d is not below accountable %s", e.Quantity, e.MaterialID, e.Accountable)
}

func (e *ExceedsAccountableError) Is(target error) bool { return target == ErrExceedsAccountable }

// outcome — метка результата операции для метрик и спанов.
func outcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrBusy):
		return "busy"
	case errors.Is(err, ErrInsufficientMaterial),
		errors.Is(err, ErrInsufficientStock),
		errors.Is(err, ErrExceedsAccountable),
		errors.Is(err, ErrMaterialHasNoBaseline):
		return "rejected"
	case errors.Is(err, ErrRecipeNotFound),
		errors.Is(err, ErrInvalidQuantity),
		errors.Is(err, recipes.ErrInvalidQuantity),
		errors.Is(err, ErrInvalidOrder),
		errors.Is(err, ErrReasonRequired),
		errors.Is(err, ErrUnknownStaff),
		errors.Is(err, ErrUnknownMaterial):
		return "invalid"
	default:
		return "error"
	}
}
