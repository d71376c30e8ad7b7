package recipes

import (
	"context"
	"errors"
	"sort"

	"github.com/shopspring/decimal"
)

var (
	ErrRecipeNotFound  = errors.New("recipes: recipe not found")
	ErrInvalidQuantity = errors.New("recipes: quantity must be > 0")
)

// Source отдаёт рецепт продукта или ErrRecipeNotFound.
type Source interface {
	Recipe(ctx context.Context, productID int64) (*Recipe, error)
}

// Consumption считает (base + size extra) * quantity по каждой строке.
// Добавка за размер учитывается только для мультиразмерных продуктов.
func (r *Recipe) Consumption(sizeID *int64, quantity int) []Requirement {
	q := decimal.NewFromInt(int64(quantity))
	out := make([]Requirement, 0, len(r.Lines))
	for _, l := range r.Lines {
		amount := l.BaseAmount
		if r.MultiSize && sizeID != nil {
			if extra, ok := l.SizeExtra[*sizeID]; ok {
				amount = amount.Add(extra)
			}
		}
		out = append(out, Requirement{MaterialID: l.MaterialID, Amount: amount.Mul(q)})
	}
	return out
}

type Resolver struct{ src Source }

func NewResolver(src Source) *Resolver { return &Resolver{src: src} }

func (r *Resolver) Resolve(ctx context.Context, productID int64, sizeID *int64, quantity int) ([]Requirement, error) {
	if quantity <= 0 {
		return nil, ErrInvalidQuantity
	}
	rec, err := r.src.Recipe(ctx, productID)
	if err != nil {
		return nil, err
	}
	return rec.Consumption(sizeID, quantity), nil
}

// Merge суммирует потребности по материалу; нулевые отбрасываются.
// Результат отсортирован по MaterialID — в этом порядке берутся блокировки.
func Merge(reqs []Requirement) []Requirement {
	byMaterial := make(map[int64]decimal.Decimal, len(reqs))
	for _, r := range reqs {
		byMaterial[r.MaterialID] = byMaterial[r.MaterialID].Add(r.Amount)
	}
	out := make([]Requirement, 0, len(byMaterial))
	for id, amount := range byMaterial {
		if !amount.IsPositive() {
			continue
		}
		out = append(out, Requirement{MaterialID: id, Amount: amount})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].MaterialID < out[j].MaterialID })
	return out
}
