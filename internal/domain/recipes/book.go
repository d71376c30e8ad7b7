package recipes

import "context"

var _ Source = (*Book)(nil)

// Book — уже загруженные рецепты, индекс по продукту. Только чтение.
type Book struct {
	recipes map[int64]*Recipe
}

func NewBook(rs ...Recipe) *Book {
	b := &Book{recipes: make(map[int64]*Recipe, len(rs))}
	for i := range rs {
		r := rs[i]
		b.recipes[r.ProductID] = &r
	}
	return b
}

func (b *Book) Recipe(_ context.Context, productID int64) (*Recipe, error) {
	r, ok := b.recipes[productID]
	if !ok {
		return nil, ErrRecipeNotFound
	}
	return r, nil
}
