package recipes

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

var _ Source = (*Repo)(nil)

type Repo struct{ pool *pgxpool.Pool }

func NewRepo(pool *pgxpool.Pool) *Repo { return &Repo{pool: pool} }

func (r *Repo) Recipe(ctx context.Context, productID int64) (*Recipe, error) {
	var rec Recipe
	err := r.pool.QueryRow(ctx, `
		SELECT r.id, r.product_id, p.multi_size
		FROM recipes r
		JOIN products p ON p.id = r.product_id
		WHERE r.product_id = $1
	`, productID).Scan(&rec.ID, &rec.ProductID, &rec.MultiSize)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrRecipeNotFound
		}
		return nil, err
	}

	rows, err := r.pool.Query(ctx, `
		SELECT id, material_id, base_amount
		FROM recipe_lines
		WHERE recipe_id = $1
		ORDER BY id
	`, rec.ID)
	if err != nil {
		return nil, err
	}
	index := map[int64]int{}
	for rows.Next() {
		var l Line
		if err := rows.Scan(&l.ID, &l.MaterialID, &l.BaseAmount); err != nil {
			rows.Close()
			return nil, err
		}
		index[l.ID] = len(rec.Lines)
		rec.Lines = append(rec.Lines, l)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	// добавки за размер имеют смысл только для мультиразмерных продуктов
	if !rec.MultiSize || len(rec.Lines) == 0 {
		return &rec, nil
	}
	rows, err = r.pool.Query(ctx, `
		SELECT o.recipe_line_id, o.size_id, o.extra_amount
		FROM recipe_size_overrides o
		JOIN recipe_lines l ON l.id = o.recipe_line_id
		WHERE l.recipe_id = $1
	`, rec.ID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var (
			lineID, sizeID int64
			extra          decimal.Decimal
		)
		if err := rows.Scan(&lineID, &sizeID, &extra); err != nil {
			return nil, err
		}
		i, ok := index[lineID]
		if !ok {
			continue
		}
		if rec.Lines[i].SizeExtra == nil {
			rec.Lines[i].SizeExtra = map[int64]decimal.Decimal{}
		}
		rec.Lines[i].SizeExtra[sizeID] = extra
	}
	return &rec, rows.Err()
}
