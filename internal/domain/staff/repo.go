package staff

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type Repo struct {
	pool *pgxpool.Pool
}

func NewRepo(pool *pgxpool.Pool) *Repo { return &Repo{pool: pool} }

// GetByID возвращает (nil, nil), если сотрудника нет.
func (r *Repo) GetByID(ctx context.Context, id int64) (*Staff, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT id, name, role, active, created_at
		FROM staff WHERE id = $1
	`, id)

	var s Staff
	if err := row.Scan(&s.ID, &s.Name, &s.Role, &s.Active, &s.CreatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &s, nil
}

