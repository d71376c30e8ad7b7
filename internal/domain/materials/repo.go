package materials

import (
	"context"
	"errors"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Catalog — справочник материалов только на чтение.
type Catalog interface {
	GetByID(ctx context.Context, id int64) (*Material, error)
	List(ctx context.Context, onlyActive bool) ([]Material, error)
}

// Directory — справочник для операторов: поиск и единицы измерения.
type Directory interface {
	Catalog
	SearchByName(ctx context.Context, q string, onlyActive bool) ([]Material, error)
	ListUnits(ctx context.Context) ([]Unit, error)
}

var _ Directory = (*Repo)(nil)

type Repo struct{ pool *pgxpool.Pool }

func NewRepo(pool *pgxpool.Pool) *Repo { return &Repo{pool: pool} }

const selectMaterial = `
	SELECT m.id, m.name, m.code, m.unit_id, u.id, u.name, u.symbol, u.class,
	       m.remain, m.version, m.active, m.created_at
	FROM materials m
	JOIN units u ON u.id = m.unit_id
`

func scanMaterial(row pgx.Row) (Material, error) {
	var m Material
	err := row.Scan(
		&m.ID,
		&m.Name,
		&m.Code,
		&m.UnitID,
		&m.Unit.ID,
		&m.Unit.Name,
		&m.Unit.Symbol,
		&m.Unit.Class,
		&m.Remain,
		&m.Version,
		&m.Active,
		&m.CreatedAt,
	)
	return m, err
}

// GetByID возвращает (nil, nil), если материала нет.
func (r *Repo) GetByID(ctx context.Context, id int64) (*Material, error) {
	m, err := scanMaterial(r.pool.QueryRow(ctx, selectMaterial+` WHERE m.id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &m, nil
}

func (r *Repo) List(ctx context.Context, onlyActive bool) ([]Material, error) {
	q := selectMaterial
	if onlyActive {
		q += " WHERE m.active = TRUE"
	}
	q += " ORDER BY m.name"
	return r.query(ctx, q)
}

// SearchByName ищет материалы по части названия или кода, без учёта регистра.
func (r *Repo) SearchByName(ctx context.Context, q string, onlyActive bool) ([]Material, error) {
	q = strings.TrimSpace(q)
	if q == "" {
		return nil, nil
	}
	like := "%" + strings.ToLower(q) + "%"

	sql := selectMaterial + ` WHERE (LOWER(m.name) LIKE $1 OR LOWER(m.code) LIKE $1)`
	if onlyActive {
		sql += ` AND m.active = TRUE`
	}
	sql += ` ORDER BY m.name`
	return r.query(ctx, sql, like)
}

func (r *Repo) ListUnits(ctx context.Context) ([]Unit, error) {
	rows, err := r.pool.Query(ctx, `SELECT id, name, symbol, class FROM units ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Unit
	for rows.Next() {
		var u Unit
		if err := rows.Scan(&u.ID, &u.Name, &u.Symbol, &u.Class); err != nil {
			return nil, err
		}
		out = append(out, u)
	}
	return out, rows.Err()
}

func (r *Repo) query(ctx context.Context, sql string, args ...any) ([]Material, error) {
	rows, err := r.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Material
	for rows.Next() {
		m, err := scanMaterial(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}
