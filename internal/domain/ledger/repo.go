package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

var _ Store = (*Repo)(nil)

type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Repo — журнал в Postgres. Сериализация по материалу — через
// SELECT ... FOR UPDATE на строках materials.
type Repo struct {
	reader
	pool        *pgxpool.Pool
	lockTimeout time.Duration
}

func NewRepo(pool *pgxpool.Pool, lockTimeout time.Duration) *Repo {
	if lockTimeout <= 0 {
		lockTimeout = defaultLockTimeout
	}
	return &Repo{reader: reader{q: pool}, pool: pool, lockTimeout: lockTimeout}
}

func (r *Repo) Update(ctx context.Context, materialIDs []int64, fn func(ctx context.Context, tx Tx) error, opts ...UpdateOption) error {
	ids := normalizeIDs(materialIDs)
	o := applyOptions(opts)

	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return classify(err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	// lock_timeout не принимает параметры, поэтому значение подставляется в текст
	if _, err = tx.Exec(ctx, fmt.Sprintf("SET LOCAL lock_timeout = '%dms'", r.lockTimeout.Milliseconds())); err != nil {
		return classify(err)
	}

	// advisory-блокировка заказа снимается вместе с транзакцией
	for _, orderID := range o.orders {
		if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock($1)`, orderID); err != nil {
			return classify(err)
		}
	}

	rows, err := tx.Query(ctx, `
		SELECT id
		FROM materials
		WHERE id = ANY($1)
		ORDER BY id
		FOR UPDATE
	`, ids)
	if err != nil {
		return classify(err)
	}
	locked := make(map[int64]struct{}, len(ids))
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return classify(err)
		}
		locked[id] = struct{}{}
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return classify(err)
	}
	if len(locked) != len(ids) {
		return ErrUnknownMaterial
	}

	if err := fn(ctx, &pgTx{reader: reader{q: tx}, locked: locked}); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return classify(err)
	}
	return nil
}

// classify переводит ошибки хранилища в таксономию журнала.
func classify(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %w", ErrBusy, err)
	}
	if errors.Is(err, context.Canceled) {
		return err
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "55P03", "40P01", "40001": // lock_not_available, deadlock_detected, serialization_failure
			return fmt.Errorf("%w: %w", ErrBusy, err)
		case "23505":
			return ErrDuplicateConsumption
		}
	}
	return fmt.Errorf("%w: %w", ErrWriteFailed, err)
}

type pgTx struct {
	reader
	locked map[int64]struct{}
}

func (t *pgTx) checkLocked(materialID int64) error {
	if _, ok := t.locked[materialID]; !ok {
		return ErrNotLocked
	}
	return nil
}

func (t *pgTx) Append(ctx context.Context, ev Event) (Event, error) {
	if err := validate(ev); err != nil {
		return Event{}, err
	}
	if err := t.checkLocked(ev.MaterialID); err != nil {
		return Event{}, err
	}
	if ev.ID == uuid.Nil {
		ev.ID = uuid.New()
	}
	ev.Date = Day(ev.Date)

	// 23505 по ux_consumption_order_material прерывает всю транзакцию
	row := t.q.QueryRow(ctx, `
		INSERT INTO ledger_events (id, kind, material_id, event_date, quantity, price_per_unit, order_id, staff_id, reason)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
		RETURNING created_at
	`, ev.ID, string(ev.Kind), ev.MaterialID, ev.Date, ev.Quantity, ev.PricePerUnit, ev.OrderID, ev.StaffID, ev.Reason)
	if err := row.Scan(&ev.CreatedAt); err != nil {
		return Event{}, classify(err)
	}
	return ev, nil
}

func (t *pgTx) Adjust(ctx context.Context, materialID int64, delta decimal.Decimal) (decimal.Decimal, error) {
	if err := t.checkLocked(materialID); err != nil {
		return decimal.Zero, err
	}
	// условное изменение: строка не обновится, если остаток уйдёт в минус
	row := t.q.QueryRow(ctx, `
		UPDATE materials
		SET remain = remain + $2::numeric, version = version + 1, updated_at = now()
		WHERE id = $1 AND remain + $2::numeric >= 0
		RETURNING remain
	`, materialID, delta)
	var next decimal.Decimal
	if err := row.Scan(&next); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return decimal.Zero, ErrNegativeRemain
		}
		return decimal.Zero, classify(err)
	}
	return next, nil
}

func (t *pgTx) SetRemain(ctx context.Context, materialID int64, remain decimal.Decimal) error {
	if err := t.checkLocked(materialID); err != nil {
		return err
	}
	if remain.IsNegative() {
		return ErrNegativeRemain
	}
	if _, err := t.q.Exec(ctx, `
		UPDATE materials
		SET remain = $2::numeric, version = version + 1, updated_at = now()
		WHERE id = $1
	`, materialID, remain); err != nil {
		return classify(err)
	}
	return nil
}

func (t *pgTx) PutSnapshot(ctx context.Context, sn Snapshot) error {
	if err := t.checkLocked(sn.MaterialID); err != nil {
		return err
	}
	if _, err := t.q.Exec(ctx, `
		INSERT INTO remain_snapshots (material_id, snapshot_date, actual_remain, actual_consumed)
		VALUES ($1,$2,$3,$4)
		ON CONFLICT (material_id, snapshot_date)
		DO UPDATE SET actual_remain = EXCLUDED.actual_remain,
		              actual_consumed = EXCLUDED.actual_consumed,
		              updated_at = now()
	`, sn.MaterialID, Day(sn.Date), sn.ActualRemain, sn.ActualConsumed); err != nil {
		return classify(err)
	}
	return nil
}

/* reads (pool or tx) */

type reader struct{ q querier }

const eventColumns = `id, kind, material_id, event_date, quantity, price_per_unit, order_id, staff_id, reason, created_at`

func dateArg(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return Day(t)
}

func (r reader) Remain(ctx context.Context, materialID int64) (decimal.Decimal, error) {
	var v decimal.Decimal
	err := r.q.QueryRow(ctx, `SELECT remain FROM materials WHERE id = $1`, materialID).Scan(&v)
	if errors.Is(err, pgx.ErrNoRows) {
		return decimal.Zero, ErrUnknownMaterial
	}
	return v, err
}

func (r reader) Events(ctx context.Context, q Query) ([]Event, error) {
	rows, err := r.q.Query(ctx, `
		SELECT `+eventColumns+`
		FROM ledger_events
		WHERE material_id = $1 AND kind = $2
		  AND ($3::date IS NULL OR event_date >= $3::date)
		  AND ($4::date IS NULL OR event_date <= $4::date)
		ORDER BY event_date, created_at
	`, q.MaterialID, string(q.Kind), dateArg(q.From), dateArg(q.To))
	if err != nil {
		return nil, err
	}
	return scanEvents(rows)
}

func (r reader) Sum(ctx context.Context, q Query) (decimal.Decimal, error) {
	var total decimal.Decimal
	err := r.q.QueryRow(ctx, `
		SELECT COALESCE(SUM(quantity), 0)
		FROM ledger_events
		WHERE material_id = $1 AND kind = $2
		  AND ($3::date IS NULL OR event_date >= $3::date)
		  AND ($4::date IS NULL OR event_date <= $4::date)
	`, q.MaterialID, string(q.Kind), dateArg(q.From), dateArg(q.To)).Scan(&total)
	return total, err
}

func (r reader) OrderConsumptions(ctx context.Context, orderID int64) ([]Event, error) {
	rows, err := r.q.Query(ctx, `
		SELECT `+eventColumns+`
		FROM ledger_events
		WHERE kind = 'consumption' AND order_id = $1
		ORDER BY material_id
	`, orderID)
	if err != nil {
		return nil, err
	}
	return scanEvents(rows)
}

func (r reader) Snapshot(ctx context.Context, materialID int64, date time.Time) (*Snapshot, error) {
	return r.snapshot(ctx, `
		SELECT material_id, snapshot_date, actual_remain, actual_consumed, updated_at
		FROM remain_snapshots
		WHERE material_id = $1 AND snapshot_date = $2
	`, materialID, Day(date))
}

func (r reader) LatestSnapshot(ctx context.Context, materialID int64, onOrBefore time.Time) (*Snapshot, error) {
	return r.snapshot(ctx, `
		SELECT material_id, snapshot_date, actual_remain, actual_consumed, updated_at
		FROM remain_snapshots
		WHERE material_id = $1 AND snapshot_date <= $2
		ORDER BY snapshot_date DESC
		LIMIT 1
	`, materialID, Day(onOrBefore))
}

func (r reader) snapshot(ctx context.Context, sql string, args ...any) (*Snapshot, error) {
	var sn Snapshot
	err := r.q.QueryRow(ctx, sql, args...).Scan(&sn.MaterialID, &sn.Date, &sn.ActualRemain, &sn.ActualConsumed, &sn.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	sn.Date = Day(sn.Date)
	return &sn, nil
}

func (r reader) MaterialsWith(ctx context.Context, kind Kind, date time.Time) ([]int64, error) {
	rows, err := r.q.Query(ctx, `
		SELECT DISTINCT material_id
		FROM ledger_events
		WHERE kind = $1 AND event_date = $2
		ORDER BY material_id
	`, string(kind), Day(date))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

func scanEvents(rows pgx.Rows) ([]Event, error) {
	defer rows.Close()
	var out []Event
	for rows.Next() {
		var (
			ev   Event
			kind string
		)
		if err := rows.Scan(
			&ev.ID,
			&kind,
			&ev.MaterialID,
			&ev.Date,
			&ev.Quantity,
			&ev.PricePerUnit,
			&ev.OrderID,
			&ev.StaffID,
			&ev.Reason,
			&ev.CreatedAt,
		); err != nil {
			return nil, err
		}
		ev.Kind = Kind(kind)
		ev.Date = Day(ev.Date)
		out = append(out, ev)
	}
	return out, rows.Err()
}
