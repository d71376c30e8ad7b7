package ledger

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

const defaultLockTimeout = 2 * time.Second

// Compile-time contract assertion.
var _ Store = (*MemStore)(nil)

// MemStore — журнал в памяти процесса. Блокировки материалов живут только
// внутри одного процесса, поэтому в проде используется Repo (Postgres).
type MemStore struct {
	mu          sync.RWMutex
	locks       map[int64]chan struct{}
	orderLocks  map[int64]chan struct{}
	remain      map[int64]decimal.Decimal
	events      []Event
	snapshots   map[snapKey]Snapshot
	lockTimeout time.Duration
	now         func() time.Time
}

type snapKey struct {
	materialID int64
	day        int64
}

func keyOf(materialID int64, date time.Time) snapKey {
	return snapKey{materialID: materialID, day: Day(date).Unix()}
}

func NewMemStore(lockTimeout time.Duration) *MemStore {
	if lockTimeout <= 0 {
		lockTimeout = defaultLockTimeout
	}
	return &MemStore{
		locks:       make(map[int64]chan struct{}),
		orderLocks:  make(map[int64]chan struct{}),
		remain:      make(map[int64]decimal.Decimal),
		snapshots:   make(map[snapKey]Snapshot),
		lockTimeout: lockTimeout,
		now:         time.Now,
	}
}

// AddMaterial регистрирует материал с начальным кэшем остатка.
func (s *MemStore) AddMaterial(id int64, remain decimal.Decimal) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.locks[id]; !ok {
		s.locks[id] = make(chan struct{}, 1)
	}
	s.remain[id] = remain
}

// Seed дописывает историю как есть, не трогая кэш остатков (фикстуры, перенос данных).
func (s *MemStore) Seed(evs ...Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, ev := range evs {
		if ev.ID == uuid.Nil {
			ev.ID = uuid.New()
		}
		if ev.CreatedAt.IsZero() {
			ev.CreatedAt = s.now()
		}
		ev.Date = Day(ev.Date)
		s.events = append(s.events, ev)
	}
}

func (s *MemStore) SeedSnapshot(sn Snapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sn.Date = Day(sn.Date)
	if sn.UpdatedAt.IsZero() {
		sn.UpdatedAt = s.now()
	}
	s.snapshots[keyOf(sn.MaterialID, sn.Date)] = sn
}

func (s *MemStore) Remain(_ context.Context, materialID int64) (decimal.Decimal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.remain[materialID]
	if !ok {
		return decimal.Zero, ErrUnknownMaterial
	}
	return v, nil
}

func (s *MemStore) Events(_ context.Context, q Query) ([]Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return eventsMatching(q, s.events), nil
}

func (s *MemStore) Sum(_ context.Context, q Query) (decimal.Decimal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return sumOf(eventsMatching(q, s.events)), nil
}

func (s *MemStore) OrderConsumptions(_ context.Context, orderID int64) ([]Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return consumptionsFor(orderID, s.events), nil
}

func (s *MemStore) Snapshot(_ context.Context, materialID int64, date time.Time) (*Snapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if sn, ok := s.snapshots[keyOf(materialID, date)]; ok {
		return &sn, nil
	}
	return nil, nil
}

func (s *MemStore) LatestSnapshot(_ context.Context, materialID int64, onOrBefore time.Time) (*Snapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return latestSnapshot(materialID, onOrBefore, s.snapshots), nil
}

func (s *MemStore) MaterialsWith(_ context.Context, kind Kind, date time.Time) ([]int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return materialsWith(kind, date, s.events), nil
}

func (s *MemStore) Update(ctx context.Context, materialIDs []int64, fn func(ctx context.Context, tx Tx) error, opts ...UpdateOption) error {
	ids := normalizeIDs(materialIDs)
	o := applyOptions(opts)
	release, err := s.acquire(ctx, o.orders, ids)
	if err != nil {
		return err
	}
	defer release()

	tx := &memTx{
		s:         s,
		locked:    make(map[int64]struct{}, len(ids)),
		remain:    make(map[int64]decimal.Decimal),
		snapshots: make(map[snapKey]Snapshot),
	}
	for _, id := range ids {
		tx.locked[id] = struct{}{}
	}
	if err := fn(ctx, tx); err != nil {
		return err
	}
	s.commit(tx)
	return nil
}

// acquire берёт сначала блокировки заказов, затем материалов, всё по
// возрастанию id; при таймауте отпускает уже взятые.
func (s *MemStore) acquire(ctx context.Context, orders, ids []int64) (func(), error) {
	chans := make([]chan struct{}, 0, len(orders)+len(ids))
	s.mu.Lock()
	for _, id := range ids {
		if _, ok := s.locks[id]; !ok {
			s.mu.Unlock()
			return nil, ErrUnknownMaterial
		}
	}
	for _, id := range orders {
		ch, ok := s.orderLocks[id]
		if !ok {
			ch = make(chan struct{}, 1)
			s.orderLocks[id] = ch
		}
		chans = append(chans, ch)
	}
	for _, id := range ids {
		chans = append(chans, s.locks[id])
	}
	s.mu.Unlock()

	held := 0
	release := func() {
		for i := held - 1; i >= 0; i-- {
			<-chans[i]
		}
	}

	timer := time.NewTimer(s.lockTimeout)
	defer timer.Stop()
	for _, ch := range chans {
		select {
		case ch <- struct{}{}:
			held++
		case <-timer.C:
			release()
			return nil, ErrBusy
		case <-ctx.Done():
			release()
			return nil, ctx.Err()
		}
	}
	return release, nil
}

func (s *MemStore) commit(tx *memTx) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, v := range tx.remain {
		s.remain[id] = v
	}
	s.events = append(s.events, tx.events...)
	for k, sn := range tx.snapshots {
		s.snapshots[k] = sn
	}
}

type memTx struct {
	s         *MemStore
	locked    map[int64]struct{}
	remain    map[int64]decimal.Decimal
	events    []Event
	snapshots map[snapKey]Snapshot
}

func (tx *memTx) checkLocked(materialID int64) error {
	if _, ok := tx.locked[materialID]; !ok {
		return ErrNotLocked
	}
	return nil
}

func (tx *memTx) Remain(ctx context.Context, materialID int64) (decimal.Decimal, error) {
	if v, ok := tx.remain[materialID]; ok {
		return v, nil
	}
	return tx.s.Remain(ctx, materialID)
}

func (tx *memTx) Events(_ context.Context, q Query) ([]Event, error) {
	tx.s.mu.RLock()
	defer tx.s.mu.RUnlock()
	return eventsMatching(q, tx.s.events, tx.events), nil
}

func (tx *memTx) Sum(_ context.Context, q Query) (decimal.Decimal, error) {
	tx.s.mu.RLock()
	defer tx.s.mu.RUnlock()
	return sumOf(eventsMatching(q, tx.s.events, tx.events)), nil
}

func (tx *memTx) OrderConsumptions(_ context.Context, orderID int64) ([]Event, error) {
	tx.s.mu.RLock()
	defer tx.s.mu.RUnlock()
	return consumptionsFor(orderID, tx.s.events, tx.events), nil
}

func (tx *memTx) Snapshot(ctx context.Context, materialID int64, date time.Time) (*Snapshot, error) {
	if sn, ok := tx.snapshots[keyOf(materialID, date)]; ok {
		return &sn, nil
	}
	return tx.s.Snapshot(ctx, materialID, date)
}

func (tx *memTx) LatestSnapshot(_ context.Context, materialID int64, onOrBefore time.Time) (*Snapshot, error) {
	tx.s.mu.RLock()
	defer tx.s.mu.RUnlock()
	return latestSnapshot(materialID, onOrBefore, tx.s.snapshots, tx.snapshots), nil
}

func (tx *memTx) MaterialsWith(_ context.Context, kind Kind, date time.Time) ([]int64, error) {
	tx.s.mu.RLock()
	defer tx.s.mu.RUnlock()
	return materialsWith(kind, date, tx.s.events, tx.events), nil
}

func (tx *memTx) Append(ctx context.Context, ev Event) (Event, error) {
	if err := validate(ev); err != nil {
		return Event{}, err
	}
	if err := tx.checkLocked(ev.MaterialID); err != nil {
		return Event{}, err
	}
	if ev.Kind == KindConsumption {
		existing, _ := tx.OrderConsumptions(ctx, *ev.OrderID)
		for _, e := range existing {
			if e.MaterialID == ev.MaterialID {
				return Event{}, ErrDuplicateConsumption
			}
		}
	}
	if ev.ID == uuid.Nil {
		ev.ID = uuid.New()
	}
	ev.Date = Day(ev.Date)
	ev.CreatedAt = tx.s.now()
	tx.events = append(tx.events, ev)
	return ev, nil
}

func (tx *memTx) Adjust(ctx context.Context, materialID int64, delta decimal.Decimal) (decimal.Decimal, error) {
	if err := tx.checkLocked(materialID); err != nil {
		return decimal.Zero, err
	}
	cur, err := tx.Remain(ctx, materialID)
	if err != nil {
		return decimal.Zero, err
	}
	next := cur.Add(delta)
	if next.IsNegative() {
		return cur, ErrNegativeRemain
	}
	tx.remain[materialID] = next
	return next, nil
}

func (tx *memTx) SetRemain(_ context.Context, materialID int64, remain decimal.Decimal) error {
	if err := tx.checkLocked(materialID); err != nil {
		return err
	}
	if remain.IsNegative() {
		return ErrNegativeRemain
	}
	tx.remain[materialID] = remain
	return nil
}

func (tx *memTx) PutSnapshot(_ context.Context, sn Snapshot) error {
	if err := tx.checkLocked(sn.MaterialID); err != nil {
		return err
	}
	sn.Date = Day(sn.Date)
	sn.UpdatedAt = tx.s.now()
	tx.snapshots[keyOf(sn.MaterialID, sn.Date)] = sn
	return nil
}

/* helpers over committed + staged sets */

func eventsMatching(q Query, sets ...[]Event) []Event {
	var out []Event
	for _, set := range sets {
		for _, ev := range set {
			if q.match(ev) {
				out = append(out, ev)
			}
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Date.Before(out[j].Date) })
	return out
}

func sumOf(evs []Event) decimal.Decimal {
	total := decimal.Zero
	for _, ev := range evs {
		total = total.Add(ev.Quantity)
	}
	return total
}

func consumptionsFor(orderID int64, sets ...[]Event) []Event {
	var out []Event
	for _, set := range sets {
		for _, ev := range set {
			if ev.Kind == KindConsumption && ev.OrderID != nil && *ev.OrderID == orderID {
				out = append(out, ev)
			}
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].MaterialID < out[j].MaterialID })
	return out
}

func latestSnapshot(materialID int64, onOrBefore time.Time, maps ...map[snapKey]Snapshot) *Snapshot {
	limit := Day(onOrBefore)
	var best *Snapshot
	for _, m := range maps {
		for k, sn := range m {
			if k.materialID != materialID || sn.Date.After(limit) {
				continue
			}
			if best == nil || !sn.Date.Before(best.Date) {
				cp := sn
				best = &cp
			}
		}
	}
	return best
}

func materialsWith(kind Kind, date time.Time, sets ...[]Event) []int64 {
	d := Day(date)
	var ids []int64
	for _, set := range sets {
		for _, ev := range set {
			if ev.Kind == kind && ev.Date.Equal(d) {
				ids = append(ids, ev.MaterialID)
			}
		}
	}
	return normalizeIDs(ids)
}
