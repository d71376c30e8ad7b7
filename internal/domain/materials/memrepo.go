package materials

import (
	"context"
	"sort"
	"strings"
	"sync"
)

var _ Directory = (*MemRepo)(nil)

// MemRepo — справочник в памяти (тесты, локальный прогон без БД).
type MemRepo struct {
	mu    sync.RWMutex
	items map[int64]Material
}

func NewMemRepo(ms ...Material) *MemRepo {
	r := &MemRepo{items: make(map[int64]Material, len(ms))}
	for _, m := range ms {
		r.items[m.ID] = m
	}
	return r
}

func (r *MemRepo) Put(m Material) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.items[m.ID] = m
}

func (r *MemRepo) GetByID(_ context.Context, id int64) (*Material, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	m, ok := r.items[id]
	if !ok {
		return nil, nil
	}
	return &m, nil
}

func (r *MemRepo) List(_ context.Context, onlyActive bool) ([]Material, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Material, 0, len(r.items))
	for _, m := range r.items {
		if onlyActive && !m.Active {
			continue
		}
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (r *MemRepo) SearchByName(_ context.Context, q string, onlyActive bool) ([]Material, error) {
	q = strings.ToLower(strings.TrimSpace(q))
	if q == "" {
		return nil, nil
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []Material
	for _, m := range r.items {
		if onlyActive && !m.Active {
			continue
		}
		if strings.Contains(strings.ToLower(m.Name), q) || strings.Contains(strings.ToLower(m.Code), q) {
			out = append(out, m)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// ListUnits собирает единицы из заведённых материалов.
func (r *MemRepo) ListUnits(_ context.Context) ([]Unit, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	seen := make(map[int64]struct{})
	var out []Unit
	for _, m := range r.items {
		if _, ok := seen[m.Unit.ID]; ok {
			continue
		}
		seen[m.Unit.ID] = struct{}{}
		out = append(out, m.Unit)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}
