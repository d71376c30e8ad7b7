package inventory

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/Spok95/coffee-stock/internal/domain/ledger"
	"github.com/Spok95/coffee-stock/internal/domain/materials"
	"github.com/Spok95/coffee-stock/internal/domain/recipes"
	"github.com/Spok95/coffee-stock/internal/domain/staff"
	"github.com/shopspring/decimal"
)

const (
	milkID  int64 = 1
	beansID int64 = 2
	cupID   int64 = 3
	syrupID int64 = 4

	latteID    int64 = 10
	espressoID int64 = 11
	waterID    int64 = 12
	vanillaID  int64 = 13

	sizeLarge int64 = 100

	baristaID int64 = 7
	formerID  int64 = 8
)

var testNow = time.Date(2026, 3, 10, 9, 30, 0, 0, time.UTC)

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func day(offset int) time.Time { return ledger.Day(testNow).AddDate(0, 0, offset) }

func testRecipes() *recipes.Book {
	return recipes.NewBook(
		recipes.Recipe{ID: 1, ProductID: latteID, MultiSize: true, Lines: []recipes.Line{
			{ID: 1, MaterialID: milkID, BaseAmount: dec("150"), SizeExtra: map[int64]decimal.Decimal{sizeLarge: dec("50")}},
			{ID: 2, MaterialID: beansID, BaseAmount: dec("18")},
			{ID: 3, MaterialID: cupID, BaseAmount: dec("1")},
		}},
		recipes.Recipe{ID: 2, ProductID: espressoID, Lines: []recipes.Line{
			{ID: 4, MaterialID: beansID, BaseAmount: dec("9")},
			{ID: 5, MaterialID: cupID, BaseAmount: dec("1")},
		}},
		recipes.Recipe{ID: 3, ProductID: waterID},
		recipes.Recipe{ID: 4, ProductID: vanillaID, Lines: []recipes.Line{
			{ID: 6, MaterialID: syrupID, BaseAmount: dec("10")},
		}},
	)
}

func testCatalog() *materials.MemRepo {
	ml := materials.Unit{ID: 1, Name: "millilitre", Symbol: "ml", Class: materials.ClassVolume}
	g := materials.Unit{ID: 2, Name: "gram", Symbol: "g", Class: materials.ClassMass}
	pcs := materials.Unit{ID: 3, Name: "piece", Symbol: "pcs", Class: materials.ClassCount}
	return materials.NewMemRepo(
		materials.Material{ID: milkID, Name: "Milk", Code: "MILK", UnitID: 1, Unit: ml, Active: true},
		materials.Material{ID: beansID, Name: "Beans", Code: "BEANS", UnitID: 2, Unit: g, Active: true},
		materials.Material{ID: cupID, Name: "Cup", Code: "CUP", UnitID: 3, Unit: pcs, Active: true},
		materials.Material{ID: syrupID, Name: "Vanilla syrup", Code: "SYR-VAN", UnitID: 1, Unit: ml, Active: true},
	)
}

type staffMap map[int64]staff.Staff

func (m staffMap) GetByID(_ context.Context, id int64) (*staff.Staff, error) {
	s, ok := m[id]
	if !ok {
		return nil, nil
	}
	return &s, nil
}

type capturePublisher struct {
	mu  sync.Mutex
	evs []ledger.Event
}

func (p *capturePublisher) Publish(_ context.Context, evs []ledger.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.evs = append(p.evs, evs...)
	return nil
}

func (p *capturePublisher) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.evs)
}

type fixture struct {
	store *ledger.MemStore
	pub   *capturePublisher
	svc   *Service
}

// newFixture: все материалы заведены с нулевым остатком, если не указано иное.
func newFixture(remains map[int64]string) *fixture {
	store := ledger.NewMemStore(200 * time.Millisecond)
	for _, id := range []int64{milkID, beansID, cupID, syrupID} {
		v := "0"
		if r, ok := remains[id]; ok {
			v = r
		}
		store.AddMaterial(id, dec(v))
	}
	pub := &capturePublisher{}
	svc := NewService(
		slog.New(slog.NewTextHandler(io.Discard, nil)),
		store,
		recipes.NewResolver(testRecipes()),
		testCatalog(),
		WithStaff(staffMap{
			baristaID: {ID: baristaID, Name: "Barista", Role: staff.RoleBarista, Active: true},
			formerID:  {ID: formerID, Name: "Former", Role: staff.RolePurchaser, Active: false},
		}),
		WithPublisher(pub),
		WithLocation(time.UTC),
		WithClock(func() time.Time { return testNow }),
	)
	return &fixture{store: store, pub: pub, svc: svc}
}

func (f *fixture) remain(id int64) decimal.Decimal {
	v, err := f.store.Remain(context.Background(), id)
	if err != nil {
		panic(err)
	}
	return v
}

func (f *fixture) events(id int64, kind ledger.Kind) []ledger.Event {
	evs, _ := f.store.Events(context.Background(), ledger.Query{MaterialID: id, Kind: kind})
	return evs
}

func ptr(v int64) *int64 { return &v }
