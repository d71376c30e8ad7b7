package inventory

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/Spok95/coffee-stock/internal/domain/ledger"
	"github.com/Spok95/coffee-stock/internal/domain/recipes"
	"github.com/shopspring/decimal"
)

func TestConsumeForOrder_Simple(t *testing.T) {
	f := newFixture(map[int64]string{milkID: "1000", beansID: "500", cupID: "50"})

	evs, err := f.svc.ConsumeForOrder(context.Background(), 1, []LineItem{{ProductID: latteID, Quantity: 2}})
	if err != nil {
		t.Fatalf("consume: %v", err)
	}
	if len(evs) != 3 {
		t.Fatalf("expected one event per material, got %d", len(evs))
	}
	milk := f.events(milkID, ledger.KindConsumption)
	if len(milk) != 1 || !milk[0].Quantity.Equal(dec("300")) {
		t.Fatalf("expected one milk event of 300, got %+v", milk)
	}
	if *milk[0].OrderID != 1 || !milk[0].Date.Equal(day(0)) {
		t.Errorf("unexpected event attributes: %+v", milk[0])
	}
	if got := f.remain(milkID); !got.Equal(dec("700")) {
		t.Errorf("milk remain: expected 700, got %s", got)
	}
	if got := f.remain(beansID); !got.Equal(dec("464")) {
		t.Errorf("beans remain: expected 464, got %s", got)
	}
	if f.pub.count() != 3 {
		t.Errorf("expected 3 published events, got %d", f.pub.count())
	}
}

func TestConsumeForOrder_SizeOverride(t *testing.T) {
	f := newFixture(map[int64]string{milkID: "1000", beansID: "500", cupID: "50"})

	_, err := f.svc.ConsumeForOrder(context.Background(), 2, []LineItem{{ProductID: latteID, SizeID: ptr(sizeLarge), Quantity: 1}})
	if err != nil {
		t.Fatalf("consume: %v", err)
	}
	if got := f.remain(milkID); !got.Equal(dec("800")) {
		t.Errorf("large latte should use 200ml, remain %s", got)
	}
}

func TestConsumeForOrder_MergesRepeatedMaterials(t *testing.T) {
	f := newFixture(map[int64]string{milkID: "1000", beansID: "500", cupID: "50", syrupID: "100"})

	evs, err := f.svc.ConsumeForOrder(context.Background(), 3, []LineItem{
		{ProductID: latteID, Quantity: 1, Toppings: []ToppingSelection{{ProductID: vanillaID, Quantity: 2}}},
		{ProductID: espressoID, Quantity: 2},
		{ProductID: latteID, Quantity: 1},
	})
	if err != nil {
		t.Fatalf("consume: %v", err)
	}
	if len(evs) != 4 {
		t.Fatalf("expected 4 events, got %d", len(evs))
	}
	want := map[int64]string{milkID: "700", beansID: "446", cupID: "46", syrupID: "80"}
	for id, w := range want {
		if got := f.remain(id); !got.Equal(dec(w)) {
			t.Errorf("material %d: expected remain %s, got %s", id, w, got)
		}
	}
	if n := len(f.events(beansID, ledger.KindConsumption)); n != 1 {
		t.Errorf("beans: expected a single merged event, got %d", n)
	}
}

func TestConsumeForOrder_AllOrNothing(t *testing.T) {
	f := newFixture(map[int64]string{milkID: "1000", beansID: "10", cupID: "50"})

	_, err := f.svc.ConsumeForOrder(context.Background(), 4, []LineItem{{ProductID: latteID, Quantity: 1}})
	var ime *InsufficientMaterialError
	if !errors.As(err, &ime) || !errors.Is(err, ErrInsufficientMaterial) {
		t.Fatalf("expected InsufficientMaterialError, got %v", err)
	}
	if ime.MaterialID != beansID {
		t.Errorf("expected beans to be reported, got material %d", ime.MaterialID)
	}
	if got := f.remain(milkID); !got.Equal(dec("1000")) {
		t.Errorf("milk must stay untouched, got %s", got)
	}
	if n := len(f.events(milkID, ledger.KindConsumption)); n != 0 {
		t.Errorf("expected no milk events, got %d", n)
	}
	if f.pub.count() != 0 {
		t.Errorf("nothing should be published on rejection")
	}
}

func TestConsumeForOrder_IdempotentReplay(t *testing.T) {
	f := newFixture(map[int64]string{milkID: "1000", beansID: "500", cupID: "50"})
	ctx := context.Background()
	items := []LineItem{{ProductID: latteID, Quantity: 1}}

	first, err := f.svc.ConsumeForOrder(ctx, 5, items)
	if err != nil {
		t.Fatalf("first: %v", err)
	}
	second, err := f.svc.ConsumeForOrder(ctx, 5, items)
	if err != nil {
		t.Fatalf("second: %v", err)
	}
	if len(first) != len(second) {
		t.Fatalf("replay returned %d events, want %d", len(second), len(first))
	}
	for i := range first {
		if first[i].ID != second[i].ID {
			t.Errorf("event %d: replay returned a new event", i)
		}
	}
	if got := f.remain(milkID); !got.Equal(dec("850")) {
		t.Errorf("milk consumed twice: remain %s", got)
	}
}

func TestConsumeForOrder_RaceSafety(t *testing.T) {
	f := newFixture(map[int64]string{milkID: "450", beansID: "500", cupID: "50"})

	var (
		wg   sync.WaitGroup
		errs = make([]error, 2)
	)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = f.svc.ConsumeForOrder(context.Background(), int64(100+i), []LineItem{{ProductID: latteID, Quantity: 2}})
		}(i)
	}
	wg.Wait()

	ok, rejected := 0, 0
	for _, err := range errs {
		switch {
		case err == nil:
			ok++
		case errors.Is(err, ErrInsufficientMaterial):
			rejected++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if ok != 1 || rejected != 1 {
		t.Fatalf("expected one success and one rejection, got %d/%d", ok, rejected)
	}
	if got := f.remain(milkID); !got.Equal(dec("150")) {
		t.Errorf("milk remain: expected 150, got %s", got)
	}
}

func TestConsumeForOrder_Busy(t *testing.T) {
	f := newFixture(map[int64]string{milkID: "1000", beansID: "500", cupID: "50"})

	locked := make(chan struct{})
	release := make(chan struct{})
	done := make(chan error, 1)
	go func() {
		done <- f.store.Update(context.Background(), []int64{beansID}, func(context.Context, ledger.Tx) error {
			close(locked)
			<-release
			return nil
		})
	}()
	<-locked

	_, err := f.svc.ConsumeForOrder(context.Background(), 6, []LineItem{{ProductID: latteID, Quantity: 1}})
	close(release)
	if err := <-done; err != nil {
		t.Fatalf("holder: %v", err)
	}
	if !errors.Is(err, ErrBusy) {
		t.Fatalf("expected ErrBusy, got %v", err)
	}
	if got := f.remain(milkID); !got.Equal(dec("1000")) {
		t.Errorf("milk must stay untouched, got %s", got)
	}

	// повтор целиком после освобождения проходит
	if _, err := f.svc.ConsumeForOrder(context.Background(), 6, []LineItem{{ProductID: latteID, Quantity: 1}}); err != nil {
		t.Fatalf("retry: %v", err)
	}
}

func TestConsumeForOrder_Errors(t *testing.T) {
	f := newFixture(map[int64]string{milkID: "1000", beansID: "500", cupID: "50"})
	ctx := context.Background()

	tests := []struct {
		name    string
		orderID int64
		items   []LineItem
		want    error
	}{
		{"no items", 1, nil, ErrInvalidOrder},
		{"bad order id", 0, []LineItem{{ProductID: latteID, Quantity: 1}}, ErrInvalidOrder},
		{"zero quantity", 1, []LineItem{{ProductID: latteID, Quantity: 0}}, ErrInvalidQuantity},
		{"zero topping", 1, []LineItem{{ProductID: latteID, Quantity: 1, Toppings: []ToppingSelection{{ProductID: vanillaID}}}}, ErrInvalidQuantity},
		{"unknown recipe", 1, []LineItem{{ProductID: latteID, Quantity: 1}, {ProductID: 999, Quantity: 1}}, ErrRecipeNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := f.svc.ConsumeForOrder(ctx, tt.orderID, tt.items); !errors.Is(err, tt.want) {
				t.Fatalf("expected %v, got %v", tt.want, err)
			}
		})
	}
	if got := f.remain(milkID); !got.Equal(dec("1000")) {
		t.Errorf("failed orders must not consume, remain %s", got)
	}
}

func TestConsumeForOrder_ZeroLineRecipe(t *testing.T) {
	f := newFixture(nil)

	evs, err := f.svc.ConsumeForOrder(context.Background(), 9, []LineItem{{ProductID: waterID, Quantity: 3}})
	if err != nil {
		t.Fatalf("consume: %v", err)
	}
	if len(evs) != 0 {
		t.Errorf("expected no events, got %d", len(evs))
	}
}

func TestConsumeForOrder_SameOrderDisjointMaterials(t *testing.T) {
	f := newFixture(map[int64]string{beansID: "500", cupID: "50", syrupID: "100"})
	ctx := context.Background()

	// первая попытка заказа 77 пишет только сироп и держит транзакцию
	locked := make(chan struct{})
	release := make(chan struct{})
	done := make(chan error, 1)
	go func() {
		done <- f.store.Update(ctx, []int64{syrupID}, func(ctx context.Context, tx ledger.Tx) error {
			if _, err := tx.Adjust(ctx, syrupID, dec("-10")); err != nil {
				return err
			}
			if _, err := tx.Append(ctx, ledger.Event{Kind: ledger.KindConsumption, MaterialID: syrupID, Date: day(0), Quantity: dec("10"), OrderID: ptr(77)}); err != nil {
				return err
			}
			close(locked)
			<-release
			return nil
		}, ledger.LockOrder(77))
	}()
	<-locked

	_, err := f.svc.ConsumeForOrder(ctx, 77, []LineItem{{ProductID: espressoID, Quantity: 1}})
	if !errors.Is(err, ErrBusy) {
		t.Fatalf("expected ErrBusy while the same order is in flight, got %v", err)
	}

	close(release)
	if err := <-done; err != nil {
		t.Fatalf("holder: %v", err)
	}

	evs, err := f.svc.ConsumeForOrder(ctx, 77, []LineItem{{ProductID: espressoID, Quantity: 1}})
	if err != nil {
		t.Fatalf("retry: %v", err)
	}
	if len(evs) != 1 || evs[0].MaterialID != syrupID {
		t.Fatalf("expected the already recorded syrup event, got %+v", evs)
	}
	if got := f.remain(beansID); !got.Equal(dec("500")) {
		t.Errorf("beans must stay untouched, got %s", got)
	}
}

// rejectingTx отказывает в Adjust так же, как Postgres: без текущего остатка.
type rejectingTx struct {
	ledger.Tx
	materialID int64
}

func (t rejectingTx) Adjust(ctx context.Context, materialID int64, delta decimal.Decimal) (decimal.Decimal, error) {
	if materialID == t.materialID {
		return decimal.Zero, ledger.ErrNegativeRemain
	}
	return t.Tx.Adjust(ctx, materialID, delta)
}

type rejectingStore struct {
	*ledger.MemStore
	materialID int64
}

func (s rejectingStore) Update(ctx context.Context, ids []int64, fn func(ctx context.Context, tx ledger.Tx) error, opts ...ledger.UpdateOption) error {
	return s.MemStore.Update(ctx, ids, func(ctx context.Context, tx ledger.Tx) error {
		return fn(ctx, rejectingTx{Tx: tx, materialID: s.materialID})
	}, opts...)
}

func TestConsumeForOrder_RejectedAdjustReportsRemain(t *testing.T) {
	store := ledger.NewMemStore(200 * time.Millisecond)
	store.AddMaterial(beansID, dec("500"))
	store.AddMaterial(cupID, dec("40"))
	svc := NewService(
		slog.New(slog.NewTextHandler(io.Discard, nil)),
		rejectingStore{MemStore: store, materialID: cupID},
		recipes.NewResolver(testRecipes()),
		testCatalog(),
		WithLocation(time.UTC),
		WithClock(func() time.Time { return testNow }),
	)

	_, err := svc.ConsumeForOrder(context.Background(), 5, []LineItem{{ProductID: espressoID, Quantity: 1}})
	var ime *InsufficientMaterialError
	if !errors.As(err, &ime) {
		t.Fatalf("expected InsufficientMaterialError, got %v", err)
	}
	if ime.MaterialID != cupID || !ime.Remain.Equal(dec("40")) {
		t.Errorf("expected cup remain 40 in the error, got material %d remain %s", ime.MaterialID, ime.Remain)
	}
	if got, _ := store.Remain(context.Background(), beansID); !got.Equal(dec("500")) {
		t.Errorf("beans must roll back, got %s", got)
	}
}
