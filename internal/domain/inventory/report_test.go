package inventory

import (
	"context"
	"testing"

	"github.com/Spok95/coffee-stock/internal/domain/ledger"
)

func TestStockReport(t *testing.T) {
	ctx := context.Background()
	f := newFixture(map[int64]string{beansID: "100"})
	f.store.SeedSnapshot(ledger.Snapshot{MaterialID: beansID, Date: day(-1), ActualRemain: dec("100")})
	if _, err := f.svc.CreateContracting(ctx, ContractingRequest{MaterialID: beansID, Quantity: dec("30")}); err != nil {
		t.Fatalf("contracting: %v", err)
	}

	rep, err := f.svc.StockReport(ctx, day(0))
	if err != nil {
		t.Fatalf("report: %v", err)
	}
	if len(rep.Reconciled.Lines) != 1 {
		t.Errorf("report must reconcile the day first, got %+v", rep.Reconciled)
	}
	if len(rep.Lines) != 4 {
		t.Fatalf("expected all active materials, got %d", len(rep.Lines))
	}
	// MemRepo сортирует по названию
	if rep.Lines[0].Material.Name != "Beans" {
		t.Errorf("expected Beans first, got %s", rep.Lines[0].Material.Name)
	}
	if !rep.Lines[0].Remain.Equal(dec("100")) || !rep.Lines[0].Available.Equal(dec("100")) {
		t.Errorf("unexpected beans line: %+v", rep.Lines[0])
	}
}
