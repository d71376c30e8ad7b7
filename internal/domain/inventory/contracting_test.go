package inventory

import (
	"context"
	"errors"
	"testing"

	"github.com/Spok95/coffee-stock/internal/domain/ledger"
)

func TestCreateContracting(t *testing.T) {
	ctx := context.Background()

	t.Run("rejects more than baseline plus same-day importation", func(t *testing.T) {
		f := newFixture(nil)
		if _, err := f.svc.RecordImportation(ctx, ImportationRequest{MaterialID: beansID, Quantity: dec("50"), PricePerUnit: dec("2.5")}); err != nil {
			t.Fatalf("import: %v", err)
		}

		_, err := f.svc.CreateContracting(ctx, ContractingRequest{MaterialID: beansID, Quantity: dec("80")})
		var ise *InsufficientStockError
		if !errors.As(err, &ise) || !errors.Is(err, ErrInsufficientStock) {
			t.Fatalf("expected InsufficientStockError, got %v", err)
		}
		if !ise.Available.Equal(dec("50")) {
			t.Errorf("expected available 50, got %s", ise.Available)
		}
		if n := len(f.events(beansID, ledger.KindContracting)); n != 0 {
			t.Errorf("rejected contracting must not be written, got %d", n)
		}
	})

	t.Run("accepts up to the available total and leaves remain alone", func(t *testing.T) {
		f := newFixture(map[int64]string{beansID: "100"})
		f.store.SeedSnapshot(ledger.Snapshot{MaterialID: beansID, Date: day(-1), ActualRemain: dec("100")})
		if _, err := f.svc.RecordImportation(ctx, ImportationRequest{MaterialID: beansID, Quantity: dec("50")}); err != nil {
			t.Fatalf("import: %v", err)
		}

		ev, err := f.svc.CreateContracting(ctx, ContractingRequest{MaterialID: beansID, Quantity: dec("150"), StaffID: ptr(baristaID)})
		if err != nil {
			t.Fatalf("contracting: %v", err)
		}
		if ev.Kind != ledger.KindContracting || *ev.StaffID != baristaID || !ev.Date.Equal(day(0)) {
			t.Errorf("unexpected event: %+v", ev)
		}
		if got := f.remain(beansID); !got.Equal(dec("150")) {
			t.Errorf("contracting must not change remain, got %s", got)
		}
	})

	t.Run("opening balance is replayed from earlier days without a snapshot", func(t *testing.T) {
		f := newFixture(nil)
		if _, err := f.svc.RecordImportation(ctx, ImportationRequest{MaterialID: beansID, Date: day(-3), Quantity: dec("1000")}); err != nil {
			t.Fatalf("import: %v", err)
		}
		f.store.Seed(ledger.Event{Kind: ledger.KindWaste, MaterialID: beansID, Date: day(-2), Quantity: dec("100"), Reason: "expired"})

		_, err := f.svc.CreateContracting(ctx, ContractingRequest{MaterialID: beansID, Quantity: dec("901")})
		var ise *InsufficientStockError
		if !errors.As(err, &ise) {
			t.Fatalf("expected InsufficientStockError, got %v", err)
		}
		if !ise.Available.Equal(dec("900")) {
			t.Errorf("expected available 900, got %s", ise.Available)
		}
		if _, err := f.svc.CreateContracting(ctx, ContractingRequest{MaterialID: beansID, Quantity: dec("10")}); err != nil {
			t.Fatalf("contracting: %v", err)
		}
	})

	t.Run("later importation does not count", func(t *testing.T) {
		f := newFixture(nil)
		if _, err := f.svc.RecordImportation(ctx, ImportationRequest{MaterialID: beansID, Date: day(1), Quantity: dec("500")}); err != nil {
			t.Fatalf("import: %v", err)
		}
		_, err := f.svc.CreateContracting(ctx, ContractingRequest{MaterialID: beansID, Quantity: dec("1")})
		if !errors.Is(err, ErrInsufficientStock) {
			t.Fatalf("expected ErrInsufficientStock, got %v", err)
		}
	})

	t.Run("input errors", func(t *testing.T) {
		f := newFixture(nil)
		tests := []struct {
			name string
			req  ContractingRequest
			want error
		}{
			{"zero quantity", ContractingRequest{MaterialID: beansID}, ErrInvalidQuantity},
			{"unknown staff", ContractingRequest{MaterialID: beansID, Quantity: dec("1"), StaffID: ptr(404)}, ErrUnknownStaff},
			{"inactive staff", ContractingRequest{MaterialID: beansID, Quantity: dec("1"), StaffID: ptr(formerID)}, ErrUnknownStaff},
			{"unknown material", ContractingRequest{MaterialID: 404, Quantity: dec("1")}, ErrUnknownMaterial},
		}
		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				if _, err := f.svc.CreateContracting(ctx, tt.req); !errors.Is(err, tt.want) {
					t.Fatalf("expected %v, got %v", tt.want, err)
				}
			})
		}
	})
}
