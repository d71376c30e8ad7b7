package inventory

import (
	"context"
	"time"

	"github.com/Spok95/coffee-stock/internal/domain/ledger"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
)

// AvailableQuantity восстанавливает остаток на конец дня asOf по журналу:
// последний снимок не позже asOf (остаток на начало его дня) плюс движения
// с даты снимка по asOf включительно.
func (s *Service) AvailableQuantity(ctx context.Context, materialID int64, asOf time.Time) (qty decimal.Decimal, err error) {
	asOf = s.dayOrToday(asOf)
	ctx, finish := s.begin(ctx, "available_quantity",
		attribute.Int64("material.id", materialID),
		attribute.String("as_of", asOf.Format(time.DateOnly)),
	)
	defer func() { finish(err) }()

	if err := s.materialExists(ctx, materialID); err != nil {
		return decimal.Zero, err
	}
	return project(ctx, s.store, materialID, asOf)
}

// AvailableToday — дешёвый путь: кэш остатка уже включает сегодняшние поступления.
func (s *Service) AvailableToday(ctx context.Context, materialID int64) (decimal.Decimal, error) {
	return s.store.Remain(ctx, materialID)
}

// project: остаток на конец дня asOf. Снимок — остаток на начало своего дня,
// поэтому движения дня снимка, записанные после сверки, тоже учитываются.
func project(ctx context.Context, r ledger.Reader, materialID int64, asOf time.Time) (decimal.Decimal, error) {
	sn, err := r.LatestSnapshot(ctx, materialID, asOf)
	if err != nil {
		return decimal.Zero, err
	}
	base := decimal.Zero
	var from time.Time
	if sn != nil {
		base = sn.ActualRemain
		from = sn.Date
	}
	delta, err := movement(ctx, r, materialID, from, asOf)
	if err != nil {
		return decimal.Zero, err
	}
	return base.Add(delta), nil
}

// movement — чистое изменение остатка за [from, to]; нулевые границы не ограничивают.
func movement(ctx context.Context, r ledger.Reader, materialID int64, from, to time.Time) (decimal.Decimal, error) {
	total := decimal.Zero
	for _, k := range []ledger.Kind{ledger.KindImportation, ledger.KindConsumption, ledger.KindWaste} {
		sum, err := r.Sum(ctx, ledger.Query{MaterialID: materialID, Kind: k, From: from, To: to})
		if err != nil {
			return decimal.Zero, err
		}
		if k == ledger.KindImportation {
			total = total.Add(sum)
		} else {
			total = total.Sub(sum)
		}
	}
	return total, nil
}
