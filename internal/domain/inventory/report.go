package inventory

import (
	"context"
	"time"

	"github.com/Spok95/coffee-stock/internal/domain/materials"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
)

type StockLine struct {
	Material  materials.Material
	Remain    decimal.Decimal // кэш
	Available decimal.Decimal // по журналу на дату отчёта
}

type StockReport struct {
	Date       time.Time
	Reconciled ReconcileReport
	Lines      []StockLine
}

// StockReport сначала сверяет день, затем перечисляет активные материалы.
func (s *Service) StockReport(ctx context.Context, date time.Time) (rep StockReport, err error) {
	day := s.dayOrToday(date)
	rep.Date = day

	rec, err := s.Reconcile(ctx, day)
	if err != nil {
		return rep, err
	}
	rep.Reconciled = rec

	ctx, finish := s.begin(ctx, "stock_report", attribute.String("date", day.Format(time.DateOnly)))
	defer func() { finish(err) }()

	list, err := s.catalog.List(ctx, true)
	if err != nil {
		return rep, err
	}
	rep.Lines = make([]StockLine, 0, len(list))
	for _, m := range list {
		remain, err := s.store.Remain(ctx, m.ID)
		if err != nil {
			return rep, err
		}
		avail, err := project(ctx, s.store, m.ID, day)
		if err != nil {
			return rep, err
		}
		rep.Lines = append(rep.Lines, StockLine{Material: m, Remain: remain, Available: avail})
	}
	return rep, nil
}
