package inventory

import (
	"context"
	"log/slog"
	"time"

	"github.com/Spok95/coffee-stock/internal/domain/ledger"
	"github.com/Spok95/coffee-stock/internal/domain/materials"
	"github.com/Spok95/coffee-stock/internal/domain/recipes"
	"github.com/Spok95/coffee-stock/internal/domain/staff"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/Spok95/coffee-stock/internal/domain/inventory"

// Publisher получает уже закоммиченные события журнала.
type Publisher interface {
	Publish(ctx context.Context, evs []ledger.Event) error
}

// Recorder — метрики операций.
type Recorder interface {
	ObserveOperation(op, outcome string, d time.Duration)
	EventsWritten(kind ledger.Kind, n int)
	SetRemain(materialID int64, remain decimal.Decimal)
}

type StaffDirectory interface {
	GetByID(ctx context.Context, id int64) (*staff.Staff, error)
}

type nopPublisher struct{}

func (nopPublisher) Publish(context.Context, []ledger.Event) error { return nil }

type nopRecorder struct{}

func (nopRecorder) ObserveOperation(string, string, time.Duration) {}
func (nopRecorder) EventsWritten(ledger.Kind, int)                 {}
func (nopRecorder) SetRemain(int64, decimal.Decimal)               {}

// Service — операции над складом: списание под заказ, контрактация,
// потери, сверка и проекция остатков. Все записи идут через ledger.Store.
type Service struct {
	log      *slog.Logger
	store    ledger.Store
	resolver *recipes.Resolver
	catalog  materials.Catalog
	staff    StaffDirectory
	pub      Publisher
	rec      Recorder
	tracer   trace.Tracer
	loc      *time.Location
	now      func() time.Time
}

type Option func(*Service)

func WithStaff(d StaffDirectory) Option    { return func(s *Service) { s.staff = d } }
func WithPublisher(p Publisher) Option     { return func(s *Service) { s.pub = p } }
func WithRecorder(r Recorder) Option       { return func(s *Service) { s.rec = r } }
func WithTracer(t trace.Tracer) Option     { return func(s *Service) { s.tracer = t } }
func WithLocation(l *time.Location) Option { return func(s *Service) { s.loc = l } }
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

func NewService(log *slog.Logger, store ledger.Store, resolver *recipes.Resolver, catalog materials.Catalog, opts ...Option) *Service {
	s := &Service{
		log:      log,
		store:    store,
		resolver: resolver,
		catalog:  catalog,
		pub:      nopPublisher{},
		rec:      nopRecorder{},
		tracer:   otel.Tracer(tracerName),
		loc:      time.Local,
		now:      time.Now,
	}
	for _, o := range opts {
		o(s)
	}
	if s.log == nil {
		s.log = slog.Default()
	}
	return s
}

// today — текущий календарный день в часовом поясе кофейни.
func (s *Service) today() time.Time {
	return ledger.Day(s.now().In(s.loc))
}

func (s *Service) dayOrToday(t time.Time) time.Time {
	if t.IsZero() {
		return s.today()
	}
	return ledger.Day(t)
}

// begin открывает спан операции; finish закрывает его и пишет метрику.
func (s *Service) begin(ctx context.Context, op string, attrs ...attribute.KeyValue) (context.Context, func(error)) {
	ctx, span := s.tracer.Start(ctx, op, trace.WithAttributes(attrs...))
	start := time.Now()
	return ctx, func(err error) {
		res := outcome(err)
		s.rec.ObserveOperation(op, res, time.Since(start))
		span.SetAttributes(attribute.String("outcome", res))
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		} else {
			span.SetStatus(codes.Ok, "")
		}
		span.End()
	}
}

// committed вызывается после успешного Update: метрики и публикация событий.
// Ошибка публикации не откатывает операцию, журнал уже записан.
func (s *Service) committed(ctx context.Context, evs []ledger.Event, remains map[int64]decimal.Decimal) {
	byKind := make(map[ledger.Kind]int)
	for _, ev := range evs {
		byKind[ev.Kind]++
	}
	for k, n := range byKind {
		s.rec.EventsWritten(k, n)
	}
	for id, v := range remains {
		s.rec.SetRemain(id, v)
	}
	if len(evs) == 0 {
		return
	}
	if err := s.pub.Publish(ctx, evs); err != nil {
		s.log.Warn("publish ledger events failed", "events", len(evs), "err", err)
	}
}

func (s *Service) materialExists(ctx context.Context, id int64) error {
	m, err := s.catalog.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if m == nil {
		return ErrUnknownMaterial
	}
	return nil
}
