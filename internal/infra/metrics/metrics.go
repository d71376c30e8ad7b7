package metrics

import (
	"strconv"
	"time"

	"github.com/Spok95/coffee-stock/internal/domain/inventory"
	"github.com/Spok95/coffee-stock/internal/domain/ledger"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"
)

const namespace = "coffee_stock"

var _ inventory.Recorder = (*Metrics)(nil)

type Metrics struct {
	operations *prometheus.CounterVec
	duration   *prometheus.HistogramVec
	events     *prometheus.CounterVec
	remain     *prometheus.GaugeVec
}

// New регистрирует коллекторы в reg; для /metrics — prometheus.DefaultRegisterer.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		operations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "operations_total",
			Help:      "Inventory operations by outcome.",
		}, []string{"operation", "outcome"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "operation_duration_seconds",
			Help:      "Inventory operation latency, lock wait included.",
			Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
		}, []string{"operation"}),
		events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ledger_events_total",
			Help:      "Ledger events written by kind.",
		}, []string{"kind"}),
		remain: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "material_remain",
			Help:      "Cached remain per material after the last write.",
		}, []string{"material_id"}),
	}
	reg.MustRegister(m.operations, m.duration, m.events, m.remain)
	return m
}

func (m *Metrics) ObserveOperation(op, outcome string, d time.Duration) {
	m.operations.WithLabelValues(op, outcome).Inc()
	m.duration.WithLabelValues(op).Observe(d.Seconds())
}

func (m *Metrics) EventsWritten(kind ledger.Kind, n int) {
	m.events.WithLabelValues(string(kind)).Add(float64(n))
}

func (m *Metrics) SetRemain(materialID int64, remain decimal.Decimal) {
	m.remain.WithLabelValues(strconv.FormatInt(materialID, 10)).Set(remain.InexactFloat64())
}
