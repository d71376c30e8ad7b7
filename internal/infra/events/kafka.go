package events

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/Spok95/coffee-stock/internal/domain/inventory"
	"github.com/Spok95/coffee-stock/internal/domain/ledger"
	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel"
)

var _ inventory.Publisher = (*KafkaPublisher)(nil)

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaPublisher отправляет закоммиченные события журнала в топик.
// Ключ сообщения — id материала, чтобы события одного материала шли по порядку.
type KafkaPublisher struct {
	w messageWriter
}

func NewKafkaPublisher(brokers []string, topic string) *KafkaPublisher {
	return &KafkaPublisher{w: &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireAll,
		BatchTimeout: 10 * time.Millisecond,
	}}
}

// Message — JSON-представление события в топике.
type Message struct {
	ID           string `json:"id"`
	Kind         string `json:"kind"`
	MaterialID   int64  `json:"material_id"`
	Date         string `json:"date"`
	Quantity     string `json:"quantity"`
	PricePerUnit string `json:"price_per_unit,omitempty"`
	OrderID      *int64 `json:"order_id,omitempty"`
	StaffID      *int64 `json:"staff_id,omitempty"`
	Reason       string `json:"reason,omitempty"`
	CreatedAt    string `json:"created_at"`
}

func (p *KafkaPublisher) Publish(ctx context.Context, evs []ledger.Event) error {
	msgs, err := buildMessages(ctx, evs)
	if err != nil {
		return err
	}
	if err := p.w.WriteMessages(ctx, msgs...); err != nil {
		return fmt.Errorf("kafka write: %w", err)
	}
	return nil
}

func (p *KafkaPublisher) Close() error { return p.w.Close() }

func buildMessages(ctx context.Context, evs []ledger.Event) ([]kafka.Message, error) {
	msgs := make([]kafka.Message, 0, len(evs))
	for _, ev := range evs {
		m := Message{
			ID:         ev.ID.String(),
			Kind:       string(ev.Kind),
			MaterialID: ev.MaterialID,
			Date:       ev.Date.Format(time.DateOnly),
			Quantity:   ev.Quantity.String(),
			OrderID:    ev.OrderID,
			StaffID:    ev.StaffID,
			Reason:     ev.Reason,
			CreatedAt:  ev.CreatedAt.UTC().Format(time.RFC3339Nano),
		}
		if ev.Kind == ledger.KindImportation {
			m.PricePerUnit = ev.PricePerUnit.String()
		}
		body, err := json.Marshal(m)
		if err != nil {
			return nil, err
		}

		headers := headerCarrier{{Key: "kind", Value: []byte(ev.Kind)}}
		otel.GetTextMapPropagator().Inject(ctx, &headers)

		msgs = append(msgs, kafka.Message{
			Key:     []byte(strconv.FormatInt(ev.MaterialID, 10)),
			Value:   body,
			Headers: headers,
			Time:    ev.CreatedAt,
		})
	}
	return msgs, nil
}

// headerCarrier — заголовки kafka как propagation.TextMapCarrier.
type headerCarrier []kafka.Header

func (c *headerCarrier) Get(key string) string {
	for _, h := range *c {
		if h.Key == key {
			return string(h.Value)
		}
	}
	return ""
}

func (c *headerCarrier) Set(key, value string) {
	for i, h := range *c {
		if h.Key == key {
			(*c)[i].Value = []byte(value)
			return
		}
	}
	*c = append(*c, kafka.Header{Key: key, Value: []byte(value)})
}

func (c *headerCarrier) Keys() []string {
	keys := make([]string, 0, len(*c))
	for _, h := range *c {
		keys = append(keys, h.Key)
	}
	return keys
}
