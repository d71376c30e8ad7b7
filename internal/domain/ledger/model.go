package ledger

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type Kind string

const (
	KindImportation Kind = "importation" // физическое поступление
	KindContracting Kind = "contracting" // закупочное обязательство на день
	KindConsumption Kind = "consumption" // списание под заказ
	KindWaste       Kind = "waste"       // потери
)

func (k Kind) Valid() bool {
	switch k {
	case KindImportation, KindContracting, KindConsumption, KindWaste:
		return true
	}
	return false
}

// Event — неизменяемая запись журнала. Поля OrderID/StaffID/PricePerUnit
// заполняются только для своих видов событий.
type Event struct {
	ID           uuid.UUID
	Kind         Kind
	MaterialID   int64
	Date         time.Time // календарный день, см. Day
	Quantity     decimal.Decimal
	PricePerUnit decimal.Decimal // importation
	OrderID      *int64          // consumption
	StaffID      *int64          // contracting
	Reason       string
	CreatedAt    time.Time
}

// Snapshot — остаток материала на начало дня Date, фиксируется сверкой.
// ActualConsumed — расход за Date на момент сверки.
type Snapshot struct {
	MaterialID     int64
	Date           time.Time
	ActualRemain   decimal.Decimal
	ActualConsumed decimal.Decimal
	UpdatedAt      time.Time
}

// Query выбирает события одного вида по материалу. From/To включительно,
// нулевое значение границы — без ограничения.
type Query struct {
	MaterialID int64
	Kind       Kind
	From       time.Time
	To         time.Time
}

// OnDay — запрос ровно за один календарный день.
func OnDay(materialID int64, kind Kind, day time.Time) Query {
	d := Day(day)
	return Query{MaterialID: materialID, Kind: kind, From: d, To: d}
}

func (q Query) match(ev Event) bool {
	if ev.MaterialID != q.MaterialID || ev.Kind != q.Kind {
		return false
	}
	if !q.From.IsZero() && ev.Date.Before(Day(q.From)) {
		return false
	}
	if !q.To.IsZero() && ev.Date.After(Day(q.To)) {
		return false
	}
	return true
}

// Day отбрасывает время суток, сохраняя календарную дату в локации t.
func Day(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// NextDay / PrevDay — соседние календарные дни.
func NextDay(t time.Time) time.Time { return Day(t).AddDate(0, 0, 1) }
func PrevDay(t time.Time) time.Time { return Day(t).AddDate(0, 0, -1) }
