package materials

import (
	"time"

	"github.com/shopspring/decimal"
)

type UnitClass string

const (
	ClassMass   UnitClass = "mass"
	ClassVolume UnitClass = "volume"
	ClassCount  UnitClass = "count"
)

type Unit struct {
	ID     int64
	Name   string // "миллилитр"
	Symbol string // "ml"
	Class  UnitClass
}

type Material struct {
	ID        int64
	Name      string
	Code      string
	UnitID    int64
	Unit      Unit
	Remain    decimal.Decimal // кэш; источник истины — журнал
	Version   int64
	Active    bool
	CreatedAt time.Time
}
