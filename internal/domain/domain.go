package domain

import (
	"strconv"
	"time"

	"github.com/shopspring/decimal"
)

// DataPoint is a single price sample as seen by subscribers and query clients.
type DataPoint struct {
	SequenceID int64           `json:"id"`
	Value      decimal.Decimal `json:"value"`
}

// MarshalJSON renders the value as a bare JSON number rather than the quoted
// string decimal.Decimal produces by default.
func (p DataPoint) MarshalJSON() ([]byte, error) {
	buf := make([]byte, 0, 48)
	buf = append(buf, `{"id":`...)
	buf = strconv.AppendInt(buf, p.SequenceID, 10)
	buf = append(buf, `,"value":`...)
	buf = append(buf, p.Value.String()...)
	buf = append(buf, '}')
	return buf, nil
}

// PriceRow is the full row the producer appends to a day table.
type PriceRow struct {
	Timestamp  time.Time
	Price      decimal.Decimal
	BuyVolume  decimal.Decimal
	SellVolume decimal.Decimal
}

// Batch is the unit of fan-out: the rows newly observed in one poll cycle.
type Batch struct {
	Table  string      `json:"table"`
	Points []DataPoint `json:"points"`
}

func (b Batch) Empty() bool {
	return len(b.Points) == 0
}

// MaxSequenceID returns the highest id in the batch, or floor if nothing in
// the batch is above it.
func (b Batch) MaxSequenceID(floor int64) int64 {
	max := floor
	for _, p := range b.Points {
		if p.SequenceID > max {
			max = p.SequenceID
		}
	}
	return max
}

type TableSummary struct {
	Table      string             `json:"table"`
	Count      int                `json:"count"`
	First      float64            `json:"first"`
	Last       float64            `json:"last"`
	Min        float64            `json:"min"`
	Max        float64            `json:"max"`
	ChangePct  float64            `json:"change_pct"`
	SMA        map[string]float64 `json:"sma,omitempty"`
	Volatility *float64           `json:"volatility_30,omitempty"`
}

// MovingAverageWindows mirrors the windows used by the daily analysis report.
var MovingAverageWindows = []int{7, 30, 200}

const VolatilityWindow = 30
