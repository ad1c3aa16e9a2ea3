package enrich

import (
	"math"

	"github.com/shubham-shewale/tick-hub/cmd/gateway/internal/state"
	"github.com/shubham-shewale/tick-hub/pkg/models"
)

// Enrich derives the EnrichedTick for t given the state that preceded it.
// A symbol seen for the first time is its own previous price.
func Enrich(t models.Tick, prior state.SymbolState, seen bool) models.EnrichedTick {
	previous := t.Price
	if seen {
		previous = prior.LastPrice
	}

	return models.EnrichedTick{
		Symbol:             t.Symbol,
		Price:              t.Price,
		PreviousPrice:      previous,
		PriceChangePercent: ChangePercent(previous, t.Price),
		Timestamp:          t.Timestamp,
		Volume:             t.Volume,
	}
}

// ChangePercent is the move from previous to price in percent, 0 when there is no base.
// The result is always finite: moves too large for a float64 saturate at ±MaxFloat64.
func ChangePercent(previous, price float64) float64 {
	if previous == 0 || previous == price {
		return 0
	}
	// multiply first: 5*100/100 is exact where 5/100*100 is not
	pct := (price - previous) * 100 / previous
	switch {
	case math.IsNaN(pct):
		return 0
	case math.IsInf(pct, 0):
		return math.Copysign(math.MaxFloat64, pct)
	}
	return pct
}
