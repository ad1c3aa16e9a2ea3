package models

// Tick is a single trade observation as received from the upstream feed.
type Tick struct {
	Symbol    string  `json:"symbol"`
	Price     float64 `json:"price"`
	Timestamp int64   `json:"timestamp"` // unix milli
	Volume    float64 `json:"volume"`
}

// EnrichedTick is a Tick annotated with the price observed just before it for the same symbol.
type EnrichedTick struct {
	Symbol             string  `json:"symbol"`
	Price              float64 `json:"price"`
	PreviousPrice      float64 `json:"previousPrice"`
	PriceChangePercent float64 `json:"priceChangePercent"`
	Timestamp          int64   `json:"timestamp"` // unix milli
	Volume             float64 `json:"volume"`
}
