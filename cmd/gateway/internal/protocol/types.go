package protocol

import (
	"encoding/json"
	"fmt"

	"github.com/shubham-shewale/tick-hub/pkg/models"
)

const TypeTrade = "trade"

// TradeFrame is the only frame pushed to subscribers.
type TradeFrame struct {
	Type string                `json:"type"`
	Data []models.EnrichedTick `json:"data"`
}

type rawFrame struct {
	Type string            `json:"type"`
	Data []json.RawMessage `json:"data"`
}

// EncodeTrades marshals ticks into a single outbound frame. Ticks are encoded one by
// one: a tick that cannot be represented in JSON is left out and reported in skipped
// instead of failing the frame. frame is nil when nothing could be encoded.
func EncodeTrades(ticks []models.EnrichedTick) (frame []byte, skipped []error) {
	data := make([]json.RawMessage, 0, len(ticks))
	for _, t := range ticks {
		b, err := json.Marshal(t)
		if err != nil {
			skipped = append(skipped, fmt.Errorf("encode %s: %w", t.Symbol, err))
			continue
		}
		data = append(data, b)
	}
	if len(data) == 0 {
		return nil, skipped
	}

	frame, err := json.Marshal(rawFrame{Type: TypeTrade, Data: data})
	if err != nil {
		return nil, append(skipped, err)
	}
	return frame, skipped
}

// DecodeTrades is the inverse of EncodeTrades, for consumers and tests.
func DecodeTrades(b []byte) (TradeFrame, error) {
	var f TradeFrame
	err := json.Unmarshal(b, &f)
	return f, err
}
