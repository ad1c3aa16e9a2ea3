package models

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
)

// Upstream message types.
const (
	TypeSubscribe   = "subscribe"
	TypeUnsubscribe = "unsubscribe"
	TypeTrade       = "trade"
	TypePing        = "ping"
	TypeError       = "error"
)

var ErrMalformedMessage = errors.New("malformed upstream message")

// SubscribeRequest is sent upstream once per watched symbol.
type SubscribeRequest struct {
	Type   string `json:"type"`
	Symbol string `json:"symbol"`
}

// TradeData is one entry of an upstream trade batch.
type TradeData struct {
	Symbol    string  `json:"s"`
	Price     float64 `json:"p"`
	Timestamp int64   `json:"t"` // unix milli
	Volume    float64 `json:"v"`
}

// FeedMessage is any frame the upstream provider sends. Only "trade" frames carry Data.
type FeedMessage struct {
	Type string      `json:"type"`
	Data []TradeData `json:"data,omitempty"`
	Msg  string      `json:"msg,omitempty"`
}

// DecodeFeedMessage parses a raw upstream frame. A frame without a type is malformed.
func DecodeFeedMessage(raw []byte) (FeedMessage, error) {
	var msg FeedMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		return FeedMessage{}, fmt.Errorf("%w: %v", ErrMalformedMessage, err)
	}
	if msg.Type == "" {
		return FeedMessage{}, fmt.Errorf("%w: missing type", ErrMalformedMessage)
	}
	return msg, nil
}

// Ticks converts the batch into ticks in arrival order. Entries without a symbol or
// with an unusable price are skipped and counted.
func (m FeedMessage) Ticks() (ticks []Tick, skipped int) {
	ticks = make([]Tick, 0, len(m.Data))
	for _, d := range m.Data {
		if d.Symbol == "" || math.IsNaN(d.Price) || math.IsInf(d.Price, 0) || d.Price < 0 {
			skipped++
			continue
		}
		ticks = append(ticks, Tick{
			Symbol:    d.Symbol,
			Price:     d.Price,
			Timestamp: d.Timestamp,
			Volume:    d.Volume,
		})
	}
	return ticks, skipped
}
