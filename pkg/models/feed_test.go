package models_test

import (
	"errors"
	"testing"

	"github.com/shubham-shewale/tick-hub/pkg/models"
)

func TestDecodeFeedMessage_Trade(t *testing.T) {
	raw := `{"type":"trade","data":[{"s":"AAPL","p":100.5,"t":1700000000000,"v":10},{"s":"MSFT","p":50,"t":1700000000001,"v":2}]}`

	msg, err := models.DecodeFeedMessage([]byte(raw))
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if msg.Type != models.TypeTrade {
		t.Fatalf("Expected trade, got %s", msg.Type)
	}

	ticks, skipped := msg.Ticks()
	if skipped != 0 || len(ticks) != 2 {
		t.Fatalf("Expected 2 ticks and 0 skipped, got %d / %d", len(ticks), skipped)
	}
	if ticks[0].Symbol != "AAPL" || ticks[1].Symbol != "MSFT" {
		t.Errorf("Batch order not preserved: %+v", ticks)
	}
	if ticks[0].Price != 100.5 || ticks[0].Timestamp != 1700000000000 || ticks[0].Volume != 10 {
		t.Errorf("Unexpected tick fields: %+v", ticks[0])
	}
}

func TestDecodeFeedMessage_Malformed(t *testing.T) {
	for _, raw := range []string{`{"type":"trade","data":[`, `{"data":[]}`, `42`} {
		if _, err := models.DecodeFeedMessage([]byte(raw)); !errors.Is(err, models.ErrMalformedMessage) {
			t.Errorf("%s: expected ErrMalformedMessage, got %v", raw, err)
		}
	}
}

func TestDecodeFeedMessage_OtherTypes(t *testing.T) {
	msg, err := models.DecodeFeedMessage([]byte(`{"type":"ping"}`))
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if ticks, _ := msg.Ticks(); len(ticks) != 0 {
		t.Errorf("Ping should carry no ticks")
	}
}

func TestTicks_SkipsInvalidEntries(t *testing.T) {
	msg := models.FeedMessage{
		Type: models.TypeTrade,
		Data: []models.TradeData{
			{Symbol: "", Price: 1},
			{Symbol: "AAPL", Price: -1},
			{Symbol: "AAPL", Price: 101},
		},
	}

	ticks, skipped := msg.Ticks()
	if skipped != 2 {
		t.Errorf("Expected 2 skipped, got %d", skipped)
	}
	if len(ticks) != 1 || ticks[0].Price != 101 {
		t.Errorf("Expected the valid AAPL tick only, got %+v", ticks)
	}
}
