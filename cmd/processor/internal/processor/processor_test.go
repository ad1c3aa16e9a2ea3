package processor_test

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/shubham-shewale/tick-hub/cmd/processor/internal/processor"
	"github.com/shubham-shewale/tick-hub/cmd/processor/internal/testutils"
	"github.com/shubham-shewale/tick-hub/pkg/config"
	"github.com/shubham-shewale/tick-hub/pkg/models"
)

func tickMessages(t *testing.T, ticks ...models.EnrichedTick) []kafka.Message {
	t.Helper()
	var msgs []kafka.Message
	for _, tk := range ticks {
		val, err := json.Marshal(tk)
		if err != nil {
			t.Fatalf("marshal: %v", err)
		}
		msgs = append(msgs, kafka.Message{Key: []byte(tk.Symbol), Value: val})
	}
	return msgs
}

func TestProcessor_WorkerLogic(t *testing.T) {
	msgs := tickMessages(t,
		models.EnrichedTick{Symbol: "AAPL", Price: 100.0, Timestamp: 1},
		models.EnrichedTick{Symbol: "AAPL", Price: 100.0, Timestamp: 1},
		models.EnrichedTick{Symbol: "AAPL", Price: 101.0, PreviousPrice: 100.0, PriceChangePercent: 1, Timestamp: 3},
		models.EnrichedTick{Symbol: "TSLA", Price: 900.0, Timestamp: 1},
	)

	mockReader := &testutils.MockKafkaReader{Messages: msgs}
	mockRedis := testutils.NewMockRedisClient()

	cfg := &config.Config{}
	cfg.Processor.NumWorkers = 2
	cfg.Redis.TTL = 10 * time.Minute

	proc := processor.NewProcessor(cfg, zap.NewNop(), mockRedis, mockReader)

	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()

	if err := proc.Run(ctx); err != nil {
		t.Fatalf("Run: %v", err)
	}

	pipeline := mockRedis.PipelineSpy
	pipeline.Mu.Lock()
	defer pipeline.Mu.Unlock()

	if pipeline.ExecCount != 4 {
		t.Errorf("Expected 4 pipeline executions, got %d", pipeline.ExecCount)
	}

	want := map[string]bool{
		"SET stock:AAPL":      false,
		"SET stock:TSLA":      false,
		"PUBLISH prices.AAPL": false,
		"PUBLISH prices.TSLA": false,
	}
	for _, cmd := range pipeline.RecordedCmds {
		if _, ok := want[cmd]; ok {
			want[cmd] = true
		}
	}
	for cmd, seen := range want {
		if !seen {
			t.Errorf("Missing Redis command %q", cmd)
		}
	}

	if got := pipeline.TTLs["stock:AAPL"]; got != 10*time.Minute {
		t.Errorf("Expected TTL 10m, got %s", got)
	}
	if got := pipeline.Values["stock:AAPL"]; got != string(msgs[2].Value) {
		t.Errorf("Expected latest AAPL snapshot, got %s", got)
	}
}

func TestProcessor_SkipsStaleTicks(t *testing.T) {
	msgs := tickMessages(t,
		models.EnrichedTick{Symbol: "MSFT", Price: 410, Timestamp: 20},
		models.EnrichedTick{Symbol: "MSFT", Price: 400, Timestamp: 10},
	)

	mockReader := &testutils.MockKafkaReader{Messages: msgs}
	mockRedis := testutils.NewMockRedisClient()

	proc := processor.NewProcessor(&config.Config{Processor: config.ProcessorConfig{NumWorkers: 1}}, zap.NewNop(), mockRedis, mockReader)

	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()
	proc.Run(ctx)

	pipeline := mockRedis.PipelineSpy
	pipeline.Mu.Lock()
	defer pipeline.Mu.Unlock()

	if pipeline.ExecCount != 1 {
		t.Fatalf("Expected stale tick to be skipped, got %d executions", pipeline.ExecCount)
	}
	if got := pipeline.Values["stock:MSFT"]; got != string(msgs[0].Value) {
		t.Errorf("Snapshot regressed to older tick: %s", got)
	}
}

func TestProcessor_InvalidJSON(t *testing.T) {
	msgs := []kafka.Message{
		{Key: []byte("AAPL"), Value: []byte("{broken-json")},
		{Key: []byte(""), Value: []byte(`{"price":1}`)},
	}

	mockReader := &testutils.MockKafkaReader{Messages: msgs}
	mockRedis := testutils.NewMockRedisClient()

	proc := processor.NewProcessor(&config.Config{Processor: config.ProcessorConfig{NumWorkers: 1}}, zap.NewNop(), mockRedis, mockReader)

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	proc.Run(ctx)

	if mockRedis.PipelineSpy.ExecCount > 0 {
		t.Error("Should not execute Redis commands for invalid ticks")
	}
}

func TestSnapshotKeys(t *testing.T) {
	if got := processor.SnapshotKey("GOOG"); got != "stock:GOOG" {
		t.Errorf("SnapshotKey = %q", got)
	}
	if got := processor.PriceChannel("GOOG"); got != "prices.GOOG" {
		t.Errorf("PriceChannel = %q", got)
	}
}
