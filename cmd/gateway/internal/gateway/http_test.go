package gateway_test

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"go.uber.org/zap"

	"github.com/shubham-shewale/tick-hub/cmd/gateway/internal/gateway"
	"github.com/shubham-shewale/tick-hub/cmd/gateway/internal/hub"
	"github.com/shubham-shewale/tick-hub/cmd/gateway/internal/mirror"
	"github.com/shubham-shewale/tick-hub/cmd/gateway/internal/state"
	"github.com/shubham-shewale/tick-hub/cmd/gateway/internal/testutils"
	"github.com/shubham-shewale/tick-hub/pkg/models"
)

type fakeUpstream struct {
	connected bool
	connects  int64
}

func (f fakeUpstream) Connected() bool { return f.connected }
func (f fakeUpstream) Connects() int64 { return f.connects }

func getHealth(t *testing.T, handler http.HandlerFunc) gateway.Health {
	t.Helper()
	rec := httptest.NewRecorder()
	handler(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", rec.Code)
	}
	var health gateway.Health
	if err := json.Unmarshal(rec.Body.Bytes(), &health); err != nil {
		t.Fatalf("Invalid health body: %v", err)
	}
	return health
}

func TestHealthHandler_ReportsMirrorDrops(t *testing.T) {
	h := hub.NewHub(hub.Config{QueueSize: 8, OverflowLimit: 4, MaxBatch: 8}, zap.NewNop())
	store := state.NewStore()
	store.Upsert("AAPL", 100, 1)

	// not running, so a queue of 1 drops everything after the first tick
	m := mirror.New("kafka", mirror.NewKafkaPublisher(&testutils.MockKafkaWriter{}), zap.NewNop(), 1, 1)
	for i := 0; i < 4; i++ {
		m.Broadcast(models.EnrichedTick{Symbol: "AAPL", Price: float64(i)})
	}

	health := getHealth(t, gateway.HealthHandler(h, store, fakeUpstream{connected: true, connects: 2}, m))

	if health.Status != "ok" || !health.UpstreamConnected || health.UpstreamConnects != 2 {
		t.Errorf("Unexpected upstream view: %+v", health)
	}
	if got := health.MirrorDropped["kafka"]; got != 3 {
		t.Errorf("Expected 3 mirror drops, got %d", got)
	}
	if len(health.Symbols) != 1 || health.Symbols[0].LastPrice != 100 {
		t.Errorf("Unexpected symbols: %+v", health.Symbols)
	}
}

func TestHealthHandler_DegradedWithoutMirrors(t *testing.T) {
	h := hub.NewHub(hub.Config{QueueSize: 8, OverflowLimit: 4, MaxBatch: 8}, zap.NewNop())

	health := getHealth(t, gateway.HealthHandler(h, state.NewStore(), fakeUpstream{}))

	if health.Status != "degraded" {
		t.Errorf("Expected degraded while upstream is down, got %s", health.Status)
	}
	if health.MirrorDropped != nil {
		t.Errorf("No mirrors configured, got %v", health.MirrorDropped)
	}
}
