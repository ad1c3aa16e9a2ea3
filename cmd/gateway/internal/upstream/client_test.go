package upstream_test

import (
	"context"
	"reflect"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/shubham-shewale/tick-hub/cmd/gateway/internal/enrich"
	"github.com/shubham-shewale/tick-hub/cmd/gateway/internal/state"
	"github.com/shubham-shewale/tick-hub/cmd/gateway/internal/testutils"
	"github.com/shubham-shewale/tick-hub/cmd/gateway/internal/upstream"
	"github.com/shubham-shewale/tick-hub/pkg/models"
)

func newConfig(feed *testutils.FakeFeed, symbols ...string) upstream.Config {
	return upstream.Config{
		URL:            feed.URL(),
		Symbols:        symbols,
		ReadTimeout:    2 * time.Second,
		InitialBackoff: 10 * time.Millisecond,
		MaxBackoff:     50 * time.Millisecond,
	}
}

func start(t *testing.T, c *upstream.Client) (context.CancelFunc, <-chan struct{}) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		c.Run(ctx)
		close(done)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return cancel, done
}

func TestClient_SubscribesAndForwards(t *testing.T) {
	feed := testutils.NewFakeFeed(t)
	sink := &testutils.MockSink{}
	c := upstream.NewClient(newConfig(feed, "AAPL", "MSFT"), sink, zap.NewNop())
	start(t, c)

	conn := feed.NextConn(t, time.Second)
	testutils.Eventually(t, time.Second, func() bool { return len(feed.Subscriptions(0)) == 2 }, "subscriptions sent")

	if got := feed.Subscriptions(0); !reflect.DeepEqual(got, []string{"AAPL", "MSFT"}) {
		t.Errorf("Expected watch-list order, got %v", got)
	}
	testutils.Eventually(t, time.Second, c.Connected, "client reports connected")

	conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"ping"}`))
	conn.WriteMessage(websocket.TextMessage, []byte(`{not json`))
	conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"news","data":[]}`))
	conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"error","msg":"bad symbol"}`))
	testutils.SendTrades(t, conn,
		models.TradeData{Symbol: "AAPL", Price: 100, Timestamp: 1, Volume: 5},
		models.TradeData{Symbol: "", Price: 1},
		models.TradeData{Symbol: "MSFT", Price: 50, Timestamp: 2, Volume: 1},
	)
	testutils.SendTrades(t, conn, models.TradeData{Symbol: "AAPL", Price: 102, Timestamp: 3})

	testutils.Eventually(t, time.Second, func() bool { return sink.Len() == 3 }, "3 ticks forwarded")

	sink.Mu.Lock()
	defer sink.Mu.Unlock()
	want := []models.Tick{
		{Symbol: "AAPL", Price: 100, Timestamp: 1, Volume: 5},
		{Symbol: "MSFT", Price: 50, Timestamp: 2, Volume: 1},
		{Symbol: "AAPL", Price: 102, Timestamp: 3},
	}
	if !reflect.DeepEqual(sink.Ticks, want) {
		t.Errorf("Expected %+v, got %+v", want, sink.Ticks)
	}
	if c.Connects() != 1 {
		t.Errorf("Malformed frames must not force a reconnect, connects=%d", c.Connects())
	}
}

func TestClient_TokenQueryParam(t *testing.T) {
	feed := testutils.NewFakeFeed(t)
	cfg := newConfig(feed, "AAPL")
	cfg.Token = "secret"
	c := upstream.NewClient(cfg, &testutils.MockSink{}, zap.NewNop())
	start(t, c)

	feed.NextConn(t, time.Second)
	if got := feed.Query(0).Get("token"); got != "secret" {
		t.Errorf("Expected token query param, got %q", got)
	}
}

func TestClient_ReconnectKeepsState(t *testing.T) {
	feed := testutils.NewFakeFeed(t)
	store := state.NewStore()
	rec := &testutils.RecordingEmitter{}
	pipeline := enrich.NewPipeline(store, zap.NewNop(), 2, 16, rec)

	ctx, cancel := context.WithCancel(context.Background())
	pipeDone := make(chan struct{})
	go func() {
		pipeline.Run(ctx)
		close(pipeDone)
	}()
	defer func() { cancel(); <-pipeDone }()

	c := upstream.NewClient(newConfig(feed, "AAPL", "MSFT"), pipeline, zap.NewNop())
	start(t, c)

	first := feed.NextConn(t, time.Second)
	testutils.SendTrades(t, first, models.TradeData{Symbol: "AAPL", Price: 100, Timestamp: 1})
	testutils.Eventually(t, time.Second, func() bool { return len(rec.Snapshot()) == 1 }, "first tick enriched")

	first.Close()

	second := feed.NextConn(t, 2*time.Second)
	testutils.Eventually(t, time.Second, func() bool { return len(feed.Subscriptions(1)) == 2 }, "re-subscribed after reconnect")

	if st, ok := store.Get("AAPL"); !ok || st.LastPrice != 100 {
		t.Fatalf("Store should survive reconnect, got %+v", st)
	}

	testutils.SendTrades(t, second, models.TradeData{Symbol: "AAPL", Price: 105, Timestamp: 2})
	testutils.Eventually(t, time.Second, func() bool { return len(rec.Snapshot()) == 2 }, "post-reconnect tick enriched")

	got := rec.Snapshot()[1]
	if got.PreviousPrice != 100 || got.PriceChangePercent != 5 {
		t.Errorf("Expected continuation from 100 with +5%%, got %+v", got)
	}
	testutils.Eventually(t, time.Second, func() bool { return c.Connects() == 2 }, "two sessions counted")
}

func TestClient_SubscribeFailureReconnects(t *testing.T) {
	feed := testutils.NewFakeFeed(t)
	cfg := newConfig(feed, "AAPL", "MSFT")
	// already expired by the time the subscribe frame is written
	cfg.WriteTimeout = time.Nanosecond
	c := upstream.NewClient(cfg, &testutils.MockSink{}, zap.NewNop())
	start(t, c)

	feed.NextConn(t, time.Second)
	feed.NextConn(t, 2*time.Second)

	if c.Connects() != 0 || c.Connected() {
		t.Errorf("A session whose subscribe failed must not count as connected: connects=%d", c.Connects())
	}
	if got := feed.Subscriptions(0); len(got) != 0 {
		t.Errorf("No subscription should have reached the feed, got %v", got)
	}
}

func TestClient_RetriesUntilFeedUp(t *testing.T) {
	feed := testutils.NewFakeFeed(t)
	url := feed.URL()
	feed.Server.Close()

	cfg := newConfig(feed, "AAPL")
	cfg.URL = url
	c := upstream.NewClient(cfg, &testutils.MockSink{}, zap.NewNop())
	cancel, done := start(t, c)

	time.Sleep(100 * time.Millisecond)
	if c.Connects() != 0 || c.Connected() {
		t.Fatal("Client should not be connected to a closed feed")
	}

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run should return promptly on cancel while backing off")
	}
}

func TestClient_StopsWhileReading(t *testing.T) {
	feed := testutils.NewFakeFeed(t)
	c := upstream.NewClient(newConfig(feed, "AAPL"), &testutils.MockSink{}, zap.NewNop())
	cancel, done := start(t, c)

	feed.NextConn(t, time.Second)
	testutils.Eventually(t, time.Second, c.Connected, "connected")

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run should return promptly on cancel while blocked in a read")
	}
	if c.Connected() {
		t.Error("Client should report disconnected after stop")
	}
}
