package testutils

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/shubham-shewale/tick-hub/pkg/models"
)

// FakeFeed is an upstream trade feed on an httptest server. Every accepted connection
// is handed to the test through NextConn; subscribe requests are recorded per connection.
type FakeFeed struct {
	Server *httptest.Server

	mu      sync.Mutex
	subs    [][]string
	queries []url.Values
	conns   chan *websocket.Conn
}

func NewFakeFeed(t *testing.T) *FakeFeed {
	t.Helper()
	f := &FakeFeed{conns: make(chan *websocket.Conn, 16)}
	upgrader := websocket.Upgrader{}

	f.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}

		f.mu.Lock()
		idx := len(f.subs)
		f.subs = append(f.subs, nil)
		f.queries = append(f.queries, r.URL.Query())
		f.mu.Unlock()

		go func() {
			for {
				_, msg, err := conn.ReadMessage()
				if err != nil {
					return
				}
				var req models.SubscribeRequest
				if json.Unmarshal(msg, &req) == nil && req.Type == models.TypeSubscribe {
					f.mu.Lock()
					f.subs[idx] = append(f.subs[idx], req.Symbol)
					f.mu.Unlock()
				}
			}
		}()

		f.conns <- conn
	}))
	t.Cleanup(f.Server.Close)

	return f
}

func (f *FakeFeed) URL() string {
	return "ws" + strings.TrimPrefix(f.Server.URL, "http")
}

func (f *FakeFeed) NextConn(t *testing.T, timeout time.Duration) *websocket.Conn {
	t.Helper()
	select {
	case c := <-f.conns:
		return c
	case <-time.After(timeout):
		t.Fatal("No upstream connection accepted")
		return nil
	}
}

// Subscriptions returns the symbols subscribed on the i-th connection.
func (f *FakeFeed) Subscriptions(i int) []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	if i >= len(f.subs) {
		return nil
	}
	return append([]string(nil), f.subs[i]...)
}

func (f *FakeFeed) Query(i int) url.Values {
	f.mu.Lock()
	defer f.mu.Unlock()
	if i >= len(f.queries) {
		return nil
	}
	return f.queries[i]
}

// SendTrades pushes one trade frame carrying ticks in order.
func SendTrades(t *testing.T, conn *websocket.Conn, ticks ...models.TradeData) {
	t.Helper()
	if err := conn.WriteJSON(models.FeedMessage{Type: models.TypeTrade, Data: ticks}); err != nil {
		t.Fatalf("Failed to send trades: %v", err)
	}
}
