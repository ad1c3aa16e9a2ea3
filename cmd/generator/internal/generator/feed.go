package generator

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
	"go.uber.org/zap"

	"github.com/shubham-shewale/tick-hub/pkg/models"
)

const writeWait = 5 * time.Second

// FeedServer speaks the upstream trade protocol: clients subscribe per symbol and
// receive only trades for symbols they hold, plus periodic pings.
type FeedServer struct {
	logger *zap.Logger
	token  string

	mu    sync.RWMutex
	conns map[*feedConn]struct{}
}

type feedConn struct {
	conn    net.Conn
	writeMu sync.Mutex

	mu      sync.RWMutex
	symbols map[string]bool
}

// NewFeedServer builds a server. A non-empty token is required as the ?token= query param.
func NewFeedServer(logger *zap.Logger, token string) *FeedServer {
	return &FeedServer{
		logger: logger,
		token:  token,
		conns:  make(map[*feedConn]struct{}),
	}
}

func (s *FeedServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if s.token != "" && r.URL.Query().Get("token") != s.token {
		http.Error(w, "invalid token", http.StatusUnauthorized)
		return
	}

	conn, _, _, err := ws.UpgradeHTTP(r, w)
	if err != nil {
		s.logger.Error("Upgrade failed", zap.Error(err))
		return
	}

	fc := &feedConn{conn: conn, symbols: make(map[string]bool)}
	s.mu.Lock()
	s.conns[fc] = struct{}{}
	s.mu.Unlock()

	s.logger.Info("Feed client connected", zap.String("remote", conn.RemoteAddr().String()))
	go s.readLoop(fc)
}

func (s *FeedServer) readLoop(fc *feedConn) {
	defer s.remove(fc)

	for {
		msg, op, err := wsutil.ReadClientData(fc.conn)
		if err != nil {
			return
		}
		if op != ws.OpText {
			continue
		}

		var req models.SubscribeRequest
		if err := json.Unmarshal(msg, &req); err != nil {
			s.send(fc, models.FeedMessage{Type: models.TypeError, Msg: "invalid json"})
			continue
		}
		symbol := strings.ToUpper(strings.TrimSpace(req.Symbol))

		switch req.Type {
		case models.TypeSubscribe:
			fc.mu.Lock()
			fc.symbols[symbol] = true
			fc.mu.Unlock()
			s.logger.Debug("Subscribed", zap.String("symbol", symbol))
		case models.TypeUnsubscribe:
			fc.mu.Lock()
			delete(fc.symbols, symbol)
			fc.mu.Unlock()
		default:
			s.send(fc, models.FeedMessage{Type: models.TypeError, Msg: "unknown message type"})
		}
	}
}

// Publish sends each connection the subset of trades it subscribed to.
func (s *FeedServer) Publish(trades []models.TradeData) {
	for _, fc := range s.snapshot() {
		fc.mu.RLock()
		data := make([]models.TradeData, 0, len(trades))
		for _, t := range trades {
			if fc.symbols[t.Symbol] {
				data = append(data, t)
			}
		}
		fc.mu.RUnlock()

		if len(data) == 0 {
			continue
		}
		s.send(fc, models.FeedMessage{Type: models.TypeTrade, Data: data})
	}
}

// Ping sends an application-level ping frame to every connection.
func (s *FeedServer) Ping() {
	for _, fc := range s.snapshot() {
		s.send(fc, models.FeedMessage{Type: models.TypePing})
	}
}

// Run pings every interval until ctx is done, then closes all connections.
func (s *FeedServer) Run(ctx context.Context, pingInterval time.Duration) error {
	if pingInterval <= 0 {
		pingInterval = 30 * time.Second
	}
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.Ping()
		case <-ctx.Done():
			for _, fc := range s.snapshot() {
				s.remove(fc)
			}
			return nil
		}
	}
}

func (s *FeedServer) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.conns)
}

func (s *FeedServer) send(fc *feedConn, msg models.FeedMessage) {
	payload, err := json.Marshal(msg)
	if err != nil {
		s.logger.Error("JSON Marshal Error", zap.Error(err))
		return
	}

	fc.writeMu.Lock()
	fc.conn.SetWriteDeadline(time.Now().Add(writeWait))
	err = wsutil.WriteServerText(fc.conn, payload)
	fc.writeMu.Unlock()

	if err != nil {
		s.logger.Warn("Feed write failed, dropping client", zap.Error(err))
		s.remove(fc)
	}
}

func (s *FeedServer) snapshot() []*feedConn {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*feedConn, 0, len(s.conns))
	for fc := range s.conns {
		out = append(out, fc)
	}
	return out
}

func (s *FeedServer) remove(fc *feedConn) {
	s.mu.Lock()
	_, ok := s.conns[fc]
	delete(s.conns, fc)
	s.mu.Unlock()

	if ok {
		fc.conn.Close()
		s.logger.Info("Feed client disconnected", zap.String("remote", fc.conn.RemoteAddr().String()))
	}
}
