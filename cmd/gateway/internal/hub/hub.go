package hub

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/shubham-shewale/tick-hub/pkg/models"
)

var (
	ErrClosed       = errors.New("hub: closed")
	ErrBackpressure = errors.New("hub: subscriber queue overflowed")
)

type Config struct {
	QueueSize     int // per-session queue capacity
	OverflowLimit int // consecutive overflowed drain cycles before a session is evicted
	MaxBatch      int // ticks per outbound frame
	// StallTimeout evicts a session that drops ticks without draining for this long.
	StallTimeout time.Duration
}

const defaultStallTimeout = 10 * time.Second

// Stats is a point-in-time view of the hub.
type Stats struct {
	Subscribers int    `json:"subscribers"`
	Dropped     uint64 `json:"dropped"`
	Evicted     uint64 `json:"evicted"`
}

// Hub fans enriched ticks out to every joined session. Broadcast never blocks on a
// subscriber: each session has its own bounded queue and drain goroutine.
type Hub struct {
	cfg    Config
	logger *zap.Logger

	mu       sync.RWMutex
	sessions map[string]*Session
	closed   bool

	wg      sync.WaitGroup
	dropped atomic.Uint64
	evicted atomic.Uint64
}

func NewHub(cfg Config, logger *zap.Logger) *Hub {
	if cfg.QueueSize < 1 {
		cfg.QueueSize = 1
	}
	if cfg.OverflowLimit < 1 {
		cfg.OverflowLimit = 1
	}
	if cfg.MaxBatch < 1 {
		cfg.MaxBatch = 1
	}
	if cfg.StallTimeout <= 0 {
		cfg.StallTimeout = defaultStallTimeout
	}

	return &Hub{
		cfg:      cfg,
		logger:   logger,
		sessions: make(map[string]*Session),
	}
}

// Join registers conn as a subscriber. It only receives ticks broadcast after Join returns.
func (h *Hub) Join(conn Conn) (*Session, error) {
	s := &Session{
		id:          uuid.NewString(),
		connectedAt: time.Now(),
		conn:        conn,
		hub:         h,
		capacity:    h.cfg.QueueSize,
		maxBatch:    h.cfg.MaxBatch,
		notify:      make(chan struct{}, 1),
		done:        make(chan struct{}),
	}

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return nil, ErrClosed
	}
	h.sessions[s.id] = s
	h.wg.Add(1)
	n := len(h.sessions)
	h.mu.Unlock()

	go s.run()

	h.logger.Info("Subscriber joined", zap.String("session", s.id), zap.Int("subscribers", n))
	return s, nil
}

// Leave removes s and closes its connection. Calling it again is a no-op.
func (h *Hub) Leave(s *Session) {
	h.leave(s, nil)
}

func (h *Hub) leave(s *Session, reason error) {
	if s == nil {
		return
	}

	h.mu.Lock()
	current, ok := h.sessions[s.id]
	if ok && current == s {
		delete(h.sessions, s.id)
	}
	n := len(h.sessions)
	h.mu.Unlock()

	if !s.stop(false) {
		return
	}
	// unblocks a drain goroutine stuck in a write
	s.conn.Close()

	fields := []zap.Field{zap.String("session", s.id), zap.Int("subscribers", n)}
	if reason != nil {
		if errors.Is(reason, ErrBackpressure) {
			h.evicted.Add(1)
		}
		h.logger.Warn("Subscriber removed", append(fields, zap.Error(reason))...)
		return
	}
	h.logger.Info("Subscriber left", fields...)
}

// Broadcast queues t on every session. Sessions that keep overflowing are evicted.
func (h *Hub) Broadcast(t models.EnrichedTick) {
	var slow []*Session

	h.mu.RLock()
	for _, s := range h.sessions {
		if !s.enqueue(t, h.cfg.OverflowLimit, h.cfg.StallTimeout) {
			slow = append(slow, s)
		}
	}
	h.mu.RUnlock()

	for _, s := range slow {
		h.leave(s, ErrBackpressure)
	}
}

func (h *Hub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.sessions)
}

func (h *Hub) Stats() Stats {
	return Stats{
		Subscribers: h.Len(),
		Dropped:     h.dropped.Load(),
		Evicted:     h.evicted.Load(),
	}
}

// Shutdown rejects new joins and flushes every session's queue before closing it.
// Connections still busy when ctx expires are closed forcibly.
func (h *Hub) Shutdown(ctx context.Context) error {
	h.mu.Lock()
	h.closed = true
	sessions := make([]*Session, 0, len(h.sessions))
	for id, s := range h.sessions {
		sessions = append(sessions, s)
		delete(h.sessions, id)
	}
	h.mu.Unlock()

	h.logger.Info("Hub shutting down", zap.Int("subscribers", len(sessions)))
	for _, s := range sessions {
		s.stop(true)
	}

	drained := make(chan struct{})
	go func() {
		h.wg.Wait()
		close(drained)
	}()

	select {
	case <-drained:
		return nil
	case <-ctx.Done():
		for _, s := range sessions {
			s.conn.Close()
		}
		h.logger.Warn("Hub shutdown grace period expired, connections closed")
		return ctx.Err()
	}
}
