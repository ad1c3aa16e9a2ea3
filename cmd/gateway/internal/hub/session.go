package hub

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/shubham-shewale/tick-hub/cmd/gateway/internal/protocol"
	"github.com/shubham-shewale/tick-hub/pkg/models"
)

// Conn is the outbound side of one subscriber connection. Close may be called more
// than once and concurrently with WriteFrame.
type Conn interface {
	WriteFrame(b []byte) error
	Close() error
}

// Session is one subscriber: a bounded FIFO of ticks drained by its own goroutine.
type Session struct {
	id          string
	connectedAt time.Time
	conn        Conn
	hub         *Hub

	mu        sync.Mutex
	queue     []models.EnrichedTick
	capacity  int
	maxBatch  int
	overflows int // consecutive drain cycles that found the queue overflowed
	// overflowed is set on a drop and consumed by the next take
	overflowed bool
	// first drop since the last take; zero while the drain keeps up
	stalledSince time.Time
	closed       bool
	flush        bool

	notify chan struct{}
	done   chan struct{}
}

func (s *Session) ID() string             { return s.id }
func (s *Session) ConnectedAt() time.Time { return s.connectedAt }

// Done is closed once the session has left the hub.
func (s *Session) Done() <-chan struct{} { return s.done }

// enqueue appends t, dropping the oldest queued tick when full. It reports false once
// the session is beyond saving: overflowLimit drain cycles in a row found the queue
// overflowed, or nothing was drained for stallTimeout while ticks kept being dropped.
func (s *Session) enqueue(t models.EnrichedTick, overflowLimit int, stallTimeout time.Duration) bool {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return true
	}

	healthy := true
	if len(s.queue) >= s.capacity {
		s.queue = s.queue[1:]
		s.hub.dropped.Add(1)
		s.overflowed = true

		now := time.Now()
		if s.stalledSince.IsZero() {
			s.stalledSince = now
		}
		healthy = s.overflows < overflowLimit && now.Sub(s.stalledSince) < stallTimeout
	}
	s.queue = append(s.queue, t)
	s.mu.Unlock()

	select {
	case s.notify <- struct{}{}:
	default:
	}
	return healthy
}

// take removes up to maxBatch ticks from the head of the queue.
func (s *Session) take() []models.EnrichedTick {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.queue) == 0 {
		return nil
	}
	if s.overflowed {
		s.overflows++
	} else {
		s.overflows = 0
	}
	s.overflowed = false
	s.stalledSince = time.Time{}

	n := len(s.queue)
	if n > s.maxBatch {
		n = s.maxBatch
	}
	batch := s.queue[:n:n]
	s.queue = s.queue[n:]
	if len(s.queue) == 0 {
		s.queue = nil
	}
	return batch
}

// stop marks the session closed. With flush set the drain loop writes what is
// still queued before closing the connection; otherwise the queue is abandoned.
func (s *Session) stop(flush bool) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return false
	}
	s.closed = true
	s.flush = flush
	if !flush {
		s.queue = nil
	}
	close(s.done)
	return true
}

func (s *Session) flushing() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.flush
}

func (s *Session) run() {
	defer s.hub.wg.Done()
	defer s.conn.Close()

	for {
		select {
		case <-s.notify:
			if err := s.drain(); err != nil {
				s.hub.leave(s, err)
				return
			}
		case <-s.done:
			if s.flushing() {
				if err := s.drain(); err != nil {
					s.hub.logger.Debug("Flush on shutdown failed", zap.String("session", s.id), zap.Error(err))
				}
			}
			return
		}
	}
}

// drain writes the queue out in frames of at most maxBatch ticks.
func (s *Session) drain() error {
	for {
		batch := s.take()
		if len(batch) == 0 {
			return nil
		}

		frame, skipped := protocol.EncodeTrades(batch)
		for _, err := range skipped {
			s.hub.logger.Error("Tick not encodable, skipped", zap.String("session", s.id), zap.Error(err))
		}
		if frame == nil {
			continue
		}
		if err := s.conn.WriteFrame(frame); err != nil {
			return err
		}
	}
}
