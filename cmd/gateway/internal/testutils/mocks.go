package testutils

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/shubham-shewale/tick-hub/cmd/gateway/internal/mirror"
	"github.com/shubham-shewale/tick-hub/cmd/gateway/internal/protocol"
	"github.com/shubham-shewale/tick-hub/pkg/models"
)

var ErrMockWrite = errors.New("mock write failure")

// MockConn records every frame written to it. Block makes writes hang until Close,
// simulating a subscriber that never reads. A non-nil Gate holds each write until
// a value is received from it or the gate is closed. Delay slows every write down.
type MockConn struct {
	Mu       sync.Mutex
	Frames   []protocol.TradeFrame
	Closed   bool
	FailNext bool

	Block    bool
	Gate     chan struct{}
	Delay    time.Duration
	closedCh chan struct{}
	once     sync.Once
}

func NewMockConn() *MockConn {
	return &MockConn{closedCh: make(chan struct{})}
}

func NewBlockingConn() *MockConn {
	c := NewMockConn()
	c.Block = true
	return c
}

func (m *MockConn) WriteFrame(b []byte) error {
	m.Mu.Lock()
	block, fail, gate, delay := m.Block, m.FailNext, m.Gate, m.Delay
	m.Mu.Unlock()

	if fail {
		return ErrMockWrite
	}
	if block {
		<-m.closedCh
		return errors.New("mock conn closed")
	}
	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-m.closedCh:
			return errors.New("mock conn closed")
		}
	}
	if gate != nil {
		select {
		case <-gate:
		case <-m.closedCh:
			return errors.New("mock conn closed")
		}
	}

	f, err := protocol.DecodeTrades(b)
	if err != nil {
		return err
	}

	m.Mu.Lock()
	defer m.Mu.Unlock()
	m.Frames = append(m.Frames, f)
	return nil
}

func (m *MockConn) Close() error {
	m.once.Do(func() {
		m.Mu.Lock()
		m.Closed = true
		m.Mu.Unlock()
		close(m.closedCh)
	})
	return nil
}

func (m *MockConn) IsClosed() bool {
	m.Mu.Lock()
	defer m.Mu.Unlock()
	return m.Closed
}

// Ticks flattens all received frames in order.
func (m *MockConn) Ticks() []models.EnrichedTick {
	m.Mu.Lock()
	defer m.Mu.Unlock()

	var out []models.EnrichedTick
	for _, f := range m.Frames {
		out = append(out, f.Data...)
	}
	return out
}

// RecordingEmitter captures enriched ticks synchronously.
type RecordingEmitter struct {
	Mu    sync.Mutex
	Ticks []models.EnrichedTick
}

func (r *RecordingEmitter) Broadcast(t models.EnrichedTick) {
	r.Mu.Lock()
	defer r.Mu.Unlock()
	r.Ticks = append(r.Ticks, t)
}

func (r *RecordingEmitter) Snapshot() []models.EnrichedTick {
	r.Mu.Lock()
	defer r.Mu.Unlock()
	out := make([]models.EnrichedTick, len(r.Ticks))
	copy(out, r.Ticks)
	return out
}

// BySymbol groups ticks per symbol, preserving order within each symbol.
func BySymbol(ticks []models.EnrichedTick) map[string][]models.EnrichedTick {
	out := make(map[string][]models.EnrichedTick)
	for _, t := range ticks {
		out[t.Symbol] = append(out[t.Symbol], t)
	}
	return out
}

// MockSink collects submitted ticks.
type MockSink struct {
	Mu    sync.Mutex
	Ticks []models.Tick
}

func (m *MockSink) Submit(ctx context.Context, t models.Tick) error {
	m.Mu.Lock()
	defer m.Mu.Unlock()
	m.Ticks = append(m.Ticks, t)
	return nil
}

func (m *MockSink) Len() int {
	m.Mu.Lock()
	defer m.Mu.Unlock()
	return len(m.Ticks)
}

type MockKafkaWriter struct {
	Messages   []kafka.Message
	Mu         sync.Mutex
	ShouldFail bool
	Closed     bool
}

func (m *MockKafkaWriter) WriteMessages(ctx context.Context, msgs ...kafka.Message) error {
	m.Mu.Lock()
	defer m.Mu.Unlock()
	if m.ShouldFail {
		return errors.New("kafka error")
	}
	m.Messages = append(m.Messages, msgs...)
	return nil
}

func (m *MockKafkaWriter) Close() error {
	m.Mu.Lock()
	defer m.Mu.Unlock()
	m.Closed = true
	return nil
}

func (m *MockKafkaWriter) Len() int {
	m.Mu.Lock()
	defer m.Mu.Unlock()
	return len(m.Messages)
}

// MockKafkaConn reports no partitions for the first Pending reads.
type MockKafkaConn struct {
	Mu            sync.Mutex
	CreatedTopics []string
	Pending       int
	Reads         int
}

func (m *MockKafkaConn) Controller() (kafka.Broker, error) {
	return kafka.Broker{Host: "localhost", Port: 9092}, nil
}
func (m *MockKafkaConn) Close() error { return nil }
func (m *MockKafkaConn) CreateTopics(topics ...kafka.TopicConfig) error {
	m.Mu.Lock()
	defer m.Mu.Unlock()
	for _, t := range topics {
		m.CreatedTopics = append(m.CreatedTopics, t.Topic)
	}
	return nil
}
func (m *MockKafkaConn) ReadPartitions(topics ...string) ([]kafka.Partition, error) {
	m.Mu.Lock()
	defer m.Mu.Unlock()
	m.Reads++
	if m.Reads <= m.Pending {
		return nil, nil
	}
	return []kafka.Partition{{ID: 0}}, nil
}

type MockKafkaDialer struct {
	ConnSpy *MockKafkaConn
	Fail    bool
	Dialed  []string
}

// Dial satisfies mirror.Dialer; every address gets the same ConnSpy.
func (m *MockKafkaDialer) Dial(ctx context.Context, address string) (mirror.KafkaConn, error) {
	m.Dialed = append(m.Dialed, address)
	if m.Fail {
		return nil, errors.New("dial refused")
	}
	if m.ConnSpy == nil {
		m.ConnSpy = &MockKafkaConn{}
	}
	return m.ConnSpy, nil
}

// Eventually polls cond until it holds or the timeout elapses.
func Eventually(t *testing.T, timeout time.Duration, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("Condition not met within %s: %s", timeout, msg)
}
