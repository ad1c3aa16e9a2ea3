package testutils

import (
	"sync"
	"time"

	"github.com/shubham-shewale/tick-hub/pkg/models"
)

type MockFeed struct {
	Batches [][]models.TradeData
	Mu      sync.Mutex
}

func (m *MockFeed) Publish(trades []models.TradeData) {
	m.Mu.Lock()
	defer m.Mu.Unlock()
	m.Batches = append(m.Batches, trades)
}

func (m *MockFeed) Trades() []models.TradeData {
	m.Mu.Lock()
	defer m.Mu.Unlock()
	var out []models.TradeData
	for _, b := range m.Batches {
		out = append(out, b...)
	}
	return out
}

type MockClock struct {
	mu          sync.Mutex
	CurrentTime time.Time
}

func (m *MockClock) Now() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.CurrentTime
}

func (m *MockClock) Sleep(d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.CurrentTime = m.CurrentTime.Add(d)
}

type MockRand struct {
	ValInt   int
	ValFloat float64
}

func (m *MockRand) Intn(n int) int   { return m.ValInt }
func (m *MockRand) Float64() float64 { return m.ValFloat }
