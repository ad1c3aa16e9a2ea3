package generator

import (
	"math/rand"
	"time"

	"github.com/shubham-shewale/tick-hub/pkg/models"
)

// for deterministic testing
type Clock interface {
	Now() time.Time
	Sleep(d time.Duration)
}

// for deterministic values
type Rand interface {
	Intn(n int) int
	Float64() float64
}

// Feed receives every generated batch and fans it out to subscribed connections.
type Feed interface {
	Publish(trades []models.TradeData)
}

type RealClock struct{}

func (RealClock) Now() time.Time        { return time.Now() }
func (RealClock) Sleep(d time.Duration) { time.Sleep(d) }

type RealRand struct{ *rand.Rand }

func (r RealRand) Intn(n int) int   { return r.Rand.Intn(n) }
func (r RealRand) Float64() float64 { return r.Rand.Float64() }
