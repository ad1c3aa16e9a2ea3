package enrich

import (
	"context"
	"errors"
	"hash/fnv"
	"sync"

	"go.uber.org/zap"

	"github.com/shubham-shewale/tick-hub/cmd/gateway/internal/state"
	"github.com/shubham-shewale/tick-hub/pkg/models"
)

var ErrStopped = errors.New("enrich: pipeline stopped")

// Emitter receives every enriched tick. Implementations must not block.
type Emitter interface {
	Broadcast(t models.EnrichedTick)
}

// Pipeline enriches ticks against the shared Store and hands them to its emitters.
// Ticks are sharded by symbol so that each symbol is processed by exactly one worker,
// in the order it was submitted.
type Pipeline struct {
	store    *state.Store
	emitters []Emitter
	logger   *zap.Logger

	shards []chan models.Tick
	done   chan struct{}
	once   sync.Once
}

func NewPipeline(store *state.Store, logger *zap.Logger, numWorkers, queueSize int, emitters ...Emitter) *Pipeline {
	if numWorkers < 1 {
		numWorkers = 1
	}
	shards := make([]chan models.Tick, numWorkers)
	for i := range shards {
		shards[i] = make(chan models.Tick, queueSize)
	}

	return &Pipeline{
		store:    store,
		emitters: emitters,
		logger:   logger,
		shards:   shards,
		done:     make(chan struct{}),
	}
}

// Process enriches t synchronously, updates the store and emits the result.
func (p *Pipeline) Process(t models.Tick) models.EnrichedTick {
	prior, seen := p.store.Upsert(t.Symbol, t.Price, t.Timestamp)
	et := Enrich(t, prior, seen)

	for _, e := range p.emitters {
		e.Broadcast(et)
	}
	return et
}

// Submit queues t on its symbol's shard. It blocks only while that shard is full.
func (p *Pipeline) Submit(ctx context.Context, t models.Tick) error {
	select {
	case <-p.done:
		return ErrStopped
	default:
	}

	select {
	case p.shards[shardFor(t.Symbol, len(p.shards))] <- t:
		return nil
	case <-p.done:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Run starts one worker per shard and blocks until ctx is cancelled.
// Ticks still queued at that point are abandoned.
func (p *Pipeline) Run(ctx context.Context) error {
	var wg sync.WaitGroup
	for i, ch := range p.shards {
		wg.Add(1)
		go p.worker(i, ch, &wg)
	}
	p.logger.Info("Enrichment pipeline started", zap.Int("workers", len(p.shards)))

	<-ctx.Done()
	p.once.Do(func() { close(p.done) })
	wg.Wait()

	p.logger.Info("Enrichment pipeline stopped")
	return nil
}

func (p *Pipeline) worker(id int, ticks <-chan models.Tick, wg *sync.WaitGroup) {
	defer wg.Done()

	for {
		select {
		case <-p.done:
			return
		case t := <-ticks:
			et := p.Process(t)
			p.logger.Debug("Enriched",
				zap.String("symbol", et.Symbol),
				zap.Float64("price", et.Price),
				zap.Float64("change_pct", et.PriceChangePercent),
				zap.Int("worker_id", id))
		}
	}
}

// Same symbol always lands on the same shard.
func shardFor(symbol string, n int) int {
	h := fnv.New32a()
	h.Write([]byte(symbol))
	return int(h.Sum32() % uint32(n))
}
