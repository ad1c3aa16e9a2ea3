package mirror

import (
	"context"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/shubham-shewale/tick-hub/pkg/models"
)

// Publisher ships a batch of enriched ticks to an external system.
type Publisher interface {
	Publish(ctx context.Context, ticks []models.EnrichedTick) error
	Close() error
}

// Mirror decouples a Publisher from the enrichment hot path. Broadcast never blocks:
// when the queue is full the tick is dropped and counted.
type Mirror struct {
	name     string
	pub      Publisher
	logger   *zap.Logger
	queue    chan models.EnrichedTick
	maxBatch int

	dropped atomic.Uint64
}

func New(name string, pub Publisher, logger *zap.Logger, queueSize, maxBatch int) *Mirror {
	if maxBatch < 1 {
		maxBatch = 1
	}
	return &Mirror{
		name:     name,
		pub:      pub,
		logger:   logger.With(zap.String("mirror", name)),
		queue:    make(chan models.EnrichedTick, queueSize),
		maxBatch: maxBatch,
	}
}

func (m *Mirror) Broadcast(t models.EnrichedTick) {
	select {
	case m.queue <- t:
	default:
		m.dropped.Add(1)
	}
}

func (m *Mirror) Name() string { return m.name }

// Dropped counts ticks lost because the queue was full.
func (m *Mirror) Dropped() uint64 { return m.dropped.Load() }

// Run publishes queued ticks in batches until ctx is cancelled, then closes the publisher.
func (m *Mirror) Run(ctx context.Context) error {
	m.logger.Info("Mirror started")
	defer func() {
		if err := m.pub.Close(); err != nil {
			m.logger.Error("Error closing publisher", zap.Error(err))
		}
		m.logger.Info("Mirror stopped", zap.Uint64("dropped", m.dropped.Load()))
	}()

	batch := make([]models.EnrichedTick, 0, m.maxBatch)
	for {
		select {
		case <-ctx.Done():
			return nil
		case t := <-m.queue:
			batch = append(batch[:0], t)
		fill:
			for len(batch) < m.maxBatch {
				select {
				case t := <-m.queue:
					batch = append(batch, t)
				default:
					break fill
				}
			}

			if err := m.pub.Publish(ctx, batch); err != nil {
				m.logger.Error("Publish failed", zap.Error(err), zap.Int("ticks", len(batch)))
			}
		}
	}
}
