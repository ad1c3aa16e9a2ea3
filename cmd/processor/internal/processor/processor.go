package processor

import (
	"context"
	"encoding/json"
	"errors"
	"hash/fnv"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/shubham-shewale/tick-hub/pkg/config"
	"github.com/shubham-shewale/tick-hub/pkg/models"
)

const (
	keyPrefix     = "stock:"
	channelPrefix = "prices."
)

// Processor mirrors the gateway's enriched ticks into Redis: the latest tick per symbol
// under stock:<SYM> and a pub/sub notification on prices.<SYM>.
type Processor struct {
	logger     Logger
	rdb        RedisClient
	reader     KafkaReader
	numWorkers int
	ttl        time.Duration
}

func NewProcessor(cfg *config.Config, logger Logger, rdb RedisClient, reader KafkaReader) *Processor {
	numWorkers := cfg.Processor.NumWorkers
	if numWorkers < 1 {
		numWorkers = 1
	}
	ttl := cfg.Redis.TTL
	if ttl <= 0 {
		ttl = time.Hour
	}

	return &Processor{
		logger:     logger,
		rdb:        rdb,
		reader:     reader,
		numWorkers: numWorkers,
		ttl:        ttl,
	}
}

func (p *Processor) Run(ctx context.Context) error {
	workerChans := make([]chan []byte, p.numWorkers)
	var wg sync.WaitGroup

	for i := 0; i < p.numWorkers; i++ {
		workerChans[i] = make(chan []byte, 100)
		wg.Add(1)
		go p.worker(i, workerChans[i], &wg)
	}

	readerDone := make(chan struct{})
	go func() {
		defer close(readerDone)
		p.logger.Info("Processor Started", zap.Int("workers", p.numWorkers))
		for {
			m, err := p.reader.ReadMessage(ctx)
			if err != nil {
				if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
					return
				}
				p.logger.Error("Kafka Read Error", zap.Error(err))
				continue
			}

			// Deterministic Sharding: Same symbol always goes to same worker
			workerID := getWorkerID(m.Key, p.numWorkers)

			select {
			case workerChans[workerID] <- m.Value:
			case <-ctx.Done():
				return
			default:
				// a newer tick for the symbol will follow; latest beats complete
				p.logger.Warn("Dropping slow packet", zap.String("key", string(m.Key)), zap.Int("worker_id", workerID))
			}
		}
	}()

	<-ctx.Done()
	p.logger.Info("Shutdown signal received, stopping processor...")

	// the reader must be gone before its channels close
	<-readerDone
	for _, ch := range workerChans {
		close(ch)
	}
	p.logger.Info("Waiting for workers to drain...")
	wg.Wait()

	return nil
}

func (p *Processor) worker(id int, msgs <-chan []byte, wg *sync.WaitGroup) {
	defer wg.Done()
	ctx := context.Background()

	// only sound because a symbol is always routed to the same worker
	lastTs := make(map[string]int64)

	for payload := range msgs {
		var tick models.EnrichedTick
		if err := json.Unmarshal(payload, &tick); err != nil {
			p.logger.Error("JSON Unmarshal Error", zap.Error(err))
			continue
		}
		if tick.Symbol == "" {
			p.logger.Warn("Skipping tick without symbol")
			continue
		}

		if last, ok := lastTs[tick.Symbol]; ok && tick.Timestamp < last {
			p.logger.Debug("Skipping stale tick", zap.String("symbol", tick.Symbol), zap.Int64("timestamp", tick.Timestamp), zap.Int64("last", last))
			continue
		}

		pipe := p.rdb.Pipeline()
		pipe.Set(ctx, SnapshotKey(tick.Symbol), payload, p.ttl)
		pipe.Publish(ctx, PriceChannel(tick.Symbol), payload)

		if _, err := pipe.Exec(ctx); err != nil {
			p.logger.Error("Redis Pipeline Error", zap.Error(err), zap.String("symbol", tick.Symbol))
			continue
		}

		p.logger.Debug("Processed", zap.String("symbol", tick.Symbol), zap.Int("worker_id", id))
		lastTs[tick.Symbol] = tick.Timestamp
	}
}

// SnapshotKey is the Redis key holding the latest tick for symbol.
func SnapshotKey(symbol string) string { return keyPrefix + symbol }

// PriceChannel is the pub/sub channel notified on every applied tick.
func PriceChannel(symbol string) string { return channelPrefix + symbol }

func getWorkerID(key []byte, numWorkers int) int {
	h := fnv.New32a()
	h.Write(key)
	return int(h.Sum32() % uint32(numWorkers))
}
