package processor

import (
	"context"

	"github.com/redis/go-redis/v9"
	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// Logger is the subset of *zap.Logger the processor logs through.
type Logger interface {
	Debug(msg string, fields ...zap.Field)
	Info(msg string, fields ...zap.Field)
	Warn(msg string, fields ...zap.Field)
	Error(msg string, fields ...zap.Field)
}

// KafkaReader yields enriched ticks keyed by symbol. The owner closes it after Run returns.
type KafkaReader interface {
	ReadMessage(ctx context.Context) (kafka.Message, error)
}

// RedisClient opens the pipelines each snapshot write goes through.
type RedisClient interface {
	Pipeline() redis.Pipeliner
}

var (
	_ Logger      = (*zap.Logger)(nil)
	_ KafkaReader = (*kafka.Reader)(nil)
	_ RedisClient = (*redis.Client)(nil)
)
