package mirror

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/segmentio/kafka-go"

	"github.com/shubham-shewale/tick-hub/pkg/models"
)

type KafkaWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

var _ Publisher = (*KafkaPublisher)(nil)

// KafkaPublisher writes one message per tick, keyed by symbol so a symbol's ticks
// stay ordered within its partition.
type KafkaPublisher struct {
	writer KafkaWriter
}

func NewKafkaPublisher(writer KafkaWriter) *KafkaPublisher {
	return &KafkaPublisher{writer: writer}
}

// Publish writes every encodable tick. Ticks that fail to encode are reported in the
// returned error but do not hold back the rest of the batch.
func (k *KafkaPublisher) Publish(ctx context.Context, ticks []models.EnrichedTick) error {
	msgs := make([]kafka.Message, 0, len(ticks))
	var errs []error
	for _, t := range ticks {
		payload, err := json.Marshal(t)
		if err != nil {
			errs = append(errs, fmt.Errorf("encode %s: %w", t.Symbol, err))
			continue
		}
		msgs = append(msgs, kafka.Message{Key: []byte(t.Symbol), Value: payload})
	}
	if len(msgs) > 0 {
		if err := k.writer.WriteMessages(ctx, msgs...); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (k *KafkaPublisher) Close() error { return k.writer.Close() }
