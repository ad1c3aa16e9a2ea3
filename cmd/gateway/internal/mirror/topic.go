package mirror

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

var ErrTopicNotReady = errors.New("mirror: topic has no partitions yet")

// KafkaConn is the part of *kafka.Conn that topic setup uses.
type KafkaConn interface {
	Controller() (kafka.Broker, error)
	Close() error
	CreateTopics(topics ...kafka.TopicConfig) error
	ReadPartitions(topics ...string) ([]kafka.Partition, error)
}

var _ KafkaConn = (*kafka.Conn)(nil)

// Dialer opens an admin connection to one broker.
type Dialer func(ctx context.Context, address string) (KafkaConn, error)

// BrokerDialer dials brokers over TCP with d, or kafka.DefaultDialer when d is nil.
func BrokerDialer(d *kafka.Dialer) Dialer {
	if d == nil {
		d = kafka.DefaultDialer
	}
	return func(ctx context.Context, address string) (KafkaConn, error) {
		conn, err := d.DialContext(ctx, "tcp", address)
		if err != nil {
			return nil, err
		}
		return conn, nil
	}
}

// TopicCreator makes sure the mirror topic exists before the writer starts.
type TopicCreator struct {
	logger     *zap.Logger
	dial       Dialer
	partitions int

	readyPoll     time.Duration
	readyAttempts uint64
}

// NewTopicCreator polls for the created topic every readyPoll (200ms when zero).
func NewTopicCreator(logger *zap.Logger, dial Dialer, readyPoll time.Duration) *TopicCreator {
	if readyPoll <= 0 {
		readyPoll = 200 * time.Millisecond
	}
	return &TopicCreator{
		logger:        logger,
		dial:          dial,
		partitions:    4,
		readyPoll:     readyPoll,
		readyAttempts: 5,
	}
}

// Create asks the controller for topic and waits until it reports partitions. An
// existing topic is not an error.
func (tc *TopicCreator) Create(ctx context.Context, brokers []string, topic string) error {
	conn, err := tc.dialAny(ctx, brokers)
	if err != nil {
		return err
	}
	defer conn.Close()

	controller, err := conn.Controller()
	if err != nil {
		return fmt.Errorf("mirror: controller lookup: %w", err)
	}

	controllerConn, err := tc.dial(ctx, net.JoinHostPort(controller.Host, strconv.Itoa(controller.Port)))
	if err != nil {
		return fmt.Errorf("mirror: dial controller: %w", err)
	}
	defer controllerConn.Close()

	err = controllerConn.CreateTopics(kafka.TopicConfig{
		Topic:             topic,
		NumPartitions:     tc.partitions,
		ReplicationFactor: 1,
	})
	if err != nil && !errors.Is(err, kafka.TopicAlreadyExists) {
		tc.logger.Info("Topic creation returned", zap.String("topic", topic), zap.Error(err))
	}

	return tc.waitForTopic(ctx, conn, topic)
}

func (tc *TopicCreator) dialAny(ctx context.Context, brokers []string) (KafkaConn, error) {
	errs := make([]error, 0, len(brokers))
	for _, addr := range brokers {
		conn, err := tc.dial(ctx, addr)
		if err == nil {
			return conn, nil
		}
		errs = append(errs, fmt.Errorf("%s: %w", addr, err))
	}
	return nil, fmt.Errorf("mirror: no broker reachable: %w", errors.Join(errs...))
}

func (tc *TopicCreator) waitForTopic(ctx context.Context, conn KafkaConn, topic string) error {
	var ready int
	check := func() error {
		partitions, err := conn.ReadPartitions(topic)
		if err != nil {
			return err
		}
		if len(partitions) == 0 {
			return ErrTopicNotReady
		}
		ready = len(partitions)
		return nil
	}

	b := backoff.WithContext(backoff.WithMaxRetries(backoff.NewConstantBackOff(tc.readyPoll), tc.readyAttempts), ctx)
	if err := backoff.Retry(check, b); err != nil {
		return fmt.Errorf("mirror: topic %s: %w", topic, err)
	}

	tc.logger.Info("Topic is ready", zap.String("topic", topic), zap.Int("partitions", ready))
	return nil
}
