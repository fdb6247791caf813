package broker

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/microshop/user-service/internal/core/domain"
)

const (
	defaultKafkaRetries      = 3
	defaultKafkaRetryBackoff = 100 * time.Millisecond
	defaultKafkaDialTimeout  = 5 * time.Second
)

// KafkaConfig holds producer settings. Retries bounds the writer's own retry
// loop; nothing above the transport retries again.
type KafkaConfig struct {
	Brokers           []string
	ClientID          string
	Retries           int
	RetryBackoff      time.Duration
	DialTimeout       time.Duration
	Partitions        int
	ReplicationFactor int
}

// KafkaTransport writes messages through a kafka-go Writer and manages topics
// through a direct broker connection.
type KafkaTransport struct {
	cfg    KafkaConfig
	dialer *kafka.Dialer

	mu     sync.Mutex
	writer *kafka.Writer
}

func NewKafkaTransport(cfg KafkaConfig) *KafkaTransport {
	if cfg.Retries <= 0 {
		cfg.Retries = defaultKafkaRetries
	}
	if cfg.RetryBackoff <= 0 {
		cfg.RetryBackoff = defaultKafkaRetryBackoff
	}
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = defaultKafkaDialTimeout
	}
	if cfg.Partitions <= 0 {
		cfg.Partitions = 1
	}
	if cfg.ReplicationFactor <= 0 {
		cfg.ReplicationFactor = 1
	}
	return &KafkaTransport{
		cfg: cfg,
		dialer: &kafka.Dialer{
			ClientID: cfg.ClientID,
			Timeout:  cfg.DialTimeout,
		},
	}
}

// Connect verifies that at least one broker is reachable and prepares the writer.
func (t *KafkaTransport) Connect(ctx context.Context) error {
	conn, err := t.dial(ctx)
	if err != nil {
		return err
	}
	_ = conn.Close()

	w := &kafka.Writer{
		Addr:            kafka.TCP(t.cfg.Brokers...),
		Balancer:        &kafka.Hash{},
		MaxAttempts:     t.cfg.Retries,
		WriteBackoffMin: t.cfg.RetryBackoff,
		RequiredAcks:    kafka.RequireAll,
		Transport: &kafka.Transport{
			ClientID:    t.cfg.ClientID,
			DialTimeout: t.cfg.DialTimeout,
		},
	}

	t.mu.Lock()
	old := t.writer
	t.writer = w
	t.mu.Unlock()

	if old != nil {
		_ = old.Close()
	}
	return nil
}

// EnsureTopic lists the cluster's topics and creates topic on the controller when absent.
func (t *KafkaTransport) EnsureTopic(ctx context.Context, topic string) error {
	conn, err := t.dial(ctx)
	if err != nil {
		return err
	}
	defer conn.Close()

	partitions, err := conn.ReadPartitions()
	if err != nil {
		return fmt.Errorf("list topics: %w", err)
	}
	for _, p := range partitions {
		if p.Topic == topic {
			return nil
		}
	}

	controller, err := conn.Controller()
	if err != nil {
		return fmt.Errorf("find controller: %w", err)
	}
	addr := net.JoinHostPort(controller.Host, strconv.Itoa(controller.Port))
	cc, err := t.dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("dial controller %s: %w", addr, err)
	}
	defer cc.Close()

	err = cc.CreateTopics(kafka.TopicConfig{
		Topic:             topic,
		NumPartitions:     t.cfg.Partitions,
		ReplicationFactor: t.cfg.ReplicationFactor,
	})
	if err != nil && !errors.Is(err, kafka.TopicAlreadyExists) {
		return fmt.Errorf("create topic: %w", err)
	}
	return nil
}

func (t *KafkaTransport) Send(ctx context.Context, topic string, msg Message) error {
	t.mu.Lock()
	w := t.writer
	t.mu.Unlock()
	if w == nil {
		return domain.ErrPublisherNotConnected
	}

	return w.WriteMessages(ctx, kafka.Message{
		Topic: topic,
		Key:   msg.Key,
		Value: msg.Value,
		Time:  msg.Time,
		Headers: []kafka.Header{
			{Key: "type", Value: []byte(msg.Type)},
		},
	})
}

// Disconnected returns nil: the writer pools connections per request and has
// no connection-lost signal.
func (t *KafkaTransport) Disconnected() <-chan error {
	return nil
}

func (t *KafkaTransport) Close() error {
	t.mu.Lock()
	w := t.writer
	t.writer = nil
	t.mu.Unlock()

	if w == nil {
		return nil
	}
	return w.Close()
}

// dial returns a connection to the first reachable broker.
func (t *KafkaTransport) dial(ctx context.Context) (*kafka.Conn, error) {
	if len(t.cfg.Brokers) == 0 {
		return nil, errors.New("kafka: no brokers configured")
	}

	var errs []error
	for _, addr := range t.cfg.Brokers {
		conn, err := t.dialer.DialContext(ctx, "tcp", addr)
		if err == nil {
			return conn, nil
		}
		errs = append(errs, fmt.Errorf("%s: %w", addr, err))
	}
	return nil, fmt.Errorf("kafka dial: %w", errors.Join(errs...))
}
