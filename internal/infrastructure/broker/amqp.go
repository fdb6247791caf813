package broker

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/microshop/user-service/internal/core/domain"
)

// AMQPConfig holds RabbitMQ settings. The topic maps to a durable topic exchange.
type AMQPConfig struct {
	URL            string
	ConnectionName string
}

// AMQPTransport publishes to a RabbitMQ topic exchange with publisher confirms.
type AMQPTransport struct {
	cfg AMQPConfig

	mu           sync.Mutex
	conn         *amqp.Connection
	channel      *amqp.Channel
	disconnected chan error
}

func NewAMQPTransport(cfg AMQPConfig) *AMQPTransport {
	return &AMQPTransport{cfg: cfg}
}

func (t *AMQPTransport) Connect(ctx context.Context) error {
	if strings.TrimSpace(t.cfg.URL) == "" {
		return errors.New("amqp url is required")
	}

	props := amqp.NewConnectionProperties()
	if t.cfg.ConnectionName != "" {
		props.SetClientConnectionName(t.cfg.ConnectionName)
	}

	conn, err := amqp.DialConfig(t.cfg.URL, amqp.Config{Properties: props})
	if err != nil {
		return fmt.Errorf("amqp dial: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return fmt.Errorf("amqp channel: %w", err)
	}

	if err := ch.Confirm(false); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return fmt.Errorf("amqp confirm mode: %w", err)
	}

	closed := conn.NotifyClose(make(chan *amqp.Error, 1))
	disconnected := make(chan error, 1)
	go func() {
		if amqpErr, ok := <-closed; ok && amqpErr != nil {
			disconnected <- amqpErr
		}
		close(disconnected)
	}()

	t.mu.Lock()
	oldCh, oldConn := t.channel, t.conn
	t.conn, t.channel, t.disconnected = conn, ch, disconnected
	t.mu.Unlock()

	if oldCh != nil {
		_ = oldCh.Close()
	}
	if oldConn != nil {
		_ = oldConn.Close()
	}
	return nil
}

// EnsureTopic declares a durable topic exchange; declaring an existing one is a no-op.
func (t *AMQPTransport) EnsureTopic(_ context.Context, topic string) error {
	ch, err := t.currentChannel()
	if err != nil {
		return err
	}
	return ch.ExchangeDeclare(topic, amqp.ExchangeTopic, true, false, false, false, nil)
}

// Send publishes msg with a routing key derived from its type (USER_CREATED -> user.created)
// and waits for the broker confirm.
func (t *AMQPTransport) Send(ctx context.Context, topic string, msg Message) error {
	ch, err := t.currentChannel()
	if err != nil {
		return err
	}

	confirm, err := ch.PublishWithDeferredConfirmWithContext(ctx, topic, routingKey(msg.Type), false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    uuid.NewString(),
		Timestamp:    msg.Time,
		Type:         msg.Type,
		Headers:      amqp.Table{"key": string(msg.Key)},
		Body:         msg.Value,
	})
	if err != nil {
		return fmt.Errorf("amqp publish: %w", err)
	}

	acked, err := confirm.WaitContext(ctx)
	if err != nil {
		return fmt.Errorf("amqp confirm: %w", err)
	}
	if !acked {
		return errors.New("amqp publish nacked by broker")
	}
	return nil
}

func (t *AMQPTransport) Disconnected() <-chan error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.disconnected == nil {
		return nil
	}
	return t.disconnected
}

// Close closes the channel and connection.
func (t *AMQPTransport) Close() error {
	t.mu.Lock()
	ch, conn := t.channel, t.conn
	t.channel, t.conn = nil, nil
	t.mu.Unlock()

	if ch != nil {
		_ = ch.Close()
	}
	if conn != nil {
		return conn.Close()
	}
	return nil
}

func (t *AMQPTransport) currentChannel() (*amqp.Channel, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.channel == nil {
		return nil, domain.ErrPublisherNotConnected
	}
	return t.channel, nil
}

func routingKey(eventType string) string {
	return strings.ToLower(strings.ReplaceAll(eventType, "_", "."))
}
