// Package broker publishes user lifecycle events. Publisher owns the
// connection state machine; Transport implementations (Kafka, AMQP) own the wire.
package broker

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"github.com/microshop/user-service/internal/core/domain"
	"github.com/microshop/user-service/internal/pkg/metrics"
)

// State is the publisher's connection state.
type State int32

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	default:
		return "disconnected"
	}
}

// Publisher sends lifecycle events to a single topic. The connection is
// established lazily: the first Publish while disconnected runs Initialize.
// Concurrent initializations collapse into one.
type Publisher struct {
	transport Transport
	topic     string
	log       zerolog.Logger
	init      singleflight.Group
	now       func() time.Time

	mu         sync.RWMutex
	state      State
	generation uint64
	observers  []func(State)
}

func NewPublisher(transport Transport, topic string, log zerolog.Logger) *Publisher {
	if topic == "" {
		topic = domain.UserEventsTopic
	}
	return &Publisher{
		transport: transport,
		topic:     topic,
		log:       log.With().Str("component", "publisher").Str("topic", topic).Logger(),
		now:       time.Now,
	}
}

// State returns the current connection state.
func (p *Publisher) State() State {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.state
}

// OnStateChange registers fn to be called after every state transition.
func (p *Publisher) OnStateChange(fn func(State)) {
	p.mu.Lock()
	p.observers = append(p.observers, fn)
	p.mu.Unlock()
}

// Initialize connects the transport and makes sure the topic exists. It is a
// no-op when already connected. On failure the publisher stays disconnected.
func (p *Publisher) Initialize(ctx context.Context) error {
	if p.State() == StateConnected {
		return nil
	}

	_, err, _ := p.init.Do("initialize", func() (any, error) {
		if p.State() == StateConnected {
			return nil, nil
		}
		p.setState(StateConnecting)

		if err := p.transport.Connect(ctx); err != nil {
			p.setState(StateDisconnected)
			p.log.Error().Err(err).Msg("broker connect failed")
			return nil, fmt.Errorf("broker connect: %w", err)
		}

		if err := p.transport.EnsureTopic(ctx, p.topic); err != nil {
			_ = p.transport.Close()
			p.setState(StateDisconnected)
			p.log.Error().Err(err).Msg("failed to ensure topic exists")
			return nil, fmt.Errorf("ensure topic %s: %w", p.topic, err)
		}

		p.mu.Lock()
		p.generation++
		gen := p.generation
		p.mu.Unlock()

		p.setState(StateConnected)
		p.log.Info().Msg("broker connected")

		if ch := p.transport.Disconnected(); ch != nil {
			go p.watch(gen, ch)
		}
		return nil, nil
	})
	return err
}

// Publish serialises event and sends it, initializing the connection first
// when needed. Errors are returned to the caller, which decides whether to
// surface them.
func (p *Publisher) Publish(ctx context.Context, event domain.UserEvent) error {
	if p.State() != StateConnected {
		if err := p.Initialize(ctx); err != nil {
			metrics.EventsPublishErrorsTotal.WithLabelValues(string(event.Type)).Inc()
			return fmt.Errorf("publish %s: %w", event.Type, err)
		}
	}

	value, err := json.Marshal(event)
	if err != nil {
		metrics.EventsPublishErrorsTotal.WithLabelValues(string(event.Type)).Inc()
		return fmt.Errorf("publish %s: marshal: %w", event.Type, err)
	}

	msg := Message{
		Key:   []byte(event.Data.UserID),
		Value: value,
		Type:  string(event.Type),
		Time:  p.now(),
	}
	if err := p.transport.Send(ctx, p.topic, msg); err != nil {
		metrics.EventsPublishErrorsTotal.WithLabelValues(string(event.Type)).Inc()
		p.log.Error().Err(err).Str("type", string(event.Type)).Str("user_id", event.Data.UserID).Msg("failed to publish event")
		return fmt.Errorf("publish %s: %w", event.Type, err)
	}

	metrics.EventsPublishedTotal.WithLabelValues(string(event.Type)).Inc()
	p.log.Info().Str("type", string(event.Type)).Str("user_id", event.Data.UserID).Msg("event published")
	return nil
}

// Shutdown closes the transport. Errors are logged, never returned.
func (p *Publisher) Shutdown() {
	p.mu.Lock()
	if p.state == StateDisconnected {
		p.mu.Unlock()
		return
	}
	// Invalidate the watcher of the current connection; this close is expected.
	p.generation++
	p.mu.Unlock()

	if err := p.transport.Close(); err != nil {
		p.log.Error().Err(err).Msg("broker disconnect error")
	} else {
		p.log.Info().Msg("broker disconnected")
	}
	p.setState(StateDisconnected)
}

func (p *Publisher) watch(gen uint64, ch <-chan error) {
	err := <-ch

	p.mu.Lock()
	if p.generation != gen || p.state != StateConnected {
		p.mu.Unlock()
		return
	}
	observers, changed := p.setStateLocked(StateDisconnected)
	p.mu.Unlock()

	p.log.Warn().Err(err).Msg("broker connection lost")
	p.notify(StateDisconnected, observers, changed)
}

func (p *Publisher) setState(s State) {
	p.mu.Lock()
	observers, changed := p.setStateLocked(s)
	p.mu.Unlock()
	p.notify(s, observers, changed)
}

func (p *Publisher) setStateLocked(s State) ([]func(State), bool) {
	if p.state == s {
		return nil, false
	}
	p.state = s
	observers := make([]func(State), len(p.observers))
	copy(observers, p.observers)
	return observers, true
}

func (p *Publisher) notify(s State, observers []func(State), changed bool) {
	if !changed {
		return
	}
	metrics.BrokerConnectionState.Set(float64(s))
	for _, fn := range observers {
		fn(s)
	}
}
