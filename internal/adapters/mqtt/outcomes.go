package mqtt

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"

	"github.com/ghalamif/AegisProbe/internal/domain"
	"github.com/ghalamif/AegisProbe/internal/ports"
)

// Subscriber is the part of paho.Client the outcome source needs.
type Subscriber interface {
	Subscribe(topic string, qos byte, callback paho.MessageHandler) paho.Token
	Unsubscribe(topics ...string) paho.Token
}

// outcomeMessage is the payload apps publish when a user acts on a survey.
type outcomeMessage struct {
	DeliveryID string `json:"delivery_id"`
	Kind       string `json:"kind"`
	At         int64  `json:"at"`
}

// OutcomeSource turns outcome messages into domain events. Malformed
// messages are logged and dropped. A full event buffer blocks the message
// handler, and with it the broker acknowledgement, until the consumer catches
// up or the source is closed.
type OutcomeSource struct {
	client  Subscriber
	topic   string
	qos     byte
	timeout time.Duration
	obs     ports.Observability

	mu       sync.Mutex
	events   chan domain.OutcomeEvent
	done     chan struct{}
	inflight sync.WaitGroup
	closed   bool
}

func NewOutcomeSource(client Subscriber, cfg Config, obs ports.Observability) *OutcomeSource {
	cfg.ApplyDefaults()
	if obs == nil {
		obs = ports.NopObservability{}
	}
	return &OutcomeSource{
		client:  client,
		topic:   cfg.OutcomeTopic,
		qos:     cfg.QoS,
		timeout: cfg.ConnectTimeout,
		obs:     obs,
		done:    make(chan struct{}),
	}
}

// Outcomes subscribes and returns the event stream. The channel closes when
// ctx is done or Close is called.
func (s *OutcomeSource) Outcomes(ctx context.Context) (<-chan domain.OutcomeEvent, error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, errors.New("mqtt outcome source closed")
	}
	if s.events != nil {
		s.mu.Unlock()
		return nil, errors.New("mqtt outcome source already subscribed")
	}
	s.events = make(chan domain.OutcomeEvent, 64)
	s.mu.Unlock()

	if err := waitToken(s.client.Subscribe(s.topic, s.qos, s.handle), s.timeout, "subscribe "+s.topic); err != nil {
		s.mu.Lock()
		s.events = nil
		s.mu.Unlock()
		return nil, err
	}
	s.obs.LogInfo("outcome_subscription_started", ports.F("topic", s.topic))

	go func() {
		<-ctx.Done()
		s.Close()
	}()
	return s.events, nil
}

func (s *OutcomeSource) handle(_ paho.Client, msg paho.Message) {
	ev, err := decodeOutcome(msg.Payload())
	if err != nil {
		s.obs.LogError("outcome_decode_failed", err, ports.F("topic", msg.Topic()))
		return
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	events := s.events
	s.inflight.Add(1)
	s.mu.Unlock()
	defer s.inflight.Done()

	select {
	case events <- ev:
	case <-s.done:
		s.obs.LogError("outcome_dropped", errors.New("outcome source closed"), ports.F("delivery", ev.DeliveryID))
	}
}

func decodeOutcome(payload []byte) (domain.OutcomeEvent, error) {
	var m outcomeMessage
	if err := json.Unmarshal(payload, &m); err != nil {
		return domain.OutcomeEvent{}, fmt.Errorf("decode outcome: %w", err)
	}
	if m.DeliveryID == "" {
		return domain.OutcomeEvent{}, errors.New("decode outcome: delivery_id is required")
	}
	kind, err := domain.ParseOutcomeKind(m.Kind)
	if err != nil {
		return domain.OutcomeEvent{}, err
	}
	ev := domain.OutcomeEvent{DeliveryID: m.DeliveryID, Kind: kind}
	if m.At > 0 {
		ev.At = time.Unix(m.At, 0)
	}
	return ev, nil
}

func (s *OutcomeSource) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	close(s.done)
	events := s.events
	s.mu.Unlock()

	if events == nil {
		return nil
	}
	err := waitToken(s.client.Unsubscribe(s.topic), s.timeout, "unsubscribe "+s.topic)
	s.inflight.Wait()
	close(events)
	return err
}

var _ ports.OutcomeSource = (*OutcomeSource)(nil)
