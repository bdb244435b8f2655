package mqtt

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"

	"github.com/ghalamif/AegisProbe/internal/domain"
	"github.com/ghalamif/AegisProbe/internal/ports"
)

type Publisher interface {
	Publish(topic string, qos byte, retained bool, payload interface{}) paho.Token
}

// RequestPublisher hands delivery requests to the push relay listening on
// <request_topic>/<device>.
type RequestPublisher struct {
	client  Publisher
	topic   string
	qos     byte
	timeout time.Duration
}

func NewRequestPublisher(client Publisher, cfg Config) *RequestPublisher {
	cfg.ApplyDefaults()
	return &RequestPublisher{client: client, topic: cfg.RequestTopic, qos: cfg.QoS, timeout: cfg.ConnectTimeout}
}

func (p *RequestPublisher) Enqueue(ctx context.Context, req domain.DeliveryRequest) error {
	w, err := req.ToWire()
	if err != nil {
		return fmt.Errorf("encode request %s: %w", req.ID(), err)
	}
	return p.Send(ctx, w)
}

// Send publishes an already flattened request, e.g. one read back from the outbox.
func (p *RequestPublisher) Send(ctx context.Context, w domain.WireRequest) error {
	body, err := json.Marshal(w)
	if err != nil {
		return fmt.Errorf("encode request %s: %w", w.ID, err)
	}
	topic := p.topic + "/" + w.Device
	tok := p.client.Publish(topic, p.qos, false, body)

	select {
	case <-tok.Done():
		if err := tok.Error(); err != nil {
			return fmt.Errorf("mqtt publish %s: %w", topic, err)
		}
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(p.timeout):
		return fmt.Errorf("mqtt publish %s: timeout", topic)
	}
}

var _ ports.RequestOutbox = (*RequestPublisher)(nil)
