package domain

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	// ErrUnsupportedFormat is a configuration error: the transport format has no wire name.
	ErrUnsupportedFormat = errors.New("unsupported transport format")
	// ErrInvalidRequest indicates a delivery request could not be built from the given inputs.
	ErrInvalidRequest = errors.New("invalid delivery request")
)

// Format selects the push transport a request is encoded for.
type Format int

const (
	FormatUnspecified Format = iota
	FormatFirebase
	FormatApple
)

// WireName returns the exact string the transport expects.
func (f Format) WireName() (string, error) {
	switch f {
	case FormatFirebase:
		return "gcm", nil
	case FormatApple:
		return "apple", nil
	default:
		return "", fmt.Errorf("%w: %d", ErrUnsupportedFormat, int(f))
	}
}

func (f Format) String() string {
	name, err := f.WireName()
	if err != nil {
		return "unspecified"
	}
	return name
}

// ParseFormat maps configuration values onto a Format.
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "gcm", "fcm", "firebase":
		return FormatFirebase, nil
	case "apple", "apns":
		return FormatApple, nil
	default:
		return FormatUnspecified, fmt.Errorf("%w: %q", ErrUnsupportedFormat, s)
	}
}

func (f Format) MarshalText() ([]byte, error) {
	name, err := f.WireName()
	if err != nil {
		return nil, err
	}
	return []byte(name), nil
}

func (f *Format) UnmarshalText(b []byte) error {
	parsed, err := ParseFormat(string(b))
	if err != nil {
		return err
	}
	*f = parsed
	return nil
}

// SurveyPayload is what the user sees and what the app runs on receipt.
type SurveyPayload struct {
	Title   string
	Body    string
	Sound   string
	Command string
}

// DeliveryRequest is created once per delivery attempt and never mutated.
// Two requests are equal iff their ids are equal.
type DeliveryRequest struct {
	id          string
	target      string
	protocolID  string
	payload     SurveyPayload
	format      Format
	createdAt   time.Time
	scheduledAt time.Time
}

// NewDeliveryRequest assembles a request from already validated parts.
// Most callers want delivery.Builder, which validates its inputs.
func NewDeliveryRequest(id, target, protocolID string, payload SurveyPayload, format Format, createdAt, scheduledAt time.Time) DeliveryRequest {
	return DeliveryRequest{
		id:          id,
		target:      target,
		protocolID:  protocolID,
		payload:     payload,
		format:      format,
		createdAt:   createdAt,
		scheduledAt: scheduledAt,
	}
}

func (r DeliveryRequest) ID() string             { return r.id }
func (r DeliveryRequest) Target() string         { return r.target }
func (r DeliveryRequest) ProtocolID() string     { return r.protocolID }
func (r DeliveryRequest) Payload() SurveyPayload { return r.payload }
func (r DeliveryRequest) Format() Format         { return r.format }
func (r DeliveryRequest) CreatedAt() time.Time   { return r.createdAt }
func (r DeliveryRequest) ScheduledAt() time.Time { return r.scheduledAt }

func (r DeliveryRequest) Equal(o DeliveryRequest) bool { return r.id == o.id }

// WireRequest is the flat key/value form consumed by the transport boundary.
type WireRequest struct {
	ID           string `json:"id"`
	Device       string `json:"device"`
	Protocol     string `json:"protocol"`
	Title        string `json:"title"`
	Body         string `json:"body"`
	Sound        string `json:"sound"`
	Command      string `json:"command"`
	Format       string `json:"format"`
	CreationTime int64  `json:"creation-time"`
	Time         int64  `json:"time"`
}

func (r DeliveryRequest) ToWire() (WireRequest, error) {
	format, err := r.format.WireName()
	if err != nil {
		return WireRequest{}, err
	}
	return WireRequest{
		ID:           r.id,
		Device:       r.target,
		Protocol:     r.protocolID,
		Title:        r.payload.Title,
		Body:         r.payload.Body,
		Sound:        r.payload.Sound,
		Command:      r.payload.Command,
		Format:       format,
		CreationTime: r.createdAt.Unix(),
		Time:         r.scheduledAt.Unix(),
	}, nil
}

func (r DeliveryRequest) MarshalJSON() ([]byte, error) {
	w, err := r.ToWire()
	if err != nil {
		return nil, err
	}
	return json.Marshal(w)
}
