package kafka

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"
)

// Header keys set on every published message.
const (
	HeaderEventType     = "event_type"
	HeaderSource        = "source"
	HeaderCorrelationID = "correlation_id"
)

// Event is the JSON envelope of every message.
type Event struct {
	EventID       string            `json:"event_id"`
	EventType     string            `json:"event_type"`
	AggregateID   string            `json:"aggregate_id"`
	AggregateType string            `json:"aggregate_type"`
	Version       int               `json:"version"`
	Timestamp     time.Time         `json:"timestamp"`
	Source        string            `json:"source"`
	CorrelationID string            `json:"correlation_id,omitempty"`
	Data          json.RawMessage   `json:"data"`
	Metadata      map[string]string `json:"metadata,omitempty"`
}

// EventOption customizes an Event built by NewEvent.
type EventOption func(*Event)

// WithCorrelationID ties the event to the request that caused it. Empty ids
// are ignored.
func WithCorrelationID(id string) EventOption {
	return func(e *Event) {
		if id != "" {
			e.CorrelationID = id
		}
	}
}

// WithMetadata adds one metadata entry.
func WithMetadata(key, value string) EventOption {
	return func(e *Event) {
		if e.Metadata == nil {
			e.Metadata = make(map[string]string)
		}
		e.Metadata[key] = value
	}
}

// NewEvent wraps data in a version 1 envelope with a fresh id.
func NewEvent(eventType, aggregateID, aggregateType, source string, data any, opts ...EventOption) (*Event, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("marshal %s payload: %w", eventType, err)
	}

	e := &Event{
		EventID:       uuid.NewString(),
		EventType:     eventType,
		AggregateID:   aggregateID,
		AggregateType: aggregateType,
		Version:       1,
		Timestamp:     time.Now().UTC(),
		Source:        source,
		Data:          raw,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// Message encodes the event for topic. The aggregate id is the message key so
// all events of one aggregate land on the same partition.
func (e *Event) Message(topic string) (kafka.Message, error) {
	value, err := json.Marshal(e)
	if err != nil {
		return kafka.Message{}, fmt.Errorf("marshal event: %w", err)
	}
	msg := kafka.Message{
		Topic: topic,
		Key:   []byte(e.AggregateID),
		Value: value,
		Headers: []kafka.Header{
			{Key: HeaderEventType, Value: []byte(e.EventType)},
			{Key: HeaderSource, Value: []byte(e.Source)},
		},
	}
	if e.CorrelationID != "" {
		msg.Headers = append(msg.Headers, kafka.Header{Key: HeaderCorrelationID, Value: []byte(e.CorrelationID)})
	}
	return msg, nil
}

// DecodeEvent parses a message value produced by Message.
func DecodeEvent(value []byte) (*Event, error) {
	var e Event
	if err := json.Unmarshal(value, &e); err != nil {
		return nil, fmt.Errorf("decode event: %w", err)
	}
	return &e, nil
}

// DecodeData unmarshals the payload into v.
func (e *Event) DecodeData(v any) error {
	if err := json.Unmarshal(e.Data, v); err != nil {
		return fmt.Errorf("decode %s payload: %w", e.EventType, err)
	}
	return nil
}
