package models

import (
	"encoding/json"
	"fmt"
)

// EventType distinguishes the delivery notifications flowing back from the
// transport.
type EventType string

const (
	EventTypeAck            EventType = "ack"
	EventTypeNack           EventType = "nack"
	EventTypeDeliveryReport EventType = "delivery_report"
)

func (e EventType) valid() bool {
	return e == EventTypeAck || e == EventTypeNack || e == EventTypeDeliveryReport
}

func (e *EventType) UnmarshalJSON(data []byte) error {
	var raw string
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("models: event_type: %w", err)
	}
	parsed := EventType(raw)
	if !parsed.valid() {
		return fmt.Errorf("models: unknown event_type %q", raw)
	}
	*e = parsed
	return nil
}

// DeliveryStatus is the terminal state reported by a delivery report.
type DeliveryStatus string

const (
	DeliveryStatusPending   DeliveryStatus = "pending"
	DeliveryStatusFailed    DeliveryStatus = "failed"
	DeliveryStatusDelivered DeliveryStatus = "delivered"
)

func (d DeliveryStatus) valid() bool {
	return d == DeliveryStatusPending || d == DeliveryStatusFailed || d == DeliveryStatusDelivered
}

// Event is a delivery-status notification for a previously sent message.
type Event struct {
	UserMessageID     string         `json:"user_message_id"`
	EventType         EventType      `json:"event_type"`
	EventID           string         `json:"event_id"`
	MessageType       string         `json:"message_type"`
	MessageVersion    string         `json:"message_version"`
	Timestamp         Timestamp      `json:"timestamp"`
	RoutingMetadata   map[string]any `json:"routing_metadata"`
	HelperMetadata    map[string]any `json:"helper_metadata"`
	SentMessageID     string         `json:"sent_message_id,omitempty"`
	NackReason        string         `json:"nack_reason,omitempty"`
	DeliveryStatus    DeliveryStatus `json:"delivery_status,omitempty"`
	TransportName     string         `json:"transport_name,omitempty"`
	TransportMetadata map[string]any `json:"transport_metadata"`
}

// EventField mutates an event under construction.
type EventField func(*Event)

// WithSentMessageID sets the transport-side message id for ack events.
func WithSentMessageID(id string) EventField {
	return func(e *Event) { e.SentMessageID = id }
}

// WithNackReason sets the rejection reason for nack events.
func WithNackReason(reason string) EventField {
	return func(e *Event) { e.NackReason = reason }
}

// WithDeliveryStatus sets the status for delivery reports.
func WithDeliveryStatus(status DeliveryStatus) EventField {
	return func(e *Event) { e.DeliveryStatus = status }
}

// NewEvent constructs an event, enforcing the companion field each event type
// requires: ack needs sent_message_id, nack needs nack_reason and
// delivery_report needs delivery_status.
func NewEvent(userMessageID string, eventType EventType, fields ...EventField) (Event, error) {
	event := Event{
		UserMessageID:     userMessageID,
		EventType:         eventType,
		EventID:           NewID(),
		MessageType:       TypeEvent,
		MessageVersion:    MessageVersion,
		Timestamp:         Now(),
		RoutingMetadata:   map[string]any{},
		HelperMetadata:    map[string]any{},
		TransportMetadata: map[string]any{},
	}
	for _, field := range fields {
		field(&event)
	}
	if err := event.validate(); err != nil {
		return Event{}, err
	}
	return event, nil
}

func (e Event) validate() error {
	if !e.EventType.valid() {
		return fmt.Errorf("models: unknown event_type %q", e.EventType)
	}
	switch e.EventType {
	case EventTypeAck:
		if e.SentMessageID == "" {
			return fmt.Errorf("models: ack event requires sent_message_id")
		}
	case EventTypeNack:
		if e.NackReason == "" {
			return fmt.Errorf("models: nack event requires nack_reason")
		}
	case EventTypeDeliveryReport:
		if !e.DeliveryStatus.valid() {
			return fmt.Errorf("models: delivery_report event requires delivery_status")
		}
	}
	return nil
}

// ParseEvent decodes a broker payload into an Event, applying the same
// companion-field validation as NewEvent.
func ParseEvent(data []byte) (Event, error) {
	var event Event
	if err := json.Unmarshal(data, &event); err != nil {
		return Event{}, fmt.Errorf("models: decode event: %w", err)
	}
	if event.UserMessageID == "" {
		return Event{}, fmt.Errorf("models: event missing user_message_id")
	}
	if event.DeliveryStatus != "" && !event.DeliveryStatus.valid() {
		return Event{}, fmt.Errorf("models: unknown delivery_status %q", event.DeliveryStatus)
	}
	if err := event.validate(); err != nil {
		return Event{}, err
	}
	event.applyDefaults()
	return event, nil
}

func (e *Event) applyDefaults() {
	if e.EventID == "" {
		e.EventID = NewID()
	}
	if e.MessageType == "" {
		e.MessageType = TypeEvent
	}
	if e.MessageVersion == "" {
		e.MessageVersion = MessageVersion
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = Now()
	}
	if e.RoutingMetadata == nil {
		e.RoutingMetadata = map[string]any{}
	}
	if e.HelperMetadata == nil {
		e.HelperMetadata = map[string]any{}
	}
	if e.TransportMetadata == nil {
		e.TransportMetadata = map[string]any{}
	}
}

// ToJSON serializes the event for publication over the broker.
func (e Event) ToJSON() ([]byte, error) {
	data, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("models: encode event: %w", err)
	}
	return data, nil
}
