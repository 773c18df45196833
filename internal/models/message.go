package models

import (
	"encoding/json"
	"fmt"
)

// Schema constants carried on every user message and event.
const (
	MessageVersion  = "20110921"
	TypeUserMessage = "user_message"
	TypeEvent       = "event"
)

// TransportType identifies the channel a message travelled over.
type TransportType string

const (
	TransportTypeHTTPAPI TransportType = "http_api"
	TransportTypeUSSD    TransportType = "ussd"
)

func (t TransportType) valid() bool {
	return t == TransportTypeHTTPAPI || t == TransportTypeUSSD
}

func (t *TransportType) UnmarshalJSON(data []byte) error {
	var raw string
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("models: transport_type: %w", err)
	}
	parsed := TransportType(raw)
	if !parsed.valid() {
		return fmt.Errorf("models: unknown transport_type %q", raw)
	}
	*t = parsed
	return nil
}

// SessionEvent marks session boundaries on a message. The zero value means no
// session signal and serializes as JSON null.
type SessionEvent string

const (
	SessionEventNone   SessionEvent = ""
	SessionEventNew    SessionEvent = "new"
	SessionEventResume SessionEvent = "resume"
	SessionEventClose  SessionEvent = "close"
)

func (s SessionEvent) MarshalJSON() ([]byte, error) {
	if s == SessionEventNone {
		return []byte("null"), nil
	}
	return json.Marshal(string(s))
}

func (s *SessionEvent) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		*s = SessionEventNone
		return nil
	}
	var raw string
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("models: session_event: %w", err)
	}
	switch parsed := SessionEvent(raw); parsed {
	case SessionEventNone, SessionEventNew, SessionEventResume, SessionEventClose:
		*s = parsed
		return nil
	default:
		return fmt.Errorf("models: unknown session_event %q", raw)
	}
}

// AddressType classifies an address field. Only msisdn is in use today.
type AddressType string

const AddressTypeMSISDN AddressType = "msisdn"

// Message is one user message travelling through the transport, in either
// direction. The field names follow the broker wire schema.
type Message struct {
	To                string         `json:"to_addr"`
	From              string         `json:"from_addr"`
	TransportName     string         `json:"transport_name"`
	TransportType     TransportType  `json:"transport_type"`
	MessageVersion    string         `json:"message_version"`
	MessageType       string         `json:"message_type"`
	Timestamp         Timestamp      `json:"timestamp"`
	RoutingMetadata   map[string]any `json:"routing_metadata"`
	HelperMetadata    map[string]any `json:"helper_metadata"`
	MessageID         string         `json:"message_id"`
	InReplyTo         string         `json:"in_reply_to,omitempty"`
	Provider          string         `json:"provider,omitempty"`
	SessionEvent      SessionEvent   `json:"session_event"`
	Content           string         `json:"content,omitempty"`
	TransportMetadata map[string]any `json:"transport_metadata"`
	Group             string         `json:"group,omitempty"`
	ToAddressType     AddressType    `json:"to_addr_type,omitempty"`
	FromAddressType   AddressType    `json:"from_addr_type,omitempty"`
}

// NewMessage builds an outbound-ready message with generated defaults.
func NewMessage(to, from, transportName string, transportType TransportType) Message {
	return Message{
		To:                to,
		From:              from,
		TransportName:     transportName,
		TransportType:     transportType,
		MessageVersion:    MessageVersion,
		MessageType:       TypeUserMessage,
		Timestamp:         Now(),
		RoutingMetadata:   map[string]any{},
		HelperMetadata:    map[string]any{},
		MessageID:         NewID(),
		TransportMetadata: map[string]any{},
	}
}

// ParseMessage decodes a broker payload into a Message. Any malformed JSON,
// missing required field or invalid enum value is a decode error; callers
// treat those payloads as poison and discard them.
func ParseMessage(data []byte) (Message, error) {
	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		return Message{}, fmt.Errorf("models: decode message: %w", err)
	}
	if msg.To == "" {
		return Message{}, fmt.Errorf("models: message missing to_addr")
	}
	if msg.From == "" {
		return Message{}, fmt.Errorf("models: message missing from_addr")
	}
	if msg.TransportName == "" {
		return Message{}, fmt.Errorf("models: message missing transport_name")
	}
	if !msg.TransportType.valid() {
		return Message{}, fmt.Errorf("models: message missing transport_type")
	}
	msg.applyDefaults()
	return msg, nil
}

func (m *Message) applyDefaults() {
	if m.MessageVersion == "" {
		m.MessageVersion = MessageVersion
	}
	if m.MessageType == "" {
		m.MessageType = TypeUserMessage
	}
	if m.Timestamp.IsZero() {
		m.Timestamp = Now()
	}
	if m.MessageID == "" {
		m.MessageID = NewID()
	}
	if m.RoutingMetadata == nil {
		m.RoutingMetadata = map[string]any{}
	}
	if m.HelperMetadata == nil {
		m.HelperMetadata = map[string]any{}
	}
	if m.TransportMetadata == nil {
		m.TransportMetadata = map[string]any{}
	}
}

// ToJSON serializes the message for publication over the broker.
func (m Message) ToJSON() ([]byte, error) {
	data, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("models: encode message: %w", err)
	}
	return data, nil
}

// ReplyOption customizes a reply. Options naming one of the protected
// addressing fields cause Reply to fail.
type ReplyOption struct {
	field string
	apply func(*Message)
}

// WithSessionEvent overrides the session event computed from continueSession.
func WithSessionEvent(event SessionEvent) ReplyOption {
	return ReplyOption{field: "session_event", apply: func(m *Message) { m.SessionEvent = event }}
}

// WithHelperMetadata attaches helper metadata to the reply.
func WithHelperMetadata(metadata map[string]any) ReplyOption {
	return ReplyOption{field: "helper_metadata", apply: func(m *Message) { m.HelperMetadata = metadata }}
}

// WithRoutingMetadata attaches routing metadata to the reply.
func WithRoutingMetadata(metadata map[string]any) ReplyOption {
	return ReplyOption{field: "routing_metadata", apply: func(m *Message) { m.RoutingMetadata = metadata }}
}

// WithTo overrides the destination address. Not permitted on replies.
func WithTo(addr string) ReplyOption {
	return ReplyOption{field: "to_addr", apply: func(m *Message) { m.To = addr }}
}

// WithFrom overrides the source address. Not permitted on replies.
func WithFrom(addr string) ReplyOption {
	return ReplyOption{field: "from_addr", apply: func(m *Message) { m.From = addr }}
}

// WithGroup overrides the group. Not permitted on replies.
func WithGroup(group string) ReplyOption {
	return ReplyOption{field: "group", apply: func(m *Message) { m.Group = group }}
}

// WithInReplyTo overrides the correlation id. Not permitted on replies.
func WithInReplyTo(id string) ReplyOption {
	return ReplyOption{field: "in_reply_to", apply: func(m *Message) { m.InReplyTo = id }}
}

// WithProvider overrides the provider. Not permitted on replies.
func WithProvider(provider string) ReplyOption {
	return ReplyOption{field: "provider", apply: func(m *Message) { m.Provider = provider }}
}

// WithTransportName overrides the transport name. Not permitted on replies.
func WithTransportName(name string) ReplyOption {
	return ReplyOption{field: "transport_name", apply: func(m *Message) { m.TransportName = name }}
}

// WithTransportType overrides the transport type. Not permitted on replies.
func WithTransportType(t TransportType) ReplyOption {
	return ReplyOption{field: "transport_type", apply: func(m *Message) { m.TransportType = t }}
}

// WithTransportMetadata overrides transport metadata. Not permitted on replies.
func WithTransportMetadata(metadata map[string]any) ReplyOption {
	return ReplyOption{field: "transport_metadata", apply: func(m *Message) { m.TransportMetadata = metadata }}
}

var replyProtectedFields = map[string]struct{}{
	"to_addr":            {},
	"from_addr":          {},
	"group":              {},
	"in_reply_to":        {},
	"provider":           {},
	"transport_name":     {},
	"transport_type":     {},
	"transport_metadata": {},
}

// Reply builds a new message answering this one: addresses swapped, transport
// fields copied, in_reply_to set to this message's id. continueSession=false
// closes the session on the produced message. Attempting to override any of
// the copied fields is a contract violation and returns an error.
func (m Message) Reply(content string, continueSession bool, opts ...ReplyOption) (Message, error) {
	for _, opt := range opts {
		if _, protected := replyProtectedFields[opt.field]; protected {
			return Message{}, fmt.Errorf("models: reply may not override %s", opt.field)
		}
	}

	sessionEvent := SessionEventNone
	if !continueSession {
		sessionEvent = SessionEventClose
	}

	reply := NewMessage(m.From, m.To, m.TransportName, m.TransportType)
	reply.Content = content
	reply.SessionEvent = sessionEvent
	reply.Group = m.Group
	reply.InReplyTo = m.MessageID
	reply.Provider = m.Provider
	reply.TransportMetadata = m.TransportMetadata

	for _, opt := range opts {
		opt.apply(&reply)
	}
	return reply, nil
}
