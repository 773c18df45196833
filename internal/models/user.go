package models

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// FlexID is an identifier that may arrive as either a JSON string or number.
// It always serializes back as a string.
type FlexID string

func (f *FlexID) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		*f = ""
		return nil
	}
	var raw any
	decoder := json.NewDecoder(bytes.NewReader(data))
	decoder.UseNumber()
	if err := decoder.Decode(&raw); err != nil {
		return fmt.Errorf("models: decode id: %w", err)
	}
	switch v := raw.(type) {
	case string:
		*f = FlexID(v)
	case json.Number:
		*f = FlexID(v.String())
	default:
		return fmt.Errorf("models: id must be a string or number, got %T", raw)
	}
	return nil
}

// StateData is the engine-facing view of where a user is in the conversation.
type StateData struct {
	Name     string         `json:"name,omitempty"`
	Metadata map[string]any `json:"metadata"`
}

// User is the persistent per-address session record. It outlives individual
// conversation sessions; SessionID is only set while a session is open.
type User struct {
	Address   string         `json:"addr"`
	Language  string         `json:"lang,omitempty"`
	Answers   map[string]any `json:"answers"`
	State     StateData      `json:"state"`
	Metadata  map[string]any `json:"metadata"`
	SessionID FlexID         `json:"session_id,omitempty"`
}

// NewUser returns a fresh user keyed by address, with empty collections so
// callers never need nil checks.
func NewUser(address string) User {
	return User{
		Address:  address,
		Answers:  map[string]any{},
		State:    StateData{Metadata: map[string]any{}},
		Metadata: map[string]any{},
	}
}

// GetOrCreateUser parses a stored session blob, falling back to a fresh user
// for the address when the blob is absent or malformed. Decode failures are
// deliberately swallowed: a corrupt session must never block a conversation.
func GetOrCreateUser(address string, data []byte) User {
	if len(data) == 0 {
		return NewUser(address)
	}
	var user User
	if err := json.Unmarshal(data, &user); err != nil {
		return NewUser(address)
	}
	if user.Address == "" {
		return NewUser(address)
	}
	user.normalize()
	return user
}

func (u *User) normalize() {
	if u.Answers == nil {
		u.Answers = map[string]any{}
	}
	if u.State.Metadata == nil {
		u.State.Metadata = map[string]any{}
	}
	if u.Metadata == nil {
		u.Metadata = map[string]any{}
	}
}

// ToJSON serializes the user for session storage.
func (u User) ToJSON() ([]byte, error) {
	data, err := json.Marshal(u)
	if err != nil {
		return nil, fmt.Errorf("models: encode user: %w", err)
	}
	return data, nil
}
