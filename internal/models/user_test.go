package models

import (
	"testing"
)

func TestGetOrCreateUser_FreshOnEmpty(t *testing.T) {
	user := GetOrCreateUser("27820001001", nil)
	if user.Address != "27820001001" {
		t.Fatalf("unexpected address %q", user.Address)
	}
	if user.Answers == nil || user.Metadata == nil || user.State.Metadata == nil {
		t.Fatal("expected collections to be initialized")
	}
	if user.SessionID != "" {
		t.Fatalf("expected no session id, got %q", user.SessionID)
	}
}

func TestGetOrCreateUser_FreshOnCorruptBlob(t *testing.T) {
	user := GetOrCreateUser("27820001001", []byte("{not json"))
	if user.Address != "27820001001" {
		t.Fatalf("expected a fresh user, got address %q", user.Address)
	}
	if user.State.Name != "" {
		t.Fatalf("expected fresh state, got %q", user.State.Name)
	}
}

func TestGetOrCreateUser_RestoresStoredSession(t *testing.T) {
	stored := `{
		"addr": "27820001001",
		"lang": "eng",
		"answers": {"state_age": "25_35"},
		"state": {"name": "state_end"},
		"metadata": {},
		"session_id": 1614778217
	}`
	user := GetOrCreateUser("27820001001", []byte(stored))
	if user.State.Name != "state_end" {
		t.Fatalf("expected state_end, got %q", user.State.Name)
	}
	if user.Answers["state_age"] != "25_35" {
		t.Fatalf("unexpected answers %v", user.Answers)
	}
	if user.SessionID != "1614778217" {
		t.Fatalf("expected numeric session id as string, got %q", user.SessionID)
	}
	if user.State.Metadata == nil {
		t.Fatal("expected state metadata to be normalized")
	}
}

func TestUser_ToJSONRoundTrip(t *testing.T) {
	user := NewUser("27820001001")
	user.State.Name = "state_age"
	user.Answers["state_age"] = "55+"
	user.SessionID = FlexID(NewID())

	data, err := user.ToJSON()
	if err != nil {
		t.Fatalf("ToJSON returned error: %v", err)
	}
	restored := GetOrCreateUser("27820001001", data)
	if restored.State.Name != "state_age" {
		t.Fatalf("expected state_age, got %q", restored.State.Name)
	}
	if restored.SessionID != user.SessionID {
		t.Fatalf("expected session id %s, got %s", user.SessionID, restored.SessionID)
	}
}

func TestNewID_Format(t *testing.T) {
	id := NewID()
	if len(id) != 32 {
		t.Fatalf("expected 32 hex chars, got %d (%s)", len(id), id)
	}
	for _, r := range id {
		if r == '-' {
			t.Fatal("expected dashes to be stripped")
		}
	}
	if NewID() == id {
		t.Fatal("expected ids to be unique")
	}
}
