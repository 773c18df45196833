package session

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/praekeltfoundation/who-smoking-cessation/internal/models"
)

func newTestStore(t *testing.T, ttl time.Duration) (*Store, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return New(client, ttl), mr
}

func TestStore_LoadMissingYieldsFreshUser(t *testing.T) {
	store, _ := newTestStore(t, time.Hour)

	user, err := store.Load(context.Background(), "27820001001")
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if user.Address != "27820001001" {
		t.Fatalf("unexpected address %q", user.Address)
	}
	if user.State.Name != "" || user.SessionID != "" {
		t.Fatal("expected a fresh user")
	}
}

func TestStore_SaveThenLoadRoundTrip(t *testing.T) {
	store, mr := newTestStore(t, time.Hour)
	ctx := context.Background()

	user := models.NewUser("27820001001")
	user.State.Name = "state_age"
	user.Answers["state_age"] = "25_35"
	user.SessionID = "session-1"

	if err := store.Save(ctx, user); err != nil {
		t.Fatalf("Save returned error: %v", err)
	}
	if !mr.Exists(Key("27820001001")) {
		t.Fatal("expected the session key to be written")
	}

	restored, err := store.Load(ctx, "27820001001")
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if restored.State.Name != "state_age" {
		t.Fatalf("expected state_age, got %q", restored.State.Name)
	}
	if restored.Answers["state_age"] != "25_35" {
		t.Fatalf("unexpected answers %v", restored.Answers)
	}
	if restored.SessionID != "session-1" {
		t.Fatalf("unexpected session id %q", restored.SessionID)
	}
}

func TestStore_SaveAppliesSlidingTTL(t *testing.T) {
	store, mr := newTestStore(t, time.Minute)
	ctx := context.Background()

	if err := store.Save(ctx, models.NewUser("27820001001")); err != nil {
		t.Fatalf("Save returned error: %v", err)
	}
	if ttl := mr.TTL(Key("27820001001")); ttl != time.Minute {
		t.Fatalf("expected TTL of 1m, got %v", ttl)
	}

	mr.FastForward(30 * time.Second)
	if err := store.Save(ctx, models.NewUser("27820001001")); err != nil {
		t.Fatalf("Save returned error: %v", err)
	}
	if ttl := mr.TTL(Key("27820001001")); ttl != time.Minute {
		t.Fatalf("expected TTL reset to 1m, got %v", ttl)
	}
}

func TestStore_LoadCorruptBlobYieldsFreshUser(t *testing.T) {
	store, mr := newTestStore(t, time.Hour)
	mr.Set(Key("27820001001"), "{broken")

	user, err := store.Load(context.Background(), "27820001001")
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if user.State.Name != "" {
		t.Fatalf("expected a fresh user, got state %q", user.State.Name)
	}
}

func TestStore_LoadSurfacesTransportErrors(t *testing.T) {
	store, mr := newTestStore(t, time.Hour)
	mr.Close()

	if _, err := store.Load(context.Background(), "27820001001"); err == nil {
		t.Fatal("expected an error when redis is down")
	}
}

func TestKey(t *testing.T) {
	if Key("27820001001") != "user.27820001001" {
		t.Fatalf("unexpected key %q", Key("27820001001"))
	}
}
