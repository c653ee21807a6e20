package session_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/MegaGrindStone/thread-chat-ui/internal/models"
	"github.com/MegaGrindStone/thread-chat-ui/internal/session"
	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newTestRedisStore(t *testing.T, idle time.Duration) (*session.RedisStore, *miniredis.Miniredis) {
	t.Helper()

	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	return session.NewRedisStore(rdb, idle), mr
}

func TestRedisStore(t *testing.T) {
	ctx := context.Background()
	store, mr := newTestRedisStore(t, 10*time.Minute)

	if _, err := store.Load(ctx, "s1"); !errors.Is(err, session.ErrSessionNotFound) {
		t.Fatalf("Load() error = %v, want %v", err, session.ErrSessionNotFound)
	}

	st := session.New("s1")
	st.BeginTurn("Hello there", seqIDs())
	st.CompleteTurn("thread-1", "Hi!")
	if err := store.Save(ctx, st); err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	if !mr.Exists("session_s1") {
		t.Fatal("Save() should store the state under session_s1")
	}

	got, err := store.Load(ctx, "s1")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if got.ThreadID != "thread-1" || got.PendingNewChat {
		t.Errorf("Load() thread = %q, pending = %v", got.ThreadID, got.PendingNewChat)
	}
	if len(got.Records) != 2 || got.Records[1].Role != models.RoleAssistant || got.Records[1].Content != "Hi!" {
		t.Errorf("Load().Records = %+v", got.Records)
	}
	if got.Titles["thread-1"] != "Hello there" {
		t.Errorf("Load().Titles = %v", got.Titles)
	}

	if err := store.Delete(ctx, "s1"); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if _, err := store.Load(ctx, "s1"); !errors.Is(err, session.ErrSessionNotFound) {
		t.Errorf("Load() after Delete() error = %v, want %v", err, session.ErrSessionNotFound)
	}
}

func TestRedisStoreMissingTitles(t *testing.T) {
	store, mr := newTestRedisStore(t, time.Minute)

	if err := mr.Set("session_s1", `{"id":"s1","thread_id":"t1","threads":["t1"]}`); err != nil {
		t.Fatal(err)
	}

	st, err := store.Load(context.Background(), "s1")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if st.Titles == nil {
		t.Fatal("Load() should return a usable Titles map")
	}
	if convs := st.Conversations(); len(convs) != 1 || convs[0].Title != "t1" {
		t.Errorf("Conversations() = %+v, want the id as title", convs)
	}
}

func TestRedisStoreIdleTimeout(t *testing.T) {
	ctx := context.Background()
	store, mr := newTestRedisStore(t, 10*time.Minute)

	st := session.New("s1")
	if err := store.Save(ctx, st); err != nil {
		t.Fatal(err)
	}
	if ttl := mr.TTL("session_s1"); ttl != 10*time.Minute {
		t.Fatalf("TTL = %v, want %v", ttl, 10*time.Minute)
	}

	mr.FastForward(6 * time.Minute)
	if err := store.Save(ctx, st); err != nil {
		t.Fatal(err)
	}
	if ttl := mr.TTL("session_s1"); ttl != 10*time.Minute {
		t.Errorf("TTL after Save() = %v, want it refreshed to %v", ttl, 10*time.Minute)
	}

	mr.FastForward(6 * time.Minute)
	if _, err := store.Load(ctx, "s1"); err != nil {
		t.Errorf("Load() within the idle timeout error = %v", err)
	}

	mr.FastForward(5 * time.Minute)
	if _, err := store.Load(ctx, "s1"); !errors.Is(err, session.ErrSessionNotFound) {
		t.Errorf("Load() after the idle timeout error = %v, want %v", err, session.ErrSessionNotFound)
	}
}
