package session_test

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/MegaGrindStone/thread-chat-ui/internal/session"
)

func TestCleanupService(t *testing.T) {
	ctx := context.Background()
	store := session.NewMemoryStore()

	st := session.New("idle")
	st.LastActive = time.Now().Add(-time.Hour)
	if err := store.Save(ctx, st); err != nil {
		t.Fatal(err)
	}

	var (
		mu      sync.Mutex
		expired []string
	)
	done := make(chan struct{})
	svc := session.NewCleanupService(store, time.Minute, 5*time.Millisecond, func(id string) {
		mu.Lock()
		defer mu.Unlock()
		expired = append(expired, id)
		if len(expired) == 1 {
			close(done)
		}
	}, slog.New(slog.NewTextHandler(io.Discard, nil)))

	svc.Start(ctx)
	svc.Start(ctx)
	defer svc.Stop()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("session was not expired")
	}

	mu.Lock()
	defer mu.Unlock()
	if expired[0] != "idle" {
		t.Errorf("expired = %v, want [idle]", expired)
	}
	if store.Len() != 0 {
		t.Errorf("Len() = %d, want 0", store.Len())
	}
}

func TestCleanupServiceStopIdempotent(t *testing.T) {
	svc := session.NewCleanupService(session.NewMemoryStore(), time.Minute, 0, nil,
		slog.New(slog.NewTextHandler(io.Discard, nil)))

	svc.Stop()
	svc.Start(context.Background())
	svc.Stop()
	svc.Stop()
}
