package handlers

import (
	"context"
	"sync"
	"time"
)

// turnRetention is how long a finished reply stays available to late subscribers.
const turnRetention = time.Minute

// turn is a reply streaming in the background.
type turn struct {
	id        string
	sessionID string
	threadID  string

	cancel   context.CancelFunc
	finished chan struct{}

	mu      sync.Mutex
	content string
	done    bool
	err     string
}

type turnSnapshot struct {
	Content string `json:"content"`
	Done    bool   `json:"done"`
	Error   string `json:"error,omitempty"`
}

// turns tracks the replies in flight, at most one per session.
type turns struct {
	mu        sync.Mutex
	byID      map[string]*turn
	bySession map[string]*turn
}

func newTurns() *turns {
	return &turns{
		byID:      make(map[string]*turn),
		bySession: make(map[string]*turn),
	}
}

// start registers a new turn for a session, or returns false if the session already has one.
func (t *turns) start(id, sessionID, threadID string, cancel context.CancelFunc) (*turn, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if _, ok := t.bySession[sessionID]; ok {
		return nil, false
	}

	tr := &turn{
		id:        id,
		sessionID: sessionID,
		threadID:  threadID,
		cancel:    cancel,
		finished:  make(chan struct{}),
	}
	t.byID[id] = tr
	t.bySession[sessionID] = tr
	return tr, true
}

func (t *turns) get(id string) (*turn, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	tr, ok := t.byID[id]
	return tr, ok
}

func (t *turns) active(sessionID string) (*turn, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	tr, ok := t.bySession[sessionID]
	return tr, ok
}

// cancelSession cancels the turn of a session, if any, and returns it.
func (t *turns) cancelSession(sessionID string) (*turn, bool) {
	tr, ok := t.active(sessionID)
	if ok {
		tr.cancel()
	}
	return tr, ok
}

func (t *turns) cancelAll() {
	t.mu.Lock()
	defer t.mu.Unlock()

	for _, tr := range t.bySession {
		tr.cancel()
	}
}

// finish marks tr as done, frees its session for the next turn and forgets it after turnRetention.
func (t *turns) finish(tr *turn, errMsg string) {
	t.mu.Lock()
	if t.bySession[tr.sessionID] == tr {
		delete(t.bySession, tr.sessionID)
	}
	t.mu.Unlock()

	tr.mu.Lock()
	tr.done = true
	tr.err = errMsg
	tr.mu.Unlock()

	close(tr.finished)

	time.AfterFunc(turnRetention, func() {
		t.mu.Lock()
		defer t.mu.Unlock()
		delete(t.byID, tr.id)
	})
}

func (tr *turn) setContent(content string) {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	tr.content = content
}

func (tr *turn) snapshot() turnSnapshot {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	return turnSnapshot{
		Content: tr.content,
		Done:    tr.done,
		Error:   tr.err,
	}
}
