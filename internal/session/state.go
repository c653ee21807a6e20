// Package session holds the per-user chat bookkeeping: which conversation is active, the records shown
// for it, the registry of conversations started in the session and their titles. Every user action is a
// method on State, so handlers thread one explicit state object instead of sharing globals.
package session

import (
	"context"
	"errors"
	"iter"
	"slices"
	"time"

	"github.com/MegaGrindStone/thread-chat-ui/internal/models"
)

// Agent is the conversation store the session talks to. It owns the persisted content of every thread;
// the session only keeps what is needed to display it.
type Agent interface {
	// State returns the checkpointed messages of a thread. Unknown threads yield an empty state.
	State(ctx context.Context, threadID string) (models.ThreadState, error)
	// Stream sends one user message on a thread and yields the response fragments in order.
	Stream(ctx context.Context, threadID string, input models.Message) iter.Seq2[models.Fragment, error]
}

// Record is a displayed chat message.
type Record struct {
	Role    models.Role `json:"role"`
	Content string      `json:"content"`
}

// Conversation is a registry entry prepared for display.
type Conversation struct {
	ID     string
	Title  string
	Active bool
}

// State is the session-scoped chat state. It is created on the first interaction of a session and
// discarded when the session expires.
type State struct {
	ID string `json:"id"`

	// ThreadID is the active conversation, empty when none is active.
	ThreadID string `json:"thread_id"`
	// Records are the displayed messages of the active conversation.
	Records []Record `json:"records"`
	// Threads lists conversations with at least one message, in creation order.
	Threads []string `json:"threads"`
	// Titles maps a conversation in Threads to its display title.
	Titles map[string]string `json:"titles"`
	// PendingNewChat means the next submitted message starts a new conversation.
	PendingNewChat bool `json:"pending_new_chat"`

	LastActive time.Time `json:"last_active"`
}

var (
	// ErrUnknownThread is returned when switching to a conversation that is not in the session registry.
	ErrUnknownThread = errors.New("unknown thread")
	// ErrSessionNotFound is returned by a Store when no state exists for a session id.
	ErrSessionNotFound = errors.New("session not found")
)

// New creates the initial state of a session. No conversation is active and the first message will
// start one.
func New(id string) *State {
	return &State{
		ID:             id,
		Titles:         map[string]string{},
		PendingNewChat: true,
		LastActive:     time.Now(),
	}
}

// Touch marks the session as active now.
func (s *State) Touch() {
	s.LastActive = time.Now()
}

// HasThread reports whether threadID is in the registry.
func (s *State) HasThread(threadID string) bool {
	return slices.Contains(s.Threads, threadID)
}

// Conversations returns the registry newest first. A conversation without a title is labelled by its id.
func (s *State) Conversations() []Conversation {
	convs := make([]Conversation, 0, len(s.Threads))
	for _, id := range slices.Backward(s.Threads) {
		title, ok := s.Titles[id]
		if !ok {
			title = id
		}
		convs = append(convs, Conversation{
			ID:     id,
			Title:  title,
			Active: id == s.ThreadID,
		})
	}
	return convs
}

func (s *State) clone() *State {
	c := *s
	c.Records = slices.Clone(s.Records)
	c.Threads = slices.Clone(s.Threads)
	c.Titles = make(map[string]string, len(s.Titles))
	for k, v := range s.Titles {
		c.Titles[k] = v
	}
	return &c
}
