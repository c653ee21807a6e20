package session

import (
	"context"
	"fmt"

	"github.com/MegaGrindStone/thread-chat-ui/internal/models"
)

// NewChat clears the displayed conversation and marks the next message as the start of a new one. The
// conversation itself is only created once that message is sent, so an abandoned "new chat" never shows
// up in the registry.
func (s *State) NewChat() {
	s.Records = nil
	s.ThreadID = ""
	s.PendingNewChat = true
}

// Resolve returns the conversation a submitted message belongs to. If a new chat is pending or nothing
// is active, it mints an id with newID, registers it and titles it from input. Existing conversations
// keep their title.
func (s *State) Resolve(input string, newID func() string) (threadID string, created bool) {
	if !s.PendingNewChat && s.ThreadID != "" {
		return s.ThreadID, false
	}

	id := newID()
	s.ThreadID = id
	s.PendingNewChat = false
	if !s.HasThread(id) {
		s.Threads = append(s.Threads, id)
	}
	if s.Titles == nil {
		s.Titles = map[string]string{}
	}
	if _, ok := s.Titles[id]; !ok {
		s.Titles[id] = Title(input)
	}
	return id, true
}

// Switch makes threadID the active conversation and replaces the displayed records with its history
// from the agent. A thread the agent knows nothing about is shown as an empty conversation.
func (s *State) Switch(ctx context.Context, agent Agent, threadID string) error {
	if !s.HasThread(threadID) {
		return fmt.Errorf("%w: %s", ErrUnknownThread, threadID)
	}

	state, err := agent.State(ctx, threadID)
	if err != nil {
		return fmt.Errorf("failed to load thread %s: %w", threadID, err)
	}

	records := make([]Record, 0, len(state.Messages))
	for _, msg := range state.Messages {
		role := models.RoleAssistant
		if msg.Role == models.RoleUser {
			role = models.RoleUser
		}
		records = append(records, Record{
			Role:    role,
			Content: msg.Text(),
		})
	}

	s.ThreadID = threadID
	s.PendingNewChat = false
	s.Records = records
	return nil
}
