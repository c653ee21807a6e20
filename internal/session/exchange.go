package session

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/MegaGrindStone/thread-chat-ui/internal/models"
	"github.com/google/uuid"
)

// NewThreadID mints a conversation identifier.
func NewThreadID() string {
	return uuid.New().String()
}

// BeginTurn resolves the conversation for input and appends the user record. It returns the id of the
// conversation the turn runs on.
func (s *State) BeginTurn(input string, newID func() string) (threadID string, created bool) {
	threadID, created = s.Resolve(input, newID)
	s.Records = append(s.Records, Record{
		Role:    models.RoleUser,
		Content: input,
	})
	s.Touch()
	return threadID, created
}

// CompleteTurn appends the assistant reply of a turn that ran on threadID. The reply is dropped if the
// session has moved to another conversation in the meantime, since the displayed records belong to that
// one now.
func (s *State) CompleteTurn(threadID, reply string) bool {
	if s.ThreadID != threadID {
		return false
	}
	s.Records = append(s.Records, Record{
		Role:    models.RoleAssistant,
		Content: reply,
	})
	s.Touch()
	return true
}

// Collect sends input on threadID and pulls the response one fragment at a time. Only assistant
// fragments make it into the reply; onChunk, if set, receives the accumulated reply after each of them.
//
// Cancelling ctx stops the pull and returns what was accumulated so far with a nil error. A stream error
// is returned together with the partial reply.
func Collect(
	ctx context.Context,
	agent Agent,
	threadID, input string,
	onChunk func(reply string),
) (string, error) {
	msg := models.NewUserMessage(uuid.New().String(), input, time.Now())

	var sb strings.Builder
	for frag, err := range agent.Stream(ctx, threadID, msg) {
		if ctx.Err() != nil {
			break
		}
		if err != nil {
			if errors.Is(err, context.Canceled) {
				break
			}
			return sb.String(), fmt.Errorf("failed to stream reply: %w", err)
		}
		if frag.Origin != models.OriginAssistant || frag.Text == "" {
			continue
		}
		sb.WriteString(frag.Text)
		if onChunk != nil {
			onChunk(sb.String())
		}
	}
	return sb.String(), nil
}

// Send runs one full user turn: resolve the conversation, record the input, stream the reply and record
// it. A failed stream leaves the user record in place without a reply.
func (s *State) Send(
	ctx context.Context,
	agent Agent,
	input string,
	newID func() string,
	onChunk func(reply string),
) (string, error) {
	threadID, _ := s.BeginTurn(input, newID)

	reply, err := Collect(ctx, agent, threadID, input, onChunk)
	if err != nil {
		return reply, err
	}

	s.CompleteTurn(threadID, reply)
	return reply, nil
}
