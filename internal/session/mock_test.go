package session_test

import (
	"context"
	"fmt"
	"iter"

	"github.com/MegaGrindStone/thread-chat-ui/internal/models"
)

type mockAgent struct {
	states map[string]models.ThreadState
	// fragments are yielded for every Stream call; a fragment with Text "<err>" yields err instead.
	fragments []models.Fragment
	err       error

	streamed []string
}

func (m *mockAgent) State(_ context.Context, threadID string) (models.ThreadState, error) {
	if m.err != nil {
		return models.ThreadState{}, m.err
	}
	return m.states[threadID], nil
}

func (m *mockAgent) Stream(
	ctx context.Context,
	threadID string,
	input models.Message,
) iter.Seq2[models.Fragment, error] {
	return func(yield func(models.Fragment, error) bool) {
		m.streamed = append(m.streamed, threadID+":"+input.Text())
		for _, frag := range m.fragments {
			if frag.Text == "<err>" {
				yield(models.Fragment{}, m.err)
				return
			}
			if !yield(frag, nil) {
				return
			}
		}
	}
}

func assistant(text string) models.Fragment {
	return models.Fragment{Origin: models.OriginAssistant, Text: text}
}

func seqIDs() func() string {
	n := 0
	return func() string {
		n++
		return fmt.Sprintf("thread-%d", n)
	}
}
