package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/MegaGrindStone/thread-chat-ui/internal/models"
	"github.com/MegaGrindStone/thread-chat-ui/internal/session"
	"github.com/google/uuid"
	"github.com/tmaxmax/go-sse"
)

// HandleChats submits one message on the active conversation, creating the conversation first when a new
// chat is pending. It responds with the user message and a placeholder for the reply, which streams in the
// background to subscribers of the reply's topic.
func (m Main) HandleChats(w http.ResponseWriter, r *http.Request) {
	input := strings.TrimSpace(r.FormValue("message"))
	if input == "" {
		m.logger.Debug("Empty message submitted")
		http.Error(w, "Message is required", http.StatusBadRequest)
		return
	}

	sid := m.sessionID(w, r)
	replyID := uuid.New().String()

	ctx, cancel := context.WithCancel(context.Background())

	var tr *turn
	var created bool
	st, err := m.update(r.Context(), sid, true, func(st *session.State) error {
		var threadID string
		threadID, created = st.BeginTurn(input, m.newThreadID)

		var ok bool
		tr, ok = m.turns.start(replyID, sid, threadID, cancel)
		if !ok {
			return ErrTurnInProgress
		}
		return nil
	})
	if err != nil {
		cancel()
		if errors.Is(err, ErrTurnInProgress) {
			http.Error(w, err.Error(), http.StatusConflict)
			return
		}
		if tr != nil {
			m.turns.finish(tr, err.Error())
		}
		m.logger.Error("Failed to begin turn", slog.String(errLoggerKey, err.Error()))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	m.wg.Go(func() {
		m.runTurn(ctx, tr, input)
	})

	if created {
		m.publishChats(st)
	}

	userContent, _ := renderContent(models.RoleUser, input)
	msgs := []message{
		{
			ID:             uuid.New().String(),
			Role:           string(models.RoleUser),
			Content:        userContent,
			StreamingState: "ended",
		},
		{
			ID:             replyID,
			Role:           string(models.RoleAssistant),
			StreamingState: "loading",
		},
	}
	for _, msg := range msgs {
		name := "user_message"
		if msg.Role == string(models.RoleAssistant) {
			name = "ai_message"
		}
		if err := m.templates.ExecuteTemplate(w, name, msg); err != nil {
			m.logger.Error("Failed to execute message template",
				slog.String("template", name), slog.String(errLoggerKey, err.Error()))
			http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
			return
		}
	}
}

// runTurn streams the reply of tr and records it in the session once it completes.
func (m Main) runTurn(ctx context.Context, tr *turn, input string) {
	logger := m.logger.With(slog.String("thread_id", tr.threadID), slog.String("message_id", tr.id))
	defer tr.cancel()

	reply, err := session.Collect(ctx, m.agent, tr.threadID, input, func(reply string) {
		tr.setContent(reply)
		m.publishReply(tr.id, reply, logger)
	})
	if err != nil {
		logger.Error("Failed to stream reply", slog.String(errLoggerKey, err.Error()))
		m.publishEvent(tr.id, "messageError", err.Error(), logger)
		m.turns.finish(tr, err.Error())
		return
	}

	_, err = m.update(context.Background(), tr.sessionID, false, func(st *session.State) error {
		if reply == "" {
			logger.Debug("Reply stopped before any text")
			return nil
		}
		if !st.CompleteTurn(tr.threadID, reply) {
			logger.Debug("Conversation switched before the reply completed")
		}
		return nil
	})
	if err != nil {
		logger.Warn("Failed to record reply", slog.String(errLoggerKey, err.Error()))
	}

	m.publishEvent(tr.id, "closeMessage", "done", logger)
	m.turns.finish(tr, "")
}

// HandleNewChat starts a new conversation. The conversation is only created once its first message is
// submitted.
func (m Main) HandleNewChat(w http.ResponseWriter, r *http.Request) {
	sid := m.sessionID(w, r)
	m.stopTurn(r.Context(), sid)

	_, err := m.update(r.Context(), sid, true, func(st *session.State) error {
		st.NewChat()
		return nil
	})
	if err != nil {
		m.logger.Error("Failed to start new chat", slog.String(errLoggerKey, err.Error()))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	http.Redirect(w, r, "/", http.StatusSeeOther)
}

// HandleSwitch makes a previously created conversation the active one and reloads its messages.
func (m Main) HandleSwitch(w http.ResponseWriter, r *http.Request) {
	threadID := r.PathValue("id")
	sid := m.sessionID(w, r)
	m.stopTurn(r.Context(), sid)

	_, err := m.update(r.Context(), sid, true, func(st *session.State) error {
		return st.Switch(r.Context(), m.agent, threadID)
	})
	if err != nil {
		if errors.Is(err, session.ErrUnknownThread) {
			http.Error(w, "Conversation not found", http.StatusNotFound)
			return
		}
		m.logger.Error("Failed to switch conversation",
			slog.String("thread_id", threadID), slog.String(errLoggerKey, err.Error()))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	http.Redirect(w, r, "/", http.StatusSeeOther)
}

// HandleMessage returns the current state of a streaming reply, for clients that subscribed after some of
// it was already published.
func (m Main) HandleMessage(w http.ResponseWriter, r *http.Request) {
	tr, ok := m.turns.get(r.PathValue("id"))
	if !ok {
		http.Error(w, "Message not found", http.StatusNotFound)
		return
	}

	snap := tr.snapshot()
	content, err := renderContent(models.RoleAssistant, snap.Content)
	if err != nil {
		m.logger.Error("Failed to render reply", slog.String(errLoggerKey, err.Error()))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}
	snap.Content = string(content)

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(snap); err != nil {
		m.logger.Error("Failed to encode message snapshot", slog.String(errLoggerKey, err.Error()))
	}
}

// stopTurn cancels the streaming reply of a session and waits for it to wind down, so the session state it
// records is settled before the caller changes conversations.
func (m Main) stopTurn(ctx context.Context, sid string) {
	tr, ok := m.turns.cancelSession(sid)
	if !ok {
		return
	}
	select {
	case <-tr.finished:
	case <-ctx.Done():
	}
}

func (m Main) publishChats(st *session.State) {
	html, err := m.renderTemplate("chat_titles", st.Conversations())
	if err != nil {
		m.logger.Error("Failed to render chat titles", slog.String(errLoggerKey, err.Error()))
		return
	}

	msg := &sse.Message{Type: sse.Type("chats")}
	msg.AppendData(html)
	if err := m.sseSrv.Publish(msg, chatsTopic(st.ID)); err != nil {
		m.logger.Error("Failed to publish chats", slog.String(errLoggerKey, err.Error()))
	}
}

func (m Main) publishReply(replyID, reply string, logger *slog.Logger) {
	content, err := renderContent(models.RoleAssistant, reply)
	if err != nil {
		logger.Error("Failed to render reply", slog.String(errLoggerKey, err.Error()))
		return
	}
	m.publishEvent(replyID, "messages", string(content), logger)
}

func (m Main) publishEvent(replyID, eventType, data string, logger *slog.Logger) {
	msg := &sse.Message{Type: sse.Type(eventType)}
	msg.AppendData(data)
	if err := m.sseSrv.Publish(msg, messageIDTopic(replyID)); err != nil {
		logger.Error("Failed to publish event",
			slog.String("type", eventType), slog.String(errLoggerKey, err.Error()))
	}
}
