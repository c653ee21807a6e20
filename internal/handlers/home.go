package handlers

import (
	"fmt"
	"log/slog"
	"net/http"

	"github.com/MegaGrindStone/thread-chat-ui/internal/models"
	"github.com/MegaGrindStone/thread-chat-ui/internal/session"
)

type homePageData struct {
	Conversations []session.Conversation
	Messages      []message
	ThreadID      string
}

// HandleHome renders the sidebar and the records of the active conversation. A reply that is still
// streaming is shown as a placeholder the page picks up again.
func (m Main) HandleHome(w http.ResponseWriter, r *http.Request) {
	sid := m.sessionID(w, r)

	st, err := m.update(r.Context(), sid, true, func(*session.State) error { return nil })
	if err != nil {
		m.logger.Error("Failed to load session", slog.String(errLoggerKey, err.Error()))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	msgs, err := recordMessages(st.Records)
	if err != nil {
		m.logger.Error("Failed to render messages", slog.String(errLoggerKey, err.Error()))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	if tr, ok := m.turns.active(sid); ok && tr.threadID == st.ThreadID {
		msgs = append(msgs, message{
			ID:             tr.id,
			Role:           string(models.RoleAssistant),
			StreamingState: "loading",
		})
	}

	data := homePageData{
		Conversations: st.Conversations(),
		Messages:      msgs,
		ThreadID:      st.ThreadID,
	}
	if err := m.templates.ExecuteTemplate(w, "home.html", data); err != nil {
		m.logger.Error("Failed to execute home template", slog.String(errLoggerKey, err.Error()))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}
}

func recordMessages(records []session.Record) ([]message, error) {
	msgs := make([]message, 0, len(records))
	for i, rec := range records {
		content, err := renderContent(rec.Role, rec.Content)
		if err != nil {
			return nil, err
		}
		msgs = append(msgs, message{
			ID:             fmt.Sprintf("record-%d", i),
			Role:           string(rec.Role),
			Content:        content,
			StreamingState: "ended",
		})
	}
	return msgs, nil
}
