package handlers

import (
	"context"
	"errors"
	"fmt"
	"html/template"
	"log/slog"
	"net/http"
	"time"

	threadchatui "github.com/MegaGrindStone/thread-chat-ui"
	"github.com/MegaGrindStone/thread-chat-ui/internal/session"
	"github.com/google/uuid"
	"github.com/sourcegraph/conc"
	"github.com/tmaxmax/go-sse"
)

// Main handles the chat application: one handler per user action, each working on the caller's session
// state. Replies stream in background goroutines and reach the browser through server-sent events.
type Main struct {
	sseSrv    *sse.Server
	templates *template.Template

	agent session.Agent
	store session.Store
	locks *session.Locks

	turns *turns
	wg    *conc.WaitGroup

	newThreadID func() string

	logger *slog.Logger
}

const (
	errLoggerKey      = "err"
	sessionCookieName = "thread_chat_session"
)

// ErrTurnInProgress is returned when a message is submitted while the previous reply of the same session
// is still streaming.
var ErrTurnInProgress = errors.New("a reply is still streaming")

// NewMain creates a new Main instance with the provided agent and session store. It parses the HTML
// templates from the embedded filesystem and configures the SSE server so every client listens to its
// session's sidebar topic, plus the topic of one streaming reply when it asks for it.
func NewMain(agent session.Agent, store session.Store, logger *slog.Logger) (Main, error) {
	// We parse templates from three distinct directories to separate layout, pages, and partial views
	tmpl, err := template.ParseFS(
		threadchatui.TemplateFS,
		"templates/layout/*.html",
		"templates/pages/*.html",
		"templates/partials/*.html",
	)
	if err != nil {
		return Main{}, fmt.Errorf("failed to parse templates: %w", err)
	}

	return Main{
		sseSrv: &sse.Server{
			OnSession: func(s *sse.Session) (sse.Subscription, bool) {
				topics := []string{sse.DefaultTopic}

				if c, err := s.Req.Cookie(sessionCookieName); err == nil && c.Value != "" {
					topics = append(topics, chatsTopic(c.Value))
				}

				messageID := s.Req.URL.Query().Get("message_id")
				if messageID != "" {
					topics = append(topics, messageIDTopic(messageID))
				}

				// Clients catch up on a reply once the stream is open, so the headers go out before
				// the first event.
				if err := s.Flush(); err != nil {
					return sse.Subscription{}, false
				}

				return sse.Subscription{
					Client:      s,
					LastEventID: s.LastEventID,
					Topics:      topics,
				}, true
			},
		},
		templates:   tmpl,
		agent:       agent,
		store:       store,
		locks:       session.NewLocks(),
		turns:       newTurns(),
		wg:          conc.NewWaitGroup(),
		newThreadID: session.NewThreadID,
		logger:      logger.With(slog.String("module", "main")),
	}, nil
}

func messageIDTopic(messageID string) string {
	return fmt.Sprintf("message-%s", messageID)
}

func chatsTopic(sessionID string) string {
	return fmt.Sprintf("chats-%s", sessionID)
}

// Register adds the chat routes to mux.
func (m Main) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /{$}", m.HandleHome)
	mux.HandleFunc("POST /chats", m.HandleChats)
	mux.HandleFunc("POST /chats/new", m.HandleNewChat)
	mux.HandleFunc("POST /threads/{id}", m.HandleSwitch)
	mux.HandleFunc("GET /messages/{id}", m.HandleMessage)
	mux.HandleFunc("GET /sse", m.HandleSSE)
}

// HandleSSE serves the server-sent events stream.
func (m Main) HandleSSE(w http.ResponseWriter, r *http.Request) {
	m.sseSrv.ServeHTTP(w, r)
}

// EndSession stops the streaming reply of a session that is being torn down.
func (m Main) EndSession(sessionID string) {
	m.turns.cancelSession(sessionID)
}

// Shutdown cancels every streaming reply, waits for them to finish, then broadcasts a close message to all
// connected clients and waits up to 5 seconds for connections to terminate. After the timeout, any
// remaining connections are forcefully closed.
func (m Main) Shutdown(ctx context.Context) error {
	m.turns.cancelAll()

	waited := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(waited)
	}()
	select {
	case <-waited:
	case <-ctx.Done():
		m.logger.Warn("Shutdown before all replies finished", slog.String(errLoggerKey, ctx.Err().Error()))
	}

	e := &sse.Message{Type: sse.Type("closeChat")}
	// Browsers drop events without data
	e.AppendData("bye")

	// We ignore the error here since we're shutting down anyway
	_ = m.sseSrv.Publish(e)

	ctx, cancel := context.WithTimeout(ctx, time.Second*5)
	defer cancel()

	return m.sseSrv.Shutdown(ctx)
}

// sessionID returns the caller's session id, issuing a new session cookie on the first interaction.
func (m Main) sessionID(w http.ResponseWriter, r *http.Request) string {
	if c, err := r.Cookie(sessionCookieName); err == nil && c.Value != "" {
		return c.Value
	}

	id := uuid.New().String()
	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookieName,
		Value:    id,
		Path:     "/",
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
	return id
}

// update runs fn on the state of session sid while holding the session lock and saves the result. A
// missing session is created when create is set; otherwise session.ErrSessionNotFound is returned.
func (m Main) update(
	ctx context.Context,
	sid string,
	create bool,
	fn func(st *session.State) error,
) (*session.State, error) {
	release := m.locks.Lock(sid)
	defer release()

	st, err := m.store.Load(ctx, sid)
	if err != nil {
		if !errors.Is(err, session.ErrSessionNotFound) || !create {
			return nil, fmt.Errorf("failed to load session: %w", err)
		}
		st = session.New(sid)
	}

	if err := fn(st); err != nil {
		return nil, err
	}

	st.Touch()
	if err := m.store.Save(ctx, st); err != nil {
		return nil, fmt.Errorf("failed to save session: %w", err)
	}
	return st, nil
}
