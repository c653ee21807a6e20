package services_test

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/MegaGrindStone/thread-chat-ui/internal/models"
	"github.com/MegaGrindStone/thread-chat-ui/internal/services"
)

func TestAnthropicChat(t *testing.T) {
	var gotBody struct {
		System   string `json:"system"`
		Messages []struct {
			Role    string `json:"role"`
			Content string `json:"content"`
		} `json:"messages"`
	}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/messages" {
			http.NotFound(w, r)
			return
		}
		if r.Header.Get("x-api-key") != "key" {
			t.Errorf("x-api-key = %q, want %q", r.Header.Get("x-api-key"), "key")
		}
		if err := json.NewDecoder(r.Body).Decode(&gotBody); err != nil {
			t.Errorf("failed to decode request: %v", err)
		}

		w.Header().Set("Content-Type", "text/event-stream")
		for _, chunk := range []string{"Hel", "lo"} {
			fmt.Fprintf(w, "event: content_block_delta\ndata: {\"type\":\"content_block_delta\",\"delta\":{\"text\":%q}}\n\n", chunk)
		}
		fmt.Fprint(w, "event: message_stop\ndata: {\"type\":\"message_stop\"}\n\n")
	}))
	defer srv.Close()

	a := services.NewAnthropic("key", srv.URL, "claude", "be brief", 128, discardLogger)

	msgs := []models.Message{
		models.NewUserMessage("1", "hi", time.Now()),
		{ID: "2", Role: models.RoleAssistant},
	}

	var sb strings.Builder
	for c, err := range a.Chat(context.Background(), msgs, nil) {
		if err != nil {
			t.Fatalf("Chat() error = %v", err)
		}
		sb.WriteString(c.Text)
	}

	if sb.String() != "Hello" {
		t.Errorf("Chat() text = %q, want %q", sb.String(), "Hello")
	}
	if gotBody.System != "be brief" {
		t.Errorf("system = %q, want %q", gotBody.System, "be brief")
	}
	if len(gotBody.Messages) != 1 {
		t.Errorf("messages = %+v, want empty assistant message skipped", gotBody.Messages)
	}
}

func TestAnthropicChatError(t *testing.T) {
	tests := []struct {
		name    string
		handler http.HandlerFunc
	}{
		{
			name: "Error event",
			handler: func(w http.ResponseWriter, _ *http.Request) {
				w.Header().Set("Content-Type", "text/event-stream")
				fmt.Fprint(w, "event: error\ndata: {\"type\":\"error\",\"error\":{\"type\":\"overloaded_error\",\"message\":\"busy\"}}\n\n")
			},
		},
		{
			name: "Bad status",
			handler: func(w http.ResponseWriter, _ *http.Request) {
				http.Error(w, "nope", http.StatusUnauthorized)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(tt.handler)
			defer srv.Close()

			a := services.NewAnthropic("key", srv.URL, "claude", "", 128, discardLogger)

			var gotErr error
			for _, err := range a.Chat(context.Background(),
				[]models.Message{models.NewUserMessage("1", "hi", time.Now())}, nil) {
				if err != nil {
					gotErr = err
				}
			}
			if gotErr == nil {
				t.Error("Chat() error = nil, want error")
			}
		})
	}
}
