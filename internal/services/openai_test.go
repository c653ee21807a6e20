package services_test

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"slices"
	"testing"
	"time"

	"github.com/MegaGrindStone/go-mcp"
	"github.com/MegaGrindStone/thread-chat-ui/internal/models"
	"github.com/MegaGrindStone/thread-chat-ui/internal/services"
)

func TestOpenAIChat(t *testing.T) {
	var req struct {
		Model       string  `json:"model"`
		Temperature float32 `json:"temperature"`
		Messages    []struct {
			Role    string `json:"role"`
			Content string `json:"content"`
		} `json:"messages"`
		Tools []struct {
			Function struct {
				Name string `json:"name"`
			} `json:"function"`
		} `json:"tools"`
	}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/completions" {
			http.NotFound(w, r)
			return
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, "data: {\"choices\":[{\"index\":0,\"delta\":{\"content\":\"Hel\"}}]}\n\n")
		fmt.Fprint(w, "data: {\"choices\":[{\"index\":0,\"delta\":{\"content\":\"lo\"}}]}\n\n")
		fmt.Fprint(w, "data: {\"choices\":[{\"index\":0,\"delta\":{\"tool_calls\":[{\"id\":\"c1\",\"type\":\"function\","+
			"\"function\":{\"name\":\"search\",\"arguments\":\"\"}}]}}]}\n\n")
		fmt.Fprint(w, "data: [DONE]\n\n")
	}))
	defer srv.Close()

	temp := float32(0.5)
	o := services.NewOpenAI("key", srv.URL, "gpt-test", "be brief",
		services.LLMParameters{Temperature: &temp}, discardLogger)

	var got []models.Content
	for c, err := range o.Chat(context.Background(),
		[]models.Message{models.NewUserMessage("1", "hi", time.Now())},
		[]mcp.Tool{{Name: "search"}}) {
		if err != nil {
			t.Fatalf("Chat() error = %v", err)
		}
		got = append(got, c)
	}

	if req.Model != "gpt-test" || req.Temperature != 0.5 {
		t.Errorf("request model = %q, temperature = %v", req.Model, req.Temperature)
	}
	if len(req.Messages) != 2 || req.Messages[0].Role != "system" || req.Messages[1].Content != "hi" {
		t.Errorf("request messages = %+v, want system prompt then user message", req.Messages)
	}
	if len(req.Tools) != 1 || req.Tools[0].Function.Name != "search" {
		t.Errorf("request tools = %+v", req.Tools)
	}

	if len(got) != 3 {
		t.Fatalf("Chat() contents = %+v, want two texts and a tool call", got)
	}
	if got[0].Text+got[1].Text != "Hello" {
		t.Errorf("text = %q, want %q", got[0].Text+got[1].Text, "Hello")
	}
	if got[2].Type != models.ContentTypeCallTool || got[2].ToolName != "search" || string(got[2].ToolInput) != "{}" {
		t.Errorf("contents[2] = %+v, want search call with empty input", got[2])
	}
}

func TestOpenAIChatCompatibleServer(t *testing.T) {
	var req struct {
		Messages []struct {
			Role       string `json:"role"`
			Content    string `json:"content"`
			ToolCallID string `json:"tool_call_id"`
			ToolCalls  []struct {
				ID       string `json:"id"`
				Function struct {
					Name      string `json:"name"`
					Arguments string `json:"arguments"`
				} `json:"function"`
			} `json:"tool_calls"`
		} `json:"messages"`
	}
	var auth string

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v1/chat/completions" {
			http.NotFound(w, r)
			return
		}
		auth = r.Header.Get("Authorization")
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, "data: {\"choices\":[{\"index\":0,\"delta\":{\"content\":\"Let me check\"}}]}\n\n")
		fmt.Fprint(w, "data: {\"choices\":[{\"index\":0,\"delta\":{\"tool_calls\":[{\"index\":0,\"id\":\"c2\","+
			"\"type\":\"function\",\"function\":{\"name\":\"weather\",\"arguments\":\"{\\\"city\\\":\"}}]}}]}\n\n")
		fmt.Fprint(w, "data: {\"choices\":[{\"index\":0,\"delta\":{\"tool_calls\":[{\"index\":0,"+
			"\"function\":{\"arguments\":\"\\\"Oslo\\\"}\"}}]}}]}\n\n")
		fmt.Fprint(w, "data: {\"choices\":[{\"index\":0,\"delta\":{\"tool_calls\":[{\"index\":1,\"id\":\"c3\","+
			"\"type\":\"function\",\"function\":{\"name\":\"time\",\"arguments\":\"{}\"}}]}}]}\n\n")
		fmt.Fprint(w, "data: [DONE]\n\n")
	}))
	defer srv.Close()

	o := services.NewOpenAI("key", srv.URL+"/api/v1", "openai/gpt-4o", "", services.LLMParameters{}, discardLogger)

	history := []models.Message{
		models.NewUserMessage("1", "weather in Bergen?", time.Now()),
		{
			ID:   "2",
			Role: models.RoleAssistant,
			Contents: []models.Content{
				text("Looking it up."),
				{
					Type:       models.ContentTypeCallTool,
					ToolName:   "weather",
					ToolInput:  json.RawMessage(`{"city":"Bergen"}`),
					CallToolID: "c1",
				},
				{
					Type:       models.ContentTypeToolResult,
					ToolResult: json.RawMessage(`"rain"`),
					CallToolID: "c1",
				},
				text("Rain."),
			},
		},
		models.NewUserMessage("3", "and Oslo?", time.Now()),
	}

	var got []models.Content
	for c, err := range o.Chat(context.Background(), history, []mcp.Tool{{Name: "weather"}, {Name: "time"}}) {
		if err != nil {
			t.Fatalf("Chat() error = %v", err)
		}
		got = append(got, c)
	}

	if auth != "Bearer key" {
		t.Errorf("Authorization = %q, want %q", auth, "Bearer key")
	}

	roles := make([]string, 0, len(req.Messages))
	for _, m := range req.Messages {
		roles = append(roles, m.Role)
	}
	wantRoles := []string{"user", "assistant", "tool", "assistant", "user"}
	if !slices.Equal(roles, wantRoles) {
		t.Fatalf("request roles = %v, want %v", roles, wantRoles)
	}
	call := req.Messages[1]
	if call.Content != "Looking it up." || len(call.ToolCalls) != 1 || call.ToolCalls[0].Function.Name != "weather" {
		t.Errorf("assistant tool call message = %+v", call)
	}
	if req.Messages[2].ToolCallID != "c1" || req.Messages[2].Content != `"rain"` {
		t.Errorf("tool message = %+v", req.Messages[2])
	}
	if req.Messages[3].Content != "Rain." {
		t.Errorf("assistant follow-up = %+v", req.Messages[3])
	}

	if len(got) != 2 {
		t.Fatalf("Chat() contents = %+v, want text and one tool call", got)
	}
	if got[0].Text != "Let me check" {
		t.Errorf("contents[0] = %+v", got[0])
	}
	if got[1].ToolName != "weather" || got[1].CallToolID != "c2" || string(got[1].ToolInput) != `{"city":"Oslo"}` {
		t.Errorf("contents[1] = %+v, want weather call for Oslo", got[1])
	}
}
