package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"slices"
	"time"

	"github.com/MegaGrindStone/go-mcp"
	"github.com/MegaGrindStone/thread-chat-ui/internal/models"
	"github.com/google/uuid"
)

// LLM represents a large language model that streams a reply to a conversation. Text arrives as
// ContentTypeText chunks; a requested tool call arrives as a single ContentTypeCallTool content.
type LLM interface {
	Chat(ctx context.Context, messages []models.Message, tools []mcp.Tool) iter.Seq2[models.Content, error]
}

// Checkpointer persists the messages of every thread.
type Checkpointer interface {
	Messages(ctx context.Context, threadID string) ([]models.Message, error)
	AddMessage(ctx context.Context, threadID string, message models.Message) (string, error)
	UpdateMessage(ctx context.Context, threadID string, message models.Message) error
}

// ToolCaller exposes the tools the model may call.
type ToolCaller interface {
	Tools() []mcp.Tool
	// CallTool runs a tool and returns its result, or an error payload and false.
	CallTool(ctx context.Context, name string, input json.RawMessage) (json.RawMessage, bool)
}

// Agent is the conversation store behind the chat: it checkpoints every thread and answers a new user
// message by running the model, calling tools as long as the model asks for them.
type Agent struct {
	llm   LLM
	store Checkpointer
	tools ToolCaller

	counter       TokenCounter
	contextTokens int

	logger *slog.Logger
}

const maxToolRounds = 10

// NewAgent creates an Agent. tools may be nil when no tool servers are configured. History sent to the
// model is trimmed to contextTokens as measured by counter; zero disables trimming.
func NewAgent(
	llm LLM,
	store Checkpointer,
	tools ToolCaller,
	counter TokenCounter,
	contextTokens int,
	logger *slog.Logger,
) Agent {
	return Agent{
		llm:           llm,
		store:         store,
		tools:         tools,
		counter:       counter,
		contextTokens: contextTokens,
		logger:        logger.With(slog.String("module", "agent")),
	}
}

// State returns the checkpointed messages of a thread.
func (a Agent) State(ctx context.Context, threadID string) (models.ThreadState, error) {
	msgs, err := a.store.Messages(ctx, threadID)
	if err != nil {
		return models.ThreadState{}, fmt.Errorf("failed to get messages: %w", err)
	}
	return models.ThreadState{Messages: withContent(msgs)}, nil
}

// withContent drops the assistant placeholders of turns that failed before the model produced anything.
func withContent(msgs []models.Message) []models.Message {
	return slices.DeleteFunc(msgs, func(msg models.Message) bool {
		return len(msg.Contents) == 0
	})
}

// Stream checkpoints input on threadID and streams the reply. Model text is yielded as assistant
// fragments, tool calls and their results as tool_call and tool_result fragments. The reply is
// checkpointed when the stream ends, including when ctx is cancelled midway; cancellation ends the
// sequence without an error.
func (a Agent) Stream(ctx context.Context, threadID string, input models.Message) iter.Seq2[models.Fragment, error] {
	return func(yield func(models.Fragment, error) bool) {
		history, err := a.store.Messages(ctx, threadID)
		if err != nil {
			yield(models.Fragment{}, fmt.Errorf("failed to get messages: %w", err))
			return
		}

		input.Role = models.RoleUser
		input.ID, err = a.store.AddMessage(ctx, threadID, input)
		if err != nil {
			yield(models.Fragment{}, fmt.Errorf("failed to add user message: %w", err))
			return
		}

		aiMsg := models.Message{
			ID:        uuid.New().String(),
			Role:      models.RoleAssistant,
			Timestamp: time.Now(),
		}
		aiMsg.ID, err = a.store.AddMessage(ctx, threadID, aiMsg)
		if err != nil {
			yield(models.Fragment{}, fmt.Errorf("failed to add assistant message: %w", err))
			return
		}
		defer func() {
			if err := a.store.UpdateMessage(context.WithoutCancel(ctx), threadID, aiMsg); err != nil {
				a.logger.Error("Failed to update message",
					slog.String("threadID", threadID),
					slog.String(errLoggerKey, err.Error()))
			}
		}()

		messages := append(withContent(history), input)
		var tools []mcp.Tool
		if a.tools != nil {
			tools = a.tools.Tools()
		}

		for range maxToolRounds {
			msgs := messages
			if len(aiMsg.Contents) > 0 {
				msgs = append(slices.Clone(messages), aiMsg)
			}
			msgs = TrimHistory(msgs, a.contextTokens, a.counter)

			var call *models.Content
			for content, err := range a.llm.Chat(ctx, msgs, tools) {
				if err != nil {
					if errors.Is(err, context.Canceled) || ctx.Err() != nil {
						return
					}
					a.logger.Error("Error from llm provider", slog.String(errLoggerKey, err.Error()))
					yield(models.Fragment{}, fmt.Errorf("llm provider: %w", err))
					return
				}

				switch content.Type {
				case models.ContentTypeText:
					appendText(&aiMsg, content.Text)
					if !yield(models.Fragment{Origin: models.OriginAssistant, Text: content.Text}, nil) {
						return
					}
				case models.ContentTypeCallTool:
					c := content
					call = &c
				default:
					a.logger.Warn("Unexpected content type from llm provider", slog.String("type", string(content.Type)))
				}
			}
			if ctx.Err() != nil || call == nil {
				return
			}

			result, success := a.callTool(ctx, call)
			aiMsg.Contents = append(aiMsg.Contents, *call, models.Content{
				Type:           models.ContentTypeToolResult,
				ToolResult:     result,
				CallToolID:     call.CallToolID,
				CallToolFailed: !success,
			})

			if !yield(models.Fragment{Origin: models.OriginToolCall, Text: call.ToolName}, nil) {
				return
			}
			if !yield(models.Fragment{Origin: models.OriginToolResult, Text: string(result)}, nil) {
				return
			}
		}

		a.logger.Warn("Tool call limit reached", slog.String("threadID", threadID), slog.Int("rounds", maxToolRounds))
	}
}

// callTool runs the tool call requested by the model. Some models produce tool input that isn't valid
// JSON; such input is replaced by an empty object in the checkpoint and the model is told about it.
func (a Agent) callTool(ctx context.Context, call *models.Content) (json.RawMessage, bool) {
	if !json.Valid(call.ToolInput) {
		bad := string(call.ToolInput)
		call.ToolInput = json.RawMessage("{}")
		return callToolError(fmt.Errorf("tool input %s is not valid json", bad)), false
	}
	if a.tools == nil {
		return callToolError(fmt.Errorf("tool %s is not found", call.ToolName)), false
	}
	return a.tools.CallTool(ctx, call.ToolName, call.ToolInput)
}

func appendText(msg *models.Message, text string) {
	if n := len(msg.Contents); n > 0 && msg.Contents[n-1].Type == models.ContentTypeText {
		msg.Contents[n-1].Text += text
		return
	}
	msg.Contents = append(msg.Contents, models.Content{
		Type: models.ContentTypeText,
		Text: text,
	})
}
