package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"iter"
	"log/slog"
	"strings"

	"github.com/MegaGrindStone/go-mcp"
	"github.com/MegaGrindStone/thread-chat-ui/internal/models"
	goopenai "github.com/sashabaranov/go-openai"
)

// OpenAI talks to the chat completions API. Any server speaking that protocol works through baseURL,
// which is how OpenRouter is reached.
type OpenAI struct {
	model        string
	systemPrompt string

	params LLMParameters

	client *goopenai.Client

	logger *slog.Logger
}

// toolCallBuffer assembles the tool call of a streamed response, whose arguments arrive in pieces. Only
// the first call of a response is kept.
type toolCallBuffer struct {
	started bool
	id      string
	name    string
	args    strings.Builder
	dropped int
}

// NewOpenAI creates an OpenAI client for model. An empty baseURL uses the official endpoint.
func NewOpenAI(apiKey, baseURL, model, systemPrompt string, params LLMParameters, logger *slog.Logger) OpenAI {
	cfg := goopenai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	return OpenAI{
		model:        model,
		systemPrompt: systemPrompt,
		params:       params,
		client:       goopenai.NewClientWithConfig(cfg),
		logger:       logger.With(slog.String("module", "openai")),
	}
}

// Chat streams the model's answer to messages. Text arrives as it is generated; a tool call, if the model
// makes one, is yielded last once its arguments are complete.
func (o OpenAI) Chat(
	ctx context.Context,
	messages []models.Message,
	tools []mcp.Tool,
) iter.Seq2[models.Content, error] {
	return func(yield func(models.Content, error) bool) {
		req := o.request(openAIMessages(o.systemPrompt, messages), openAITools(tools))

		stream, err := o.client.CreateChatCompletionStream(ctx, req)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			yield(models.Content{}, fmt.Errorf("failed to create chat completion stream: %w", err))
			return
		}
		defer stream.Close()

		var call toolCallBuffer
		for {
			res, err := stream.Recv()
			if errors.Is(err, io.EOF) {
				break
			}
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				yield(models.Content{}, fmt.Errorf("failed to receive chat completion: %w", err))
				return
			}
			if len(res.Choices) == 0 {
				continue
			}

			delta := res.Choices[0].Delta
			if delta.Content != "" {
				if !yield(models.Content{Type: models.ContentTypeText, Text: delta.Content}, nil) {
					return
				}
			}
			for _, tc := range delta.ToolCalls {
				call.add(tc)
			}
		}

		if call.dropped > 0 {
			o.logger.Warn("Model made several tool calls, only the first one is run",
				slog.Int("dropped", call.dropped))
		}
		if content, ok := call.content(); ok {
			o.logger.Debug("Call tool", slog.String("name", content.ToolName), slog.String("args", string(content.ToolInput)))
			yield(content, nil)
		}
	}
}

// openAIMessages converts stored messages to the chat completions format. The text and tool calls of one
// assistant turn are folded into single assistant messages, each followed by its tool results.
func openAIMessages(systemPrompt string, messages []models.Message) []goopenai.ChatCompletionMessage {
	msgs := make([]goopenai.ChatCompletionMessage, 0, len(messages)+1)
	if systemPrompt != "" {
		msgs = append(msgs, goopenai.ChatCompletionMessage{
			Role:    goopenai.ChatMessageRoleSystem,
			Content: systemPrompt,
		})
	}

	for _, msg := range messages {
		if msg.Role == models.RoleUser {
			msgs = append(msgs, goopenai.ChatCompletionMessage{
				Role:    goopenai.ChatMessageRoleUser,
				Content: msg.Text(),
			})
			continue
		}

		pending := goopenai.ChatCompletionMessage{Role: goopenai.ChatMessageRoleAssistant}
		flush := func() {
			if pending.Content != "" || len(pending.ToolCalls) > 0 {
				msgs = append(msgs, pending)
			}
			pending = goopenai.ChatCompletionMessage{Role: goopenai.ChatMessageRoleAssistant}
		}

		for _, ct := range msg.Contents {
			switch ct.Type {
			case models.ContentTypeText:
				if len(pending.ToolCalls) > 0 {
					flush()
				}
				pending.Content += ct.Text
			case models.ContentTypeCallTool:
				pending.ToolCalls = append(pending.ToolCalls, goopenai.ToolCall{
					ID:   ct.CallToolID,
					Type: goopenai.ToolTypeFunction,
					Function: goopenai.FunctionCall{
						Name:      ct.ToolName,
						Arguments: string(ct.ToolInput),
					},
				})
			case models.ContentTypeToolResult:
				flush()
				msgs = append(msgs, goopenai.ChatCompletionMessage{
					Role:       goopenai.ChatMessageRoleTool,
					Content:    string(ct.ToolResult),
					ToolCallID: ct.CallToolID,
				})
			}
		}
		flush()
	}
	return msgs
}

func openAITools(tools []mcp.Tool) []goopenai.Tool {
	if len(tools) == 0 {
		return nil
	}
	oTools := make([]goopenai.Tool, 0, len(tools))
	for _, tool := range tools {
		oTools = append(oTools, goopenai.Tool{
			Type: goopenai.ToolTypeFunction,
			Function: &goopenai.FunctionDefinition{
				Name:        tool.Name,
				Description: tool.Description,
				Parameters:  tool.InputSchema,
			},
		})
	}
	return oTools
}

// request builds a streaming request; unset parameters keep the server defaults.
func (o OpenAI) request(
	messages []goopenai.ChatCompletionMessage,
	tools []goopenai.Tool,
) goopenai.ChatCompletionRequest {
	req := goopenai.ChatCompletionRequest{
		Model:     o.model,
		Messages:  messages,
		Stream:    true,
		Tools:     tools,
		Stop:      o.params.Stop,
		Seed:      o.params.Seed,
		LogitBias: o.params.LogitBias,
	}

	if p := o.params.Temperature; p != nil {
		req.Temperature = *p
	}
	if p := o.params.TopP; p != nil {
		req.TopP = *p
	}
	if p := o.params.PresencePenalty; p != nil {
		req.PresencePenalty = *p
	}
	if p := o.params.FrequencyPenalty; p != nil {
		req.FrequencyPenalty = *p
	}
	if p := o.params.Logprobs; p != nil {
		req.LogProbs = *p
	}
	if p := o.params.TopLogprobs; p != nil {
		req.TopLogProbs = *p
	}
	return req
}

func (b *toolCallBuffer) add(tc goopenai.ToolCall) {
	if tc.Index != nil && *tc.Index > 0 {
		b.dropped = max(b.dropped, *tc.Index)
		return
	}
	b.started = true
	if tc.ID != "" {
		b.id = tc.ID
	}
	if tc.Function.Name != "" {
		b.name = tc.Function.Name
	}
	b.args.WriteString(tc.Function.Arguments)
}

func (b *toolCallBuffer) content() (models.Content, bool) {
	if !b.started {
		return models.Content{}, false
	}
	args := b.args.String()
	if args == "" {
		args = "{}"
	}
	return models.Content{
		Type:       models.ContentTypeCallTool,
		ToolName:   b.name,
		ToolInput:  json.RawMessage(args),
		CallToolID: b.id,
	}, true
}
