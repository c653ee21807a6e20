package models

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Message is a single entry of a thread as it is checkpointed by the conversation store. A user message
// carries exactly one text content, an assistant message may interleave text with tool calls and their
// results.
type Message struct {
	ID        string
	Role      Role
	Contents  []Content
	Timestamp time.Time
}

// Content is a message content with its type.
type Content struct {
	Type ContentType

	// Text would be filled if Type is ContentTypeText.
	Text string

	// ToolName would be filled if Type is ContentTypeCallTool.
	ToolName string
	// ToolInput would be filled if Type is ContentTypeCallTool.
	ToolInput json.RawMessage

	// ToolResult would be filled if Type is ContentTypeToolResult. The value would be either tool result or error.
	ToolResult json.RawMessage

	// CallToolID would be filled if Type is ContentTypeCallTool or ContentTypeToolResult.
	CallToolID string
	// CallToolFailed is set when Type is ContentTypeToolResult and the tool call failed.
	CallToolFailed bool
}

// Role represents the role of a message participant.
type Role string

// ContentType represents the type of content in messages.
type ContentType string

const (
	// RoleUser represents a user message. A message with this role would only contain text content.
	RoleUser Role = "user"
	// RoleAssistant represents an assistant message. A message with this role would contain text content
	// and potentially other types of content.
	RoleAssistant Role = "assistant"

	// ContentTypeText represents text content.
	ContentTypeText ContentType = "text"
	// ContentTypeCallTool represents a call to a tool.
	ContentTypeCallTool ContentType = "call_tool"
	// ContentTypeToolResult represents the result of a tool call.
	ContentTypeToolResult ContentType = "tool_result"
)

// NewUserMessage builds a user message holding a single text content.
func NewUserMessage(id, text string, ts time.Time) Message {
	return Message{
		ID:   id,
		Role: RoleUser,
		Contents: []Content{
			{
				Type: ContentTypeText,
				Text: text,
			},
		},
		Timestamp: ts,
	}
}

// Text concatenates the text contents of the message, skipping tool calls and tool results.
func (m Message) Text() string {
	var sb strings.Builder
	for _, ct := range m.Contents {
		if ct.Type == ContentTypeText {
			sb.WriteString(ct.Text)
		}
	}
	return sb.String()
}

// RenderContents renders a slice of Content into a string. If withDetail is true, it will render the contents
// of call tools input and result wrapped with <details> tags.
func RenderContents(contents []Content, withDetail bool) string {
	var sb strings.Builder
	for _, content := range contents {
		switch content.Type {
		case ContentTypeText:
			if content.Text == "" {
				continue
			}
			sb.WriteString(content.Text)
		case ContentTypeCallTool:
			sb.WriteString("  \n\n")
			sb.WriteString(fmt.Sprintf("Calling Tool: %s  \n", content.ToolName))
			if withDetail {
				sb.WriteString("<details>  \n\n")
			}
			sb.WriteString("Input:  \n")
			sb.WriteString(fmt.Sprintf("```json  \n%s  \n```  \n", prettyJSON(content.ToolInput)))
		case ContentTypeToolResult:
			sb.WriteString("  \n\n")
			sb.WriteString("Result:  \n")
			sb.WriteString(fmt.Sprintf("```json  \n%s  \n```  \n", prettyJSON(content.ToolResult)))
			if withDetail {
				sb.WriteString("</details>  \n")
			}
		}
	}
	return sb.String()
}

func prettyJSON(raw json.RawMessage) string {
	var buf bytes.Buffer
	if err := json.Indent(&buf, raw, "", "  "); err != nil {
		return string(raw)
	}
	return buf.String()
}
