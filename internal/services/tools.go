package services

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/MegaGrindStone/go-mcp"
)

const errLoggerKey = "err"

// Toolset gathers the tools of connected MCP servers and routes calls to the server that owns a tool.
type Toolset struct {
	clients  []*mcp.Client
	tools    []mcp.Tool
	toolsMap map[string]int

	logger *slog.Logger
}

// NewToolset lists the tools of every client. The clients must already be connected.
func NewToolset(ctx context.Context, clients []*mcp.Client, logger *slog.Logger) (Toolset, error) {
	ts := Toolset{
		clients:  clients,
		toolsMap: make(map[string]int),
		logger:   logger.With(slog.String("module", "toolset")),
	}

	for i, cli := range clients {
		res, err := cli.ListTools(ctx, mcp.ListToolsParams{})
		if err != nil {
			return Toolset{}, fmt.Errorf("failed to list tools of %s: %w", cli.ServerInfo().Name, err)
		}
		for _, tool := range res.Tools {
			if _, ok := ts.toolsMap[tool.Name]; ok {
				ts.logger.Warn("Duplicate tool name, keeping the first one",
					slog.String("toolName", tool.Name),
					slog.String("server", cli.ServerInfo().Name))
				continue
			}
			ts.toolsMap[tool.Name] = i
			ts.tools = append(ts.tools, tool)
		}
	}

	return ts, nil
}

// Tools returns every available tool.
func (t Toolset) Tools() []mcp.Tool {
	return t.tools
}

// CallTool calls the named tool with input and returns its JSON-encoded content. Failures are returned
// as a content payload describing the error, with false.
func (t Toolset) CallTool(ctx context.Context, name string, input json.RawMessage) (json.RawMessage, bool) {
	clientIdx, ok := t.toolsMap[name]
	if !ok {
		t.logger.Error("Tool not found", slog.String("toolName", name))
		return callToolError(fmt.Errorf("tool %s is not found", name)), false
	}

	toolRes, err := t.clients[clientIdx].CallTool(ctx, mcp.CallToolParams{
		Name:      name,
		Arguments: input,
	})
	if err != nil {
		t.logger.Error("Tool call failed",
			slog.String("toolName", name),
			slog.String(errLoggerKey, err.Error()))
		return callToolError(fmt.Errorf("tool call failed: %w", err)), false
	}

	resContent, err := json.Marshal(toolRes.Content)
	if err != nil {
		t.logger.Error("Failed to marshal tool result content",
			slog.String("toolName", name),
			slog.String(errLoggerKey, err.Error()))
		return callToolError(fmt.Errorf("failed to marshal content: %w", err)), false
	}

	t.logger.Debug("Tool result content",
		slog.String("toolName", name),
		slog.String("toolResult", string(resContent)))

	return resContent, !toolRes.IsError
}

func callToolError(err error) json.RawMessage {
	contents := []mcp.Content{
		{
			Type: mcp.ContentTypeText,
			Text: err.Error(),
		},
	}

	res, _ := json.Marshal(contents)
	return res
}
