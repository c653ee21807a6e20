package handlers

import (
	"bytes"
	"fmt"
	"html/template"

	"github.com/MegaGrindStone/thread-chat-ui/internal/models"
	"github.com/yuin/goldmark"
	highlighting "github.com/yuin/goldmark-highlighting"
	"github.com/yuin/goldmark/extension"
)

type message struct {
	ID             string
	Role           string
	Content        template.HTML
	StreamingState string
}

var markdown = goldmark.New(
	goldmark.WithExtensions(
		extension.GFM,
		highlighting.NewHighlighting(
			highlighting.WithStyle("github"),
		),
	),
)

// renderContent converts a record's content to HTML. Assistant replies are Markdown, user input is shown
// as typed.
func renderContent(role models.Role, content string) (template.HTML, error) {
	if role != models.RoleAssistant {
		return template.HTML(template.HTMLEscapeString(content)), nil //nolint:gosec // Escaped above.
	}

	var buf bytes.Buffer
	if err := markdown.Convert([]byte(content), &buf); err != nil {
		return "", fmt.Errorf("failed to render markdown: %w", err)
	}
	return template.HTML(buf.String()), nil //nolint:gosec // Goldmark drops raw HTML by default.
}

func (m Main) renderTemplate(name string, data any) (string, error) {
	var buf bytes.Buffer
	if err := m.templates.ExecuteTemplate(&buf, name, data); err != nil {
		return "", fmt.Errorf("failed to execute template %s: %w", name, err)
	}
	return buf.String(), nil
}
