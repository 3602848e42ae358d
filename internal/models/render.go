package models

import (
	"bytes"
	"fmt"
	"html"
	"strings"

	"github.com/yuin/goldmark"
	highlighting "github.com/yuin/goldmark-highlighting"
	"github.com/yuin/goldmark/extension"
	gmhtml "github.com/yuin/goldmark/renderer/html"
)

var markdown = goldmark.New(
	goldmark.WithExtensions(
		extension.Linkify,
		highlighting.NewHighlighting(
			highlighting.WithStyle("friendly"),
		),
	),
	goldmark.WithRendererOptions(
		gmhtml.WithHardWraps(),
	),
)

// RenderText renders the message text into an HTML fragment. Bot replies may carry markdown (lists of
// symptoms, bold warnings, links to health resources) and are converted with goldmark, which drops raw
// HTML from the source. User and alert text is escaped verbatim.
func RenderText(msg Message) (string, error) {
	if msg.Sender != SenderBot {
		return strings.ReplaceAll(html.EscapeString(msg.Text), "\n", "<br>"), nil
	}

	var buf bytes.Buffer
	if err := markdown.Convert([]byte(msg.Text), &buf); err != nil {
		return "", fmt.Errorf("failed to render markdown: %w", err)
	}
	return buf.String(), nil
}
