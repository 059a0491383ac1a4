// Package export renders a chat session as a downloadable log.
package export

import (
	"encoding/json"
	"fmt"
	"html"
	"io"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/TheChickenIsOnFire/Openrouter-AI-Chat-Extension/internal/models"
)

type Exporter interface {
	Export(sess models.Session, w io.Writer) error
	Extension() string
	ContentType() string
}

// For returns the exporter for format.
func For(format string) (Exporter, error) {
	switch strings.ToLower(format) {
	case "", "md", "markdown":
		return &MarkdownExporter{}, nil
	case "json":
		return &JSONExporter{}, nil
	case "yaml", "yml":
		return &YAMLExporter{}, nil
	case "html":
		return &HTMLExporter{}, nil
	default:
		return nil, fmt.Errorf("unsupported format: %s (supported: md, json, yaml, html)", format)
	}
}

// Filename builds a download name such as "chat-2.md".
func Filename(sess models.Session, e Exporter) string {
	return fmt.Sprintf("chat-%d.%s", sess.Number, e.Extension())
}

type MarkdownExporter struct{}

func (e *MarkdownExporter) Export(sess models.Session, w io.Writer) error {
	if _, err := fmt.Fprintf(w, "# %s\n\n**Model:** %s  \n**Messages:** %d\n\n---\n\n", sess.Title, sess.Model, len(sess.Messages)); err != nil {
		return err
	}
	for i, msg := range sess.Messages {
		if _, err := fmt.Fprintf(w, "**%s:**\n\n%s\n\n", msg.Sender, msg.Content); err != nil {
			return err
		}
		if i < len(sess.Messages)-1 {
			if _, err := io.WriteString(w, "---\n\n"); err != nil {
				return err
			}
		}
	}
	return nil
}

func (e *MarkdownExporter) Extension() string   { return "md" }
func (e *MarkdownExporter) ContentType() string { return "text/markdown; charset=utf-8" }

type JSONExporter struct{}

func (e *JSONExporter) Export(sess models.Session, w io.Writer) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(sess)
}

func (e *JSONExporter) Extension() string   { return "json" }
func (e *JSONExporter) ContentType() string { return "application/json" }

type YAMLExporter struct{}

func (e *YAMLExporter) Export(sess models.Session, w io.Writer) error {
	enc := yaml.NewEncoder(w)
	defer func() { _ = enc.Close() }()
	return enc.Encode(sess)
}

func (e *YAMLExporter) Extension() string   { return "yaml" }
func (e *YAMLExporter) ContentType() string { return "application/yaml" }

type HTMLExporter struct{}

func (e *HTMLExporter) Export(sess models.Session, w io.Writer) error {
	title := html.EscapeString(sess.Title)
	if _, err := fmt.Fprintf(w, "<!DOCTYPE html>\n<html>\n<head><meta charset=\"utf-8\"><title>%s</title></head>\n<body>\n<h1>%s</h1>\n", title, title); err != nil {
		return err
	}
	for _, msg := range sess.Messages {
		if _, err := fmt.Fprintf(w, "<div class=\"message\"><strong>%s:</strong> %s</div>\n",
			html.EscapeString(msg.Sender), FormatMessage(msg.Content)); err != nil {
			return err
		}
	}
	_, err := io.WriteString(w, "</body>\n</html>\n")
	return err
}

func (e *HTMLExporter) Extension() string   { return "html" }
func (e *HTMLExporter) ContentType() string { return "text/html; charset=utf-8" }

var codeBlock = regexp.MustCompile("(?s)```(.+?)```")

// FormatMessage escapes text for HTML and turns fenced code blocks into
// code containers.
func FormatMessage(text string) string {
	escaped := html.EscapeString(text)
	return codeBlock.ReplaceAllStringFunc(escaped, func(m string) string {
		inner := strings.TrimSpace(codeBlock.FindStringSubmatch(m)[1])
		return "<div class=\"code-container\"><pre class=\"code-block\">" + inner + "</pre></div>"
	})
}
