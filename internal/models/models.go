package models

import (
	"strconv"
	"strings"
)

type Message struct {
	Sender  string `json:"sender"`
	Content string `json:"content"`
}

type Session struct {
	ID       string    `json:"id"`
	Number   int       `json:"number"`
	Title    string    `json:"title"`
	Messages []Message `json:"messages"`
	Model    string    `json:"model"`
}

// TitleFor derives the display title from a session number.
func TitleFor(number int) string {
	return "Chat " + strconv.Itoa(number)
}

// Clone returns a deep copy so callers can't mutate store-owned slices.
func (s Session) Clone() Session {
	out := s
	out.Messages = append([]Message(nil), s.Messages...)
	return out
}

type Provider struct {
	ID string `json:"id"`
}

type Pricing struct {
	Prompt     string `json:"prompt"`
	Completion string `json:"completion"`
}

// ModelDescriptor is one entry of the remote model list.
type ModelDescriptor struct {
	ID            string    `json:"id"`
	Name          string    `json:"name"`
	Description   string    `json:"description,omitempty"`
	ContextLength int       `json:"context_length,omitempty"`
	Provider      *Provider `json:"provider,omitempty"`
	Latency       float64   `json:"latency,omitempty"`
	Pricing       *Pricing  `json:"pricing,omitempty"`
}

// ProviderID returns the explicit provider id, or the "vendor" prefix of
// the model id ("openai/gpt-4o" -> "openai").
func (m ModelDescriptor) ProviderID() string {
	if m.Provider != nil && m.Provider.ID != "" {
		return m.Provider.ID
	}
	if i := strings.Index(m.ID, "/"); i > 0 {
		return m.ID[:i]
	}
	return ""
}

// PromptPrice parses the per-token prompt price. ok is false when the
// model carries no usable price.
func (m ModelDescriptor) PromptPrice() (float64, bool) {
	if m.Pricing == nil || m.Pricing.Prompt == "" {
		return 0, false
	}
	v, err := strconv.ParseFloat(m.Pricing.Prompt, 64)
	if err != nil {
		return 0, false
	}
	return v, true
}

type Position struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

type Size struct {
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// Metric is an arbitrary client-reported measurement. The recorder adds a
// "timestamp" field in milliseconds.
type Metric map[string]any

type SavedChat struct {
	ID       string    `json:"id"`
	Title    string    `json:"title"`
	Model    string    `json:"model"`
	Messages []Message `json:"messages"`
	SavedAt  int64     `json:"saved_at"`
}
