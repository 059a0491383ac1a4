// Package chat turns a user message into a chat-completion call and writes
// the outcome back into the session it was sent from.
package chat

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/TheChickenIsOnFire/Openrouter-AI-Chat-Extension/internal/models"
	"github.com/TheChickenIsOnFire/Openrouter-AI-Chat-Extension/internal/openrouter"
	"github.com/TheChickenIsOnFire/Openrouter-AI-Chat-Extension/internal/session"
)

const (
	SenderUser  = "You"
	SenderError = "Error"
	// DefaultLabel names the assistant when the model has no display name.
	DefaultLabel = "AI"

	onlineSuffix = ":online"

	msgAPIErrorDefault = "Failed to fetch response from server."
	msgNoValidResponse = "No valid response received."
	msgFetchFailed     = "Failed to fetch response."
)

// Completer is satisfied by *openrouter.Client.
type Completer interface {
	ChatCompletion(ctx context.Context, req openrouter.ChatRequest) (*openrouter.ChatResponse, error)
}

type Options struct {
	// ModelLabel is the human-readable model name replies are filed under.
	ModelLabel string
	WebSearch  bool
}

// Result reports what Send did. Sent is false when the text was blank and
// nothing happened.
type Result struct {
	Sent      bool
	SessionID string
	Reply     models.Message
}

type Dispatcher struct {
	Client Completer
	Now    func() time.Time
}

func New(client Completer) *Dispatcher {
	return &Dispatcher{Client: client, Now: time.Now}
}

// BuildRequest assembles the payload for a single-turn completion: only
// text is sent, never the session history.
func (d *Dispatcher) BuildRequest(text, model string, webSearch bool) openrouter.ChatRequest {
	req := openrouter.ChatRequest{
		Model:    model,
		Messages: []openrouter.Message{{Role: "user", Content: text}},
	}
	if webSearch {
		if !strings.Contains(model, onlineSuffix) {
			req.Model = model + onlineSuffix
		}
		req.Plugins = []openrouter.Plugin{{
			ID:         "web",
			MaxResults: 5,
			SearchPrompt: "A web search was conducted on " + d.now().Format("Mon Jan 02 2006") +
				". Incorporate the following web search results into your response. IMPORTANT: Cite them using markdown links named using the domain of the source.",
		}}
	} else {
		off := false
		req.WebSearch = &off
	}
	return req
}

// Send appends text to sessionID as the user's message, calls the API and
// appends the reply or an error message to the same session. API and
// network failures become chat messages; the returned error is reserved
// for session storage failures.
func (d *Dispatcher) Send(ctx context.Context, st *session.Store, sessionID, text, model string, opts Options) (Result, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return Result{}, nil
	}

	if sessionID == "" {
		sess, err := st.EnsureSession(ctx)
		if err != nil {
			return Result{}, err
		}
		sessionID = sess.ID
	}
	if model == "" {
		if sess, ok := st.Get(sessionID); ok && sess.Model != "" {
			model = sess.Model
		} else {
			model = st.DefaultModel()
		}
	}
	label := opts.ModelLabel
	if label == "" {
		label = DefaultLabel
	}

	if err := st.AppendTo(ctx, sessionID, SenderUser, text); err != nil {
		return Result{}, err
	}
	res := Result{Sent: true, SessionID: sessionID}

	req := d.BuildRequest(text, model, opts.WebSearch)
	placeholder := st.ShowPlaceholder(sessionID, label+" is thinking")

	log := logrus.WithFields(logrus.Fields{"session": sessionID, "model": req.Model})
	resp, err := d.Client.ChatCompletion(ctx, req)
	st.RemovePlaceholder(placeholder)

	res.Reply = replyFor(resp, err, label, log)
	if err := st.AppendTo(ctx, sessionID, res.Reply.Sender, res.Reply.Content); err != nil {
		if errors.Is(err, session.ErrNotFound) {
			log.Warn("session closed before the reply arrived")
			return res, nil
		}
		return res, err
	}
	return res, st.Persist(ctx)
}

func replyFor(resp *openrouter.ChatResponse, err error, label string, log *logrus.Entry) models.Message {
	var apiErr *openrouter.APIError
	switch {
	case err == nil:
		content, _ := resp.Content()
		log.Debug("reply received")
		return models.Message{Sender: label, Content: content}
	case errors.As(err, &apiErr):
		msg := apiErr.Message
		if msg == "" {
			msg = msgAPIErrorDefault
		}
		log.WithError(err).Warn("chat completion rejected")
		return models.Message{Sender: SenderError, Content: fmt.Sprintf("Error %s: %s", apiErr.Code, msg)}
	case errors.Is(err, openrouter.ErrMalformedResponse):
		log.WithError(err).Warn("malformed chat completion")
		return models.Message{Sender: SenderError, Content: msgNoValidResponse}
	default:
		log.WithError(err).Error("chat completion failed")
		return models.Message{Sender: SenderError, Content: msgFetchFailed}
	}
}

func (d *Dispatcher) now() time.Time {
	if d.Now == nil {
		return time.Now()
	}
	return d.Now()
}
