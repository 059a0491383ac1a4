// Package messaging routes request/response messages from page contexts to
// typed handlers. Every request is answered exactly once.
package messaging

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"github.com/sirupsen/logrus"
)

const (
	ErrInvalidFormat = "Invalid message format"
	ErrUnknownType   = "Unknown message type"
)

// Sender identifies the page context a message came from.
type Sender struct {
	TabID string
}

// Response is the JSON object sent back to the caller.
type Response map[string]any

func Success() Response {
	return Response{"success": true}
}

func Failure(msg string) Response {
	return Response{"success": false, "error": msg}
}

// HandlerFunc handles one message type. raw is the whole message,
// including its "type" field.
type HandlerFunc func(ctx context.Context, from Sender, raw json.RawMessage) (Response, error)

type Router struct {
	mu       sync.RWMutex
	handlers map[string]HandlerFunc
}

func NewRouter() *Router {
	return &Router{handlers: make(map[string]HandlerFunc)}
}

// Handle registers h for msgType, replacing any previous handler.
func (r *Router) Handle(msgType string, h HandlerFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[msgType] = h
}

// On registers a handler whose payload is decoded into T.
func On[T any](r *Router, msgType string, fn func(ctx context.Context, from Sender, payload T) (Response, error)) {
	r.Handle(msgType, func(ctx context.Context, from Sender, raw json.RawMessage) (Response, error) {
		var payload T
		if err := json.Unmarshal(raw, &payload); err != nil {
			return nil, fmt.Errorf("decode %s payload: %w", msgType, err)
		}
		return fn(ctx, from, payload)
	})
}

// Types lists the registered message types.
func (r *Router) Types() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.handlers))
	for t := range r.handlers {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}

// Dispatch runs the handler for raw's type and returns its response.
// Malformed messages, unknown types and handler errors become failure
// responses; Dispatch never returns nil.
func (r *Router) Dispatch(ctx context.Context, from Sender, raw json.RawMessage) Response {
	var envelope struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(raw, &envelope); err != nil || envelope.Type == "" {
		return Failure(ErrInvalidFormat)
	}

	r.mu.RLock()
	h, ok := r.handlers[envelope.Type]
	r.mu.RUnlock()
	log := logrus.WithFields(logrus.Fields{"type": envelope.Type, "tab": from.TabID})
	if !ok {
		log.Warn("unknown message type")
		return Failure(ErrUnknownType)
	}

	resp, err := h(ctx, from, raw)
	if err != nil {
		log.WithError(err).Warn("message handler failed")
		return Failure(err.Error())
	}
	if resp == nil {
		resp = Success()
	}
	return resp
}

// Serve dispatches raw and delivers the response through reply exactly
// once, even if the handler panics.
func (r *Router) Serve(ctx context.Context, from Sender, raw json.RawMessage, reply func(Response)) {
	res := NewResponder(reply)
	defer func() {
		if p := recover(); p != nil {
			logrus.WithField("panic", p).Error("message handler panicked")
			res.Respond(Failure("internal error"))
		}
	}()
	res.Respond(r.Dispatch(ctx, from, raw))
}

// Responder guards a reply callback so it fires at most once.
type Responder struct {
	once sync.Once
	fn   func(Response)
}

func NewResponder(fn func(Response)) *Responder {
	return &Responder{fn: fn}
}

// Respond delivers resp unless a response was already sent, and reports
// whether this call delivered it.
func (r *Responder) Respond(resp Response) bool {
	sent := false
	r.once.Do(func() {
		sent = true
		r.fn(resp)
	})
	return sent
}
