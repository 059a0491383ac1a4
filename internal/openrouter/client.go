// Package openrouter is the HTTP client for the OpenRouter chat-completions
// and model-list endpoints.
//
// The client never holds the API key for chat requests: the transport it is
// given (see package interceptor) attaches the credential.
package openrouter

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/TheChickenIsOnFire/Openrouter-AI-Chat-Extension/internal/models"
)

const (
	DefaultBaseURL = "https://openrouter.ai/api/v1"
	DefaultTitle   = "OpenRouter Chat Extension"

	// MaxResponseSize caps how much of a response body is read.
	MaxResponseSize = 10 * 1024 * 1024
)

// ErrMalformedResponse is returned for a 2xx response that has no usable
// choice, or whose body is not JSON.
var ErrMalformedResponse = errors.New("malformed response")

// NetworkError reports a request that produced no HTTP response at all.
type NetworkError struct {
	Err error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("network error: %v", e.Err)
}

func (e *NetworkError) Unwrap() error { return e.Err }

// APIError is a non-2xx status or an error payload. Code is the provider's
// error code when it sent one, else the HTTP status.
type APIError struct {
	Status  int
	Code    string
	Message string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("openrouter error %s (HTTP %d)", e.Code, e.Status)
	}
	return fmt.Sprintf("openrouter error %s (HTTP %d): %s", e.Code, e.Status, e.Message)
}

type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Plugin is a request-side plugin directive, e.g. web search.
type Plugin struct {
	ID           string `json:"id"`
	MaxResults   int    `json:"max_results,omitempty"`
	SearchPrompt string `json:"search_prompt,omitempty"`
}

type ChatRequest struct {
	Model     string    `json:"model"`
	Messages  []Message `json:"messages"`
	Plugins   []Plugin  `json:"plugins,omitempty"`
	WebSearch *bool     `json:"web_search,omitempty"`
}

type Choice struct {
	Message      *Message `json:"message"`
	FinishReason string   `json:"finish_reason,omitempty"`
}

type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

type ChatResponse struct {
	ID      string   `json:"id"`
	Model   string   `json:"model"`
	Choices []Choice `json:"choices"`
	Usage   Usage    `json:"usage"`
}

// Content returns the first choice's message content.
func (r *ChatResponse) Content() (string, bool) {
	if r == nil || len(r.Choices) == 0 || r.Choices[0].Message == nil {
		return "", false
	}
	return r.Choices[0].Message.Content, true
}

type Client struct {
	baseURL    string
	httpClient *http.Client
	referer    string
	title      string
}

type Option func(*Client)

func WithBaseURL(u string) Option {
	return func(c *Client) { c.baseURL = strings.TrimSuffix(u, "/") }
}

// WithHTTPClient sets the client whose transport authorizes requests.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithReferer sets the HTTP-Referer header OpenRouter uses for attribution.
func WithReferer(r string) Option {
	return func(c *Client) { c.referer = r }
}

func WithTitle(t string) Option {
	return func(c *Client) { c.title = t }
}

// WithTimeout bounds each request. Zero leaves requests unbounded.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		hc := *c.httpClient
		hc.Timeout = d
		c.httpClient = &hc
	}
}

func New(opts ...Option) *Client {
	c := &Client{
		baseURL:    DefaultBaseURL,
		httpClient: &http.Client{},
		title:      DefaultTitle,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Client) BaseURL() string { return c.baseURL }

// ChatCompletion posts req to /chat/completions. There is no retry.
func (c *Client) ChatCompletion(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("encode chat request: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")

	status, data, err := c.do(httpReq)
	if err != nil {
		return nil, err
	}

	var envelope struct {
		ChatResponse
		Error json.RawMessage `json:"error"`
	}
	jsonErr := json.Unmarshal(data, &envelope)
	if status < 200 || status > 299 {
		return nil, apiError(status, envelope.Error)
	}
	if jsonErr != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedResponse, jsonErr)
	}
	if hasError(envelope.Error) {
		return nil, apiError(status, envelope.Error)
	}
	resp := envelope.ChatResponse
	if _, ok := resp.Content(); !ok {
		return nil, fmt.Errorf("%w: no choice with a message", ErrMalformedResponse)
	}
	return &resp, nil
}

// ListModels fetches /models. apiKey is optional; the endpoint is public.
func (c *Client) ListModels(ctx context.Context, apiKey string) ([]models.ModelDescriptor, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/models", nil)
	if err != nil {
		return nil, err
	}
	if apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+apiKey)
	}

	status, data, err := c.do(httpReq)
	if err != nil {
		return nil, err
	}

	var envelope struct {
		Data   []models.ModelDescriptor `json:"data"`
		Models []models.ModelDescriptor `json:"models"`
		Error  json.RawMessage          `json:"error"`
	}
	jsonErr := json.Unmarshal(data, &envelope)
	if status < 200 || status > 299 {
		return nil, apiError(status, envelope.Error)
	}
	if jsonErr != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedResponse, jsonErr)
	}
	if hasError(envelope.Error) {
		return nil, apiError(status, envelope.Error)
	}
	if envelope.Data != nil {
		return envelope.Data, nil
	}
	if envelope.Models != nil {
		return envelope.Models, nil
	}
	return nil, fmt.Errorf("%w: no model list", ErrMalformedResponse)
}

func (c *Client) do(req *http.Request) (int, []byte, error) {
	if c.referer != "" {
		req.Header.Set("HTTP-Referer", c.referer)
	}
	if c.title != "" {
		req.Header.Set("X-Title", c.title)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, nil, &NetworkError{Err: err}
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, MaxResponseSize+1))
	if err != nil {
		return 0, nil, &NetworkError{Err: fmt.Errorf("read body: %w", err)}
	}
	if len(data) > MaxResponseSize {
		return 0, nil, fmt.Errorf("%w: body exceeds %d bytes", ErrMalformedResponse, MaxResponseSize)
	}
	return resp.StatusCode, data, nil
}

func hasError(raw json.RawMessage) bool {
	s := strings.TrimSpace(string(raw))
	return s != "" && s != "null" && s != "false" && s != `""`
}

// apiError decodes an error payload, which is either an object
// {code, message} or a bare string. code may be a number or a string.
func apiError(status int, raw json.RawMessage) *APIError {
	e := &APIError{Status: status, Code: strconv.Itoa(status)}
	if !hasError(raw) {
		return e
	}
	var msg string
	if json.Unmarshal(raw, &msg) == nil {
		e.Message = msg
		return e
	}
	var obj struct {
		Code    json.RawMessage `json:"code"`
		Message string          `json:"message"`
	}
	if json.Unmarshal(raw, &obj) != nil {
		return e
	}
	e.Message = obj.Message
	if code := decodeCode(obj.Code); code != "" && code != "0" {
		e.Code = code
	}
	return e
}

func decodeCode(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var s string
	if json.Unmarshal(raw, &s) == nil {
		return s
	}
	var n json.Number
	if json.Unmarshal(raw, &n) == nil {
		return n.String()
	}
	return ""
}
