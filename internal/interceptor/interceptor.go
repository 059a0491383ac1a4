// Package interceptor attaches the stored API key to outbound requests bound
// for the OpenRouter API.
//
// Two mechanisms exist. The live path decrypts the credential for every
// request. The declarative path applies a header rule that a Syncer rewrites
// whenever the stored credential changes. Both fail closed: a request that
// can't be authorized is canceled, never sent without the header.
package interceptor

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/sirupsen/logrus"
)

// ErrRequestCanceled is returned for requests that were not sent because no
// usable credential was available.
var ErrRequestCanceled = errors.New("request canceled: API credential unavailable")

const (
	HeaderAuthorization = "Authorization"
	HeaderNoSniff       = "X-Content-Type-Options"
	noSniff             = "nosniff"
)

// CredentialSource is satisfied by *secret.Store.
type CredentialSource interface {
	LoadCredential(ctx context.Context) (string, bool, error)
}

// PrefixFor derives the protected URL prefix from the API base URL:
// "https://openrouter.ai/api/v1" protects "https://openrouter.ai/api/".
func PrefixFor(baseURL string) (string, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return "", fmt.Errorf("parse api base url: %w", err)
	}
	if u.Scheme == "" || u.Host == "" {
		return "", fmt.Errorf("api base url %q is not absolute", baseURL)
	}
	first := strings.SplitN(strings.TrimPrefix(u.Path, "/"), "/", 2)[0]
	if first == "" {
		return u.Scheme + "://" + u.Host + "/", nil
	}
	return u.Scheme + "://" + u.Host + "/" + first + "/", nil
}

func matches(prefix string, u *url.URL) bool {
	return u != nil && strings.HasPrefix(u.String(), prefix)
}

type Interceptor struct {
	Prefix      string
	Credentials CredentialSource
}

func (i *Interceptor) Matches(u *url.URL) bool {
	return matches(i.Prefix, u)
}

// Authorize sets the bearer and nosniff headers on req. Any failure to
// obtain the credential returns an error wrapping ErrRequestCanceled.
func (i *Interceptor) Authorize(req *http.Request) error {
	if req.Header == nil {
		return fmt.Errorf("%w: request has no headers", ErrRequestCanceled)
	}
	apiKey, found, err := i.Credentials.LoadCredential(req.Context())
	if err != nil {
		logrus.WithError(err).WithField("url", req.URL.Path).Warn("request header modification failed")
		return fmt.Errorf("%w: %v", ErrRequestCanceled, err)
	}
	if !found || apiKey == "" {
		return fmt.Errorf("%w: no API key stored", ErrRequestCanceled)
	}
	req.Header.Set(HeaderAuthorization, "Bearer "+apiKey)
	req.Header.Set(HeaderNoSniff, noSniff)
	return nil
}

// LiveTransport authorizes matching requests by decrypting the credential
// on every call.
type LiveTransport struct {
	Interceptor *Interceptor
	Base        http.RoundTripper
}

func (t *LiveTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if !t.Interceptor.Matches(req.URL) {
		return base(t.Base).RoundTrip(req)
	}
	out := req.Clone(req.Context())
	if err := t.Interceptor.Authorize(out); err != nil {
		closeBody(req)
		return nil, err
	}
	return base(t.Base).RoundTrip(out)
}

// Mode selects which mechanism authorizes requests.
type Mode string

const (
	ModeLive  Mode = "live"
	ModeRules Mode = "rules"
)

// ParseMode accepts "live", "rules" or "" (live).
func ParseMode(s string) (Mode, error) {
	switch Mode(strings.ToLower(strings.TrimSpace(s))) {
	case "", ModeLive:
		return ModeLive, nil
	case ModeRules:
		return ModeRules, nil
	default:
		return "", fmt.Errorf("unknown interceptor mode %q", s)
	}
}

// NewTransport returns the live transport, or the declarative rule transport
// when mode is ModeRules or no live interceptor is available.
func NewTransport(mode Mode, live *Interceptor, rules *RuleSet, prefix string, b http.RoundTripper) http.RoundTripper {
	if mode == ModeLive && live != nil {
		return &LiveTransport{Interceptor: live, Base: b}
	}
	return &RuleTransport{Rules: rules, Prefix: prefix, Base: b}
}

func base(rt http.RoundTripper) http.RoundTripper {
	if rt == nil {
		return http.DefaultTransport
	}
	return rt
}

func closeBody(req *http.Request) {
	if req.Body != nil {
		req.Body.Close()
	}
}
