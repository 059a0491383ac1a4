package interceptor

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httputil"
	"net/url"

	"github.com/sirupsen/logrus"
)

// NewProxy forwards local /api/... requests to the same path on target,
// through transport. Client-supplied Authorization and Cookie headers are
// dropped; the transport supplies the credential.
func NewProxy(target *url.URL, transport http.RoundTripper) *httputil.ReverseProxy {
	return &httputil.ReverseProxy{
		Rewrite: func(r *httputil.ProxyRequest) {
			r.SetURL(target)
			r.Out.Host = target.Host
			r.Out.Header.Del(HeaderAuthorization)
			r.Out.Header.Del("Cookie")
		},
		Transport: transport,
		ErrorHandler: func(w http.ResponseWriter, r *http.Request, err error) {
			entry := logrus.WithError(err).WithField("path", r.URL.Path)
			msg := "upstream request failed"
			if errors.Is(err, ErrRequestCanceled) {
				entry.Warn("proxy request canceled")
				msg = "request canceled: no API key available"
			} else {
				entry.Error("proxy request failed")
			}
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusBadGateway)
			json.NewEncoder(w).Encode(map[string]any{
				"error": map[string]any{"code": http.StatusBadGateway, "message": msg},
			})
		},
	}
}
