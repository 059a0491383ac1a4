package middleware

import (
	"bufio"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/TheChickenIsOnFire/Openrouter-AI-Chat-Extension/internal/auth"
)

func newSigner(t *testing.T) *auth.Signer {
	t.Helper()
	s, err := auth.NewSigner([]byte("0123456789abcdef0123456789abcdef"))
	require.NoError(t, err)
	return s
}

func TestTabMiddleware(t *testing.T) {
	signer := newSigner(t)

	var seen string
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = TabID(r.Context())
		w.WriteHeader(http.StatusOK)
	})

	tests := []struct {
		name        string
		cookieValue string
		wantTab     string
		wantNew     bool
	}{
		{name: "Valid Cookie", cookieValue: signer.Sign("tab-1"), wantTab: "tab-1"},
		{name: "Invalid Signature", cookieValue: "dGFiLTE=|invalid_signature", wantNew: true},
		{name: "Garbage", cookieValue: "not-a-cookie", wantNew: true},
		{name: "Missing Cookie", wantNew: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			seen = ""
			req := httptest.NewRequest("GET", "/", nil)
			if tt.cookieValue != "" {
				req.AddCookie(&http.Cookie{Name: TabCookie, Value: tt.cookieValue})
			}
			rr := httptest.NewRecorder()

			Tab(signer)(next).ServeHTTP(rr, req)

			assert.Equal(t, http.StatusOK, rr.Code)
			cookies := rr.Result().Cookies()
			if !tt.wantNew {
				assert.Equal(t, tt.wantTab, seen)
				assert.Empty(t, cookies)
				return
			}
			require.Len(t, cookies, 1)
			assert.True(t, cookies[0].HttpOnly)
			issued, err := signer.Verify(cookies[0].Value)
			require.NoError(t, err)
			assert.Equal(t, issued, seen)
			assert.NotEmpty(t, seen)
		})
	}
}

func TestTabIDOutsideMiddleware(t *testing.T) {
	req := httptest.NewRequest("GET", "/", nil)
	assert.Equal(t, "", TabID(req.Context()))
}

func TestLoggingMiddleware(t *testing.T) {
	nextHandler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})

	req := httptest.NewRequest("GET", "/", nil)
	rr := httptest.NewRecorder()

	LoggingMiddleware(nextHandler).ServeHTTP(rr, req)

	assert.Equal(t, http.StatusNotFound, rr.Code)
}

// MockHijacker implements http.Hijacker for testing
type MockHijacker struct {
	*httptest.ResponseRecorder
	hijacked bool
}

func (m *MockHijacker) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	m.hijacked = true
	return nil, nil, nil
}

func TestLoggingMiddleware_Hijack(t *testing.T) {
	nextHandler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hijacker, ok := w.(http.Hijacker)
		require.True(t, ok, "ResponseWriter does not implement http.Hijacker")
		_, _, err := hijacker.Hijack()
		assert.NoError(t, err)
	})

	req := httptest.NewRequest("GET", "/", nil)
	mockWriter := &MockHijacker{ResponseRecorder: httptest.NewRecorder()}

	LoggingMiddleware(nextHandler).ServeHTTP(mockWriter, req)
	assert.True(t, mockWriter.hijacked)
}

func TestLoggingMiddleware_HijackUnsupported(t *testing.T) {
	nextHandler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _, err := w.(http.Hijacker).Hijack()
		assert.Error(t, err)
	})

	LoggingMiddleware(nextHandler).ServeHTTP(httptest.NewRecorder(), httptest.NewRequest("GET", "/", nil))
}

func TestGuard(t *testing.T) {
	guard, err := NewGuard("127.0.0.1:8787", []string{"chrome-extension://abcdef"})
	require.NoError(t, err)
	handler := guard.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	tests := []struct {
		name        string
		method      string
		host        string
		origin      string
		contentType string
		wantStatus  int
	}{
		{name: "CLI GET", method: "GET", host: "127.0.0.1:8787", wantStatus: http.StatusOK},
		{name: "CLI POST", method: "POST", host: "127.0.0.1:8787", contentType: "application/json", wantStatus: http.StatusOK},
		{name: "Localhost alias", method: "GET", host: "localhost:8787", wantStatus: http.StatusOK},
		{name: "IPv6 loopback", method: "GET", host: "[::1]:8787", wantStatus: http.StatusOK},
		{name: "Extension origin", method: "POST", host: "127.0.0.1:8787", origin: "chrome-extension://abcdef", contentType: "application/json; charset=utf-8", wantStatus: http.StatusOK},
		{name: "Rebound host", method: "GET", host: "attacker.example:8787", wantStatus: http.StatusForbidden},
		{name: "Wrong port", method: "GET", host: "127.0.0.1:9999", wantStatus: http.StatusForbidden},
		{name: "Foreign origin", method: "POST", host: "127.0.0.1:8787", origin: "http://attacker.example", contentType: "application/json", wantStatus: http.StatusForbidden},
		{name: "Null origin", method: "GET", host: "127.0.0.1:8787", origin: "null", wantStatus: http.StatusForbidden},
		{name: "Text body", method: "POST", host: "127.0.0.1:8787", contentType: "text/plain", wantStatus: http.StatusUnsupportedMediaType},
		{name: "Form body", method: "PUT", host: "127.0.0.1:8787", contentType: "application/x-www-form-urlencoded", wantStatus: http.StatusUnsupportedMediaType},
		{name: "Missing content type", method: "POST", host: "127.0.0.1:8787", wantStatus: http.StatusUnsupportedMediaType},
		{name: "Delete needs no body", method: "DELETE", host: "127.0.0.1:8787", wantStatus: http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(tt.method, "/messages", nil)
			req.Host = tt.host
			if tt.origin != "" {
				req.Header.Set("Origin", tt.origin)
			}
			if tt.contentType != "" {
				req.Header.Set("Content-Type", tt.contentType)
			}
			rr := httptest.NewRecorder()
			handler.ServeHTTP(rr, req)
			assert.Equal(t, tt.wantStatus, rr.Code)
		})
	}
}

func TestGuardExplicitHost(t *testing.T) {
	guard, err := NewGuard("chat.internal:80", nil)
	require.NoError(t, err)
	assert.True(t, guard.AllowHost("chat.internal:80"))
	assert.False(t, guard.AllowHost("localhost:80"))

	_, err = NewGuard("no-port", nil)
	assert.Error(t, err)
}
