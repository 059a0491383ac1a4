package middleware

import (
	"fmt"
	"mime"
	"net"
	"net/http"
	"strings"

	"github.com/sirupsen/logrus"
)

// Guard admits only requests addressed to the service's own listen address
// and coming from an allowed page origin, or from no page at all.
type Guard struct {
	hosts   map[string]bool
	origins map[string]bool
}

// NewGuard builds a Guard for a service listening on addr. A loopback or
// wildcard listen host admits every loopback name on the same port.
func NewGuard(addr string, allowedOrigins []string) (*Guard, error) {
	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		return nil, fmt.Errorf("listen address %q: %w", addr, err)
	}
	g := &Guard{hosts: make(map[string]bool), origins: make(map[string]bool)}
	g.hosts[strings.ToLower(net.JoinHostPort(host, port))] = true

	ip := net.ParseIP(host)
	if host == "" || host == "localhost" || (ip != nil && (ip.IsLoopback() || ip.IsUnspecified())) {
		for _, name := range []string{"localhost", "127.0.0.1", "::1"} {
			g.hosts[net.JoinHostPort(name, port)] = true
		}
	}
	for _, o := range allowedOrigins {
		g.origins[normalizeOrigin(o)] = true
	}
	return g, nil
}

func normalizeOrigin(o string) string {
	return strings.TrimSuffix(strings.ToLower(strings.TrimSpace(o)), "/")
}

// AllowHost reports whether host (a Host header) names this service.
func (g *Guard) AllowHost(host string) bool {
	return g.hosts[strings.ToLower(host)]
}

// AllowOrigin reports whether r carries no Origin or an allowed one. It
// doubles as the websocket upgrader's origin check.
func (g *Guard) AllowOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	return g.origins[normalizeOrigin(origin)]
}

// Middleware rejects foreign hosts and origins with 403, and POST, PUT or
// PATCH requests that are not application/json with 415.
func (g *Guard) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		log := logrus.WithFields(logrus.Fields{"method": r.Method, "path": r.URL.Path, "host": r.Host})
		if !g.AllowHost(r.Host) {
			log.Warn("rejected request for foreign host")
			http.Error(w, "Forbidden", http.StatusForbidden)
			return
		}
		if !g.AllowOrigin(r) {
			log.WithField("origin", r.Header.Get("Origin")).Warn("rejected request from foreign origin")
			http.Error(w, "Forbidden", http.StatusForbidden)
			return
		}
		switch r.Method {
		case http.MethodPost, http.MethodPut, http.MethodPatch:
			mediaType, _, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
			if err != nil || mediaType != "application/json" {
				log.Warn("rejected non-JSON request body")
				http.Error(w, "Content-Type must be application/json", http.StatusUnsupportedMediaType)
				return
			}
		}
		next.ServeHTTP(w, r)
	})
}
