package middleware

import (
	"context"
	"net/http"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/TheChickenIsOnFire/Openrouter-AI-Chat-Extension/internal/auth"
)

type contextKey string

const TabIDKey contextKey = "tab_id"

// TabCookie names the cookie that identifies a browser tab.
const TabCookie = "tab_id"

// Tab resolves the caller's tab from its signed cookie. A request without a
// valid cookie is assigned a fresh tab id and the cookie is set on the
// response.
func Tab(signer *auth.Signer) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			var tabID string
			if cookie, err := r.Cookie(TabCookie); err == nil {
				if v, err := signer.Verify(cookie.Value); err == nil && v != "" {
					tabID = v
				} else {
					logrus.WithError(err).Debug("discarding invalid tab cookie")
				}
			}
			if tabID == "" {
				tabID = uuid.NewString()
				http.SetCookie(w, &http.Cookie{
					Name:     TabCookie,
					Value:    signer.Sign(tabID),
					Path:     "/",
					HttpOnly: true,
					SameSite: http.SameSiteLaxMode,
				})
			}

			ctx := context.WithValue(r.Context(), TabIDKey, tabID)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// TabID returns the tab resolved by Tab, or "" outside it.
func TabID(ctx context.Context) string {
	id, _ := ctx.Value(TabIDKey).(string)
	return id
}
