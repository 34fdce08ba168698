package handlers

import (
	"net/http"
	"strings"
	"time"

	"github.com/learnhub/lmsapi/internal/auth"
)

const (
	sessionCookieName  = "token"
	msgUnauthenticated = "Unauthenticated, please login again"
	bearerPrefix       = "bearer "
)

// SessionVerifier checks a session token and yields its identity.
type SessionVerifier interface {
	Verify(token string) (auth.Identity, error)
}

// CookieConfig controls the session cookie written on signup and login.
type CookieConfig struct {
	MaxAge time.Duration
	Secure bool
}

// RequireSession rejects requests without a valid session and stores the
// identity in the request context. The cookie wins over an Authorization header.
func RequireSession(sessions SessionVerifier) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := sessionToken(r)
			if token == "" {
				writeError(w, http.StatusUnauthorized, msgUnauthenticated)
				return
			}

			identity, err := sessions.Verify(token)
			if err != nil {
				writeError(w, http.StatusUnauthorized, msgUnauthenticated)
				return
			}

			next.ServeHTTP(w, r.WithContext(withIdentity(r.Context(), identity)))
		})
	}
}

func sessionToken(r *http.Request) string {
	if cookie, err := r.Cookie(sessionCookieName); err == nil && strings.TrimSpace(cookie.Value) != "" {
		return strings.TrimSpace(cookie.Value)
	}
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	if len(header) > len(bearerPrefix) && strings.EqualFold(header[:len(bearerPrefix)], bearerPrefix) {
		return strings.TrimSpace(header[len(bearerPrefix):])
	}
	return ""
}

func setSessionCookie(w http.ResponseWriter, cfg CookieConfig, token string) {
	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookieName,
		Value:    token,
		Path:     "/",
		MaxAge:   int(cfg.MaxAge / time.Second),
		HttpOnly: true,
		Secure:   cfg.Secure,
		SameSite: http.SameSiteLaxMode,
	})
}

func clearSessionCookie(w http.ResponseWriter, cfg CookieConfig) {
	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		Expires:  time.Unix(0, 0),
		HttpOnly: true,
		Secure:   cfg.Secure,
		SameSite: http.SameSiteLaxMode,
	})
}
