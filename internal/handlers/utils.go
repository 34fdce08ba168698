package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/learnhub/lmsapi/internal/auth"
	"github.com/learnhub/lmsapi/internal/services"
	"github.com/learnhub/lmsapi/types"
)

type contextKey string

const contextIdentityKey contextKey = "identity"

// Response is the envelope every account endpoint replies with.
type Response struct {
	Success bool        `json:"success"`
	Message string      `json:"message"`
	User    *types.User `json:"user,omitempty"`
}

// ErrorReporter receives failures that are the server's fault.
type ErrorReporter interface {
	Capture(r *http.Request, handler string, err error)
}

func withIdentity(ctx context.Context, id auth.Identity) context.Context {
	return context.WithValue(ctx, contextIdentityKey, id)
}

func identityFromContext(ctx context.Context) (auth.Identity, error) {
	id, ok := ctx.Value(contextIdentityKey).(auth.Identity)
	if !ok || id.UserID < 1 {
		return auth.Identity{}, errors.New("missing identity")
	}
	return id, nil
}

func writeJSON(w http.ResponseWriter, status int, value any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(value)
}

func writeOK(w http.ResponseWriter, status int, message string, user *types.User) {
	writeJSON(w, status, Response{Success: true, Message: message, User: user})
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, Response{Success: false, Message: message})
}

func statusFor(kind services.Kind) int {
	switch kind {
	case services.KindBadRequest, services.KindValidationFailed, services.KindInvalidOrExpiredToken:
		return http.StatusBadRequest
	case services.KindConflict:
		return http.StatusConflict
	case services.KindUnauthorized:
		return http.StatusUnauthorized
	case services.KindNotFound:
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

// writeServiceError renders err through the envelope. Server-side failures
// are logged and reported; the cause never reaches the client.
func writeServiceError(w http.ResponseWriter, r *http.Request, log *slog.Logger, reporter ErrorReporter, handler string, err error) {
	status := statusFor(services.KindOf(err))
	if status >= http.StatusInternalServerError {
		log.Error("request failed",
			slog.String("handler", handler),
			slog.String("kind", services.KindOf(err).String()),
			slog.Any("error", err),
		)
		if reporter != nil {
			reporter.Capture(r, handler, err)
		}
	}
	writeError(w, status, services.MessageOf(err))
}

func Healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
