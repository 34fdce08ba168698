package reporting

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/getsentry/sentry-go"
	sentryhttp "github.com/getsentry/sentry-go/http"
	"github.com/go-chi/chi/v5/middleware"
)

// Reporter forwards server-side failures to Sentry. A Reporter built
// without a DSN is inert.
type Reporter struct {
	enabled bool
}

func New(dsn, environment string, log *slog.Logger) *Reporter {
	if dsn == "" {
		log.Info("SENTRY_DSN not set, error reporting disabled")
		return &Reporter{}
	}

	err := sentry.Init(sentry.ClientOptions{
		Dsn:              dsn,
		Environment:      environment,
		AttachStacktrace: true,
	})
	if err != nil {
		log.Error("sentry initialization failed", slog.Any("error", err))
		return &Reporter{}
	}
	return &Reporter{enabled: true}
}

func (r *Reporter) Enabled() bool {
	return r != nil && r.enabled
}

// Middleware attaches a request-scoped hub so captures carry request data.
func (r *Reporter) Middleware(next http.Handler) http.Handler {
	if !r.Enabled() {
		return next
	}
	return sentryhttp.New(sentryhttp.Options{Repanic: true}).Handle(next)
}

// Capture reports err with the handler name and request id as tags.
func (r *Reporter) Capture(req *http.Request, handler string, err error) {
	if !r.Enabled() || err == nil {
		return
	}

	hub := sentry.GetHubFromContext(req.Context())
	if hub == nil {
		hub = sentry.CurrentHub().Clone()
	}
	hub.WithScope(func(scope *sentry.Scope) {
		scope.SetTag("handler", handler)
		scope.SetLevel(sentry.LevelError)
		if reqID := middleware.GetReqID(req.Context()); reqID != "" {
			scope.SetTag("request_id", reqID)
		}
		hub.CaptureException(err)
	})
}

func (r *Reporter) Flush(timeout time.Duration) bool {
	if !r.Enabled() {
		return true
	}
	return sentry.Flush(timeout)
}
