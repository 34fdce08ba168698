package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/learnhub/lmsapi/config"
	"github.com/learnhub/lmsapi/internal/auth"
	"github.com/learnhub/lmsapi/internal/avatar"
	"github.com/learnhub/lmsapi/internal/db"
	"github.com/learnhub/lmsapi/internal/handlers"
	"github.com/learnhub/lmsapi/internal/mail"
	"github.com/learnhub/lmsapi/internal/mq"
	"github.com/learnhub/lmsapi/internal/reporting"
	"github.com/learnhub/lmsapi/internal/services"
	"github.com/learnhub/lmsapi/internal/storage"
	"github.com/learnhub/lmsapi/internal/store"
)

// Server wraps the HTTP server and the clients it owns.
type Server struct {
	httpServer *http.Server
	resources  closers
	reporter   *reporting.Reporter
	log        *slog.Logger
}

// closers releases clients in reverse order of acquisition.
type closers []func() error

func (c *closers) add(fn func() error) {
	*c = append(*c, fn)
}

func (c closers) close() error {
	var err error
	for i := len(c) - 1; i >= 0; i-- {
		err = errors.Join(err, c[i]())
	}
	return err
}

// New wires the account service and its dependencies into an HTTP server.
// Clients opened before a failing step are closed again.
func New(ctx context.Context, cfg config.Config, log *slog.Logger) (_ *Server, err error) {
	if cfg.Auth.JWTSecret == "" {
		return nil, errors.New("JWT_SECRET is required")
	}

	var opened closers
	defer func() {
		if err != nil {
			if closeErr := opened.close(); closeErr != nil {
				log.Warn("failed to release clients", slog.Any("error", closeErr))
			}
		}
	}()

	dbConn, err := db.Open(ctx, cfg)
	if err != nil {
		return nil, err
	}
	opened.add(dbConn.Close)

	objects, err := storage.Open(ctx, cfg.Storage)
	if err != nil {
		return nil, fmt.Errorf("storage: %w", err)
	}
	opened.add(objects.Close)
	if err := objects.EnsureBucket(ctx); err != nil {
		return nil, fmt.Errorf("storage: %w", err)
	}

	mailer, broker, err := NewMailer(ctx, cfg)
	if err != nil {
		return nil, err
	}
	if broker != nil {
		opened.add(broker.Close)
	}

	reporter := reporting.New(cfg.SentryDSN, cfg.Env, log)
	sessions := auth.NewSessionIssuer(cfg.Auth.JWTSecret, cfg.Auth.Issuer, cfg.Auth.SessionTTL)

	accounts := services.NewAccountService(
		store.NewUserRepository(dbConn),
		auth.NewBcryptHasher(cfg.Auth.BcryptCost),
		sessions,
		avatar.NewManager(objects, log),
		mailer,
		services.AccountConfig{
			FrontendURL:   cfg.FrontendURL,
			ResetTokenTTL: cfg.Auth.ResetTokenTTL,
		},
		log,
	)

	accountHandler := handlers.NewAccountHandler(
		accounts,
		handlers.CookieConfig{MaxAge: sessions.TTL(), Secure: cfg.Auth.CookieSecure},
		reporter,
		log,
	)

	middleware.DefaultLogger = middleware.RequestLogger(&middleware.DefaultLogFormatter{
		Logger:  slog.NewLogLogger(log.Handler(), slog.LevelInfo),
		NoColor: true,
	})

	router := chi.NewRouter()
	router.Use(
		middleware.RequestID,
		middleware.RealIP,
		reporter.Middleware,
		middleware.Recoverer,
		middleware.Logger,
		middleware.Timeout(60*time.Second),
	)
	router.Get("/healthz", handlers.Healthz)

	mount := func(r chi.Router) {
		handlers.AccountRouter(r, accountHandler, sessions)
	}
	if cfg.BasePath == "" {
		mount(router)
	} else {
		router.Route(cfg.BasePath, mount)
	}

	port := cfg.ServerPort
	if port == 0 {
		port = 8080
	}

	httpServer := &http.Server{
		Addr:         fmt.Sprintf(":%d", port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return &Server{
		httpServer: httpServer,
		resources:  opened,
		reporter:   reporter,
		log:        log,
	}, nil
}

// NewMailer builds the delivery path chosen by MAIL_DELIVERY. The broker is
// non-nil only for queued delivery and must be closed by the caller.
func NewMailer(ctx context.Context, cfg config.Config) (mail.Mailer, *mq.MQ, error) {
	switch cfg.Mail.Delivery {
	case config.MailDirect, "":
		client, err := mail.NewMailtrapClient(cfg.Mail)
		if err != nil {
			return nil, nil, err
		}
		return client, nil, nil
	case config.MailQueue:
		broker, err := mq.Open(ctx, cfg.MQ)
		if err != nil {
			return nil, nil, err
		}
		return mail.NewQueueMailer(broker, cfg.Mail.Queue), broker, nil
	default:
		return nil, nil, fmt.Errorf("unknown mail delivery %q", cfg.Mail.Delivery)
	}
}

// Start runs the HTTP server. It returns nil after a graceful Shutdown.
func (s *Server) Start() error {
	s.log.Info("server listening", slog.String("addr", s.httpServer.Addr))
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown drains in-flight requests, then releases the broker, object
// storage and database.
func (s *Server) Shutdown(ctx context.Context) error {
	err := errors.Join(s.httpServer.Shutdown(ctx), s.resources.close())
	s.reporter.Flush(2 * time.Second)
	return err
}
