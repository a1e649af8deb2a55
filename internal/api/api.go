// Package api provides the HTTP surface for the assist service.
//
// It exposes RESTful endpoints for authentication, outbound sends, settings,
// auto-reply membership, and stats. Handlers delegate to the auth
// coordinator, the outbound pipeline, and the auto-reply coordinator.
package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gboost/assist/internal/auth"
	"github.com/gboost/assist/internal/autoreply"
	"github.com/gboost/assist/internal/messaging"
	"github.com/gboost/assist/internal/pipeline"
	"github.com/gboost/assist/internal/settings"
	"github.com/gboost/assist/internal/store"
)

// Server configuration defaults.
const (
	// DefaultAddr is the listen address used when none is configured.
	DefaultAddr = ":8080"
	// DefaultShutdownTimeout bounds graceful shutdown.
	DefaultShutdownTimeout = 10 * time.Second
	// DefaultAuthPollTimeout bounds the background polling goroutine spawned
	// by an auth request, long enough for all polling attempts with headroom.
	DefaultAuthPollTimeout = 10 * time.Minute
)

// Server hosts the HTTP API.
type Server struct {
	settings   *settings.Store
	st         store.Store
	authCoord  *auth.Coordinator
	pipeline   *pipeline.Pipeline
	autoReply  *autoreply.Coordinator
	msgService messaging.Service
	addr       string
	httpServer *http.Server
}

// Opts holds configuration options for the API server.
type Opts struct {
	Addr string
}

// Option defines a configuration option for the API server.
type Option func(*Opts)

// WithAddr sets the listen address.
func WithAddr(addr string) Option {
	return func(o *Opts) { o.Addr = addr }
}

// NewServer creates the API server wired to the given components.
func NewServer(st *settings.Store, persist store.Store, authCoord *auth.Coordinator, pipe *pipeline.Pipeline, autoReply *autoreply.Coordinator, msgService messaging.Service, opts ...Option) *Server {
	cfg := Opts{Addr: DefaultAddr}
	for _, opt := range opts {
		opt(&cfg)
	}
	return &Server{
		settings:   st,
		st:         persist,
		authCoord:  authCoord,
		pipeline:   pipe,
		autoReply:  autoReply,
		msgService: msgService,
		addr:       cfg.Addr,
	}
}

// Handler builds the route table.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/auth/request", s.authRequestHandler)
	mux.HandleFunc("/auth/status", s.authStatusHandler)
	mux.HandleFunc("/auth", s.authClearHandler)
	mux.HandleFunc("/messages/send", s.sendHandler)
	mux.HandleFunc("/settings", s.settingsHandler)
	mux.HandleFunc("/automode", s.autoModeHandler)
	mux.HandleFunc("/automode/", s.autoModeMemberHandler)
	mux.HandleFunc("/stats", s.statsHandler)
	mux.HandleFunc("/health", s.healthHandler)

	// Twilio transports receive inbound messages via webhook.
	if twilioSvc, ok := s.msgService.(*messaging.TwilioService); ok {
		mux.HandleFunc("/webhook/twilio", twilioSvc.TwilioWebhookHandler)
	}
	return mux
}

// Run starts the HTTP server and blocks until the context is cancelled, then
// shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	s.httpServer = &http.Server{Addr: s.addr, Handler: s.Handler()}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("Server.Run: API listening", "addr", s.addr)
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		slog.Info("Server.Run: shutting down", "reason", ctx.Err())
		shutdownCtx, cancel := context.WithTimeout(context.Background(), DefaultShutdownTimeout)
		defer cancel()
		return s.httpServer.Shutdown(shutdownCtx)
	}
}
