// Package gateway is the HTTP surface: JSON API, auth cookie handling, and
// the operational endpoints.
package gateway

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/parlalabs/parla-core/internal/auth"
	"github.com/parlalabs/parla-core/internal/config"
	"github.com/parlalabs/parla-core/internal/generate"
	"github.com/parlalabs/parla-core/internal/history"
	"github.com/parlalabs/parla-core/internal/ledger"
	"github.com/parlalabs/parla-core/internal/session"
)

const stateCookie = "parla_oauth_state"

// Server routes API requests to the orchestrator and account services.
type Server struct {
	cfg       config.Config
	logger    *slog.Logger
	sessions  *session.Manager
	ledger    *ledger.Ledger
	generator *generate.Service
	history   *history.Log
	provider  *auth.Provider
	metrics   http.Handler
	ready     func() bool
}

func NewServer(cfg config.Config, sessions *session.Manager, led *ledger.Ledger,
	generator *generate.Service, hist *history.Log, provider *auth.Provider,
	metrics http.Handler, ready func() bool, log *slog.Logger) *Server {

	return &Server{
		cfg:       cfg,
		logger:    log.With(slog.String("component", "gateway")),
		sessions:  sessions,
		ledger:    led,
		generator: generator,
		history:   hist,
		provider:  provider,
		metrics:   metrics,
		ready:     ready,
	}
}

// Handler assembles the route table and middleware chain. ctx bounds the rate
// limiter's background sweep.
func (s *Server) Handler(ctx context.Context) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /api/generate", s.handleGenerate)
	mux.HandleFunc("POST /api/generate/cancel", s.handleCancel)
	mux.HandleFunc("GET /api/user", s.handleUser)
	mux.HandleFunc("POST /api/user/deduct", s.handleDeduct)
	mux.HandleFunc("GET /api/auth/url", s.handleAuthURL)
	mux.HandleFunc("GET /auth/callback", s.handleAuthCallback)
	mux.HandleFunc("POST /auth/callback", s.handleAuthCallback)
	mux.HandleFunc("POST /api/auth/logout", s.handleLogout)
	mux.HandleFunc("GET /api/voices", s.handleVoices)
	mux.HandleFunc("GET /api/history", s.handleHistory)
	mux.HandleFunc("GET /api/audio/{id}", s.handleAudio)

	mux.HandleFunc("/healthz", s.handleHealth)
	mux.HandleFunc("/readyz", s.handleReady)
	if s.metrics != nil {
		mux.Handle("/metrics", s.metrics)
	}

	return Chain(mux,
		Recovery(s.logger),
		RequestID(),
		RequestLogger(s.logger),
		SecurityHeaders(),
		RateLimit(ctx, s.cfg.Gateway.RateLimitRPS, s.cfg.Gateway.RateLimitBurst),
	)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (s *Server) handleReady(w http.ResponseWriter, _ *http.Request) {
	if s.ready == nil || s.ready() {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready"))
		return
	}
	w.WriteHeader(http.StatusServiceUnavailable)
	_, _ = w.Write([]byte("not ready"))
}
