package web

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"ai-chat-pipeline/internal/domain/ports/adapter"
	"ai-chat-pipeline/internal/domain/ports/repository"
	"ai-chat-pipeline/internal/infra/metrics"
	"ai-chat-pipeline/internal/infra/worker"
	"ai-chat-pipeline/internal/usecase"
)

// Server is the HTTP entry point of the pipeline: submit (SSE), status,
// process and worker endpoints, plus health and metrics.
type Server struct {
	chat    usecase.ChatUseCase
	queue   repository.QueueJobRepository
	runner  *worker.Runner
	auth    *AuthManager
	changes adapter.ChangeSubscriber
	log     *zerolog.Logger

	lease          time.Duration
	batchSize      int
	maxRunDuration time.Duration
	dev            bool

	http *http.Server
}

func NewServer(
	chat usecase.ChatUseCase,
	queue repository.QueueJobRepository,
	runner *worker.Runner,
	auth *AuthManager,
	changes adapter.ChangeSubscriber,
	port int,
	lease time.Duration,
	batchSize int,
	maxRunDuration time.Duration,
	dev bool,
	log *zerolog.Logger,
) *Server {
	// Collectors queue themselves at init; they reach the registry (and the
	// /metrics endpoint) only through this call.
	metrics.MustRegister()
	s := &Server{
		chat:           chat,
		queue:          queue,
		runner:         runner,
		auth:           auth,
		changes:        changes,
		log:            log,
		lease:          lease,
		batchSize:      batchSize,
		maxRunDuration: maxRunDuration,
		dev:            dev,
	}
	s.http = &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Router builds the chi router; exposed separately so tests can drive it
// with httptest.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Get("/health", s.handleHealth)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/auth/token", s.handleMintToken)

		r.Group(func(r chi.Router) {
			r.Use(s.authMiddleware)
			r.Post("/chat/submit", s.handleSubmit)
			r.Get("/events", s.handleEvents)
			r.Get("/jobs/status", s.handleStatus)
			r.Post("/jobs/status", s.handleStatus)
			r.Post("/jobs/process", s.handleProcess)
			r.Post("/worker/run", s.handleWorkerRun)
		})
	})
	return r
}

func (s *Server) Start() error {
	s.log.Info().Str("addr", s.http.Addr).Msg("http server listening")
	err := s.http.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}

// authMiddleware accepts a session JWT or the shared fallback token. Dev
// mode waives authentication entirely.
func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.dev {
			next.ServeHTTP(w, r)
			return
		}
		if _, err := s.auth.Authenticate(r); err != nil {
			writeError(w, err)
			return
		}
		next.ServeHTTP(w, r)
	})
}
