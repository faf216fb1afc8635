package server

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"autorepay/native/autorepay"
	"autorepay/observability"
	"autorepay/services/autorepayd/journal"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// Config captures the dependencies required to construct the server.
type Config struct {
	ListenAddress string
	CertFile      string
	KeyFile       string
	Manager       *autorepay.Manager
	Sweeper       *autorepay.SweepScheduler
	Journal       *journal.Journal
	Hub           *Hub
	Auth          *Authenticator
	Limiter       *RateLimiter
	Logger        *slog.Logger
}

// Server hosts the position API.
type Server struct {
	cfg     Config
	manager *autorepay.Manager
	sweeper *autorepay.SweepScheduler
	journal *journal.Journal
	hub     *Hub
	auth    *Authenticator
	limiter *RateLimiter
	logger  *slog.Logger

	router http.Handler
}

// New constructs the server and its router.
func New(cfg Config) (*Server, error) {
	if cfg.Manager == nil {
		return nil, errors.New("server: manager required")
	}
	if cfg.Sweeper == nil {
		return nil, errors.New("server: sweep scheduler required")
	}
	if cfg.Auth == nil {
		return nil, errors.New("server: authenticator required")
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Hub == nil {
		cfg.Hub = NewHub(cfg.Logger)
	}
	srv := &Server{
		cfg:     cfg,
		manager: cfg.Manager,
		sweeper: cfg.Sweeper,
		journal: cfg.Journal,
		hub:     cfg.Hub,
		auth:    cfg.Auth,
		limiter: cfg.Limiter,
		logger:  cfg.Logger.With(slog.String("component", "http")),
	}
	srv.router = srv.buildRouter()
	return srv, nil
}

// Handler exposes the configured HTTP router.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)
	r.Use(s.observe)

	r.Get("/healthz", s.handleHealth)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/v1", func(api chi.Router) {
		if s.limiter != nil {
			api.Use(s.limiter.Middleware)
		}
		api.Group(func(read chi.Router) {
			read.Use(s.auth.Require(ScopeRead))
			read.Get("/positions", s.handleListPositions)
			read.Get("/positions/{account}", s.handleGetPosition)
			read.Post("/quotes/deposit", s.handleQuoteDeposit)
			read.Get("/sweep", s.handleSweepStatus)
			read.Get("/journal/{account}", s.handleJournal)
			read.Get("/events/ws", s.hub.ServeHTTP)
		})
		api.Group(func(write chi.Router) {
			write.Use(s.auth.Require(ScopeWrite))
			write.Use(withIdempotency(s.journal, s.logger))
			write.Post("/positions/{account}/deposit", s.handleDeposit)
			write.Post("/positions/{account}/withdraw", s.handleWithdraw)
		})
		api.Group(func(ops chi.Router) {
			ops.Use(s.auth.Require(ScopeSweep))
			ops.Use(withIdempotency(s.journal, s.logger))
			ops.Post("/sweep/run", s.handleRunSweep)
		})
	})
	return otelhttp.NewHandler(r, "autorepayd")
}

// observe records request metrics labelled by route pattern.
func (s *Server) observe(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		route := r.URL.Path
		if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
			route = rctx.RoutePattern()
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		observability.API().Observe(route, r.Method, status, time.Since(start))
	})
}

// Run starts the HTTP server and blocks until context cancellation.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.cfg.ListenAddress,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
		TLSConfig:         &tls.Config{MinVersion: tls.VersionTLS12},
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	s.logger.Info("http server listening", slog.String("addr", s.cfg.ListenAddress))
	var err error
	if s.cfg.CertFile == "" {
		err = srv.ListenAndServe()
	} else {
		err = srv.ListenAndServeTLS(s.cfg.CertFile, s.cfg.KeyFile)
	}
	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("listen and serve: %w", err)
	}
	return nil
}
