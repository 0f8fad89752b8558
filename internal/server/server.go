package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/cors"
	"github.com/rs/zerolog/log"

	v1 "github.com/gosuda/inkboard/internal/api/v1"
	"github.com/gosuda/inkboard/internal/api/ws"
	"github.com/gosuda/inkboard/internal/config"
	"github.com/gosuda/inkboard/internal/server/middleware"
)

// Pinger reports whether a backing service is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Deps are the services the routes are wired to.
type Deps struct {
	Verifier middleware.TokenVerifier
	Boards   v1.BoardService
	Canvas   v1.CanvasReader
	Hub      *ws.Hub
	// Store and Broker are optional; /readyz only checks the ones set.
	Store  Pinger
	Broker Pinger
}

// Server is the HTTP server that wires all application routes and middleware.
type Server struct {
	router     chi.Router
	httpServer *http.Server
	deps       Deps
}

// New creates a Server with all routes wired. ctx bounds the rate limiter
// sweepers.
func New(ctx context.Context, cfg *config.Config, deps Deps) *Server {
	router := chi.NewRouter()

	// Global middleware stack.
	router.Use(chimw.RequestID)
	router.Use(chimw.RealIP)
	router.Use(requestLogger)
	router.Use(chimw.Recoverer)
	router.Use(cors.New(cors.Options{
		AllowedOrigins:   cfg.Server.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-ID"},
		ExposedHeaders:   []string{"X-Request-ID", "Content-Disposition"},
		AllowCredentials: true,
		MaxAge:           300,
	}).Handler)

	s := &Server{
		router: router,
		deps:   deps,
		httpServer: &http.Server{
			Addr:              cfg.Server.Addr,
			Handler:           router,
			ReadHeaderTimeout: cfg.Server.ReadTimeout,
			ReadTimeout:       cfg.Server.ReadTimeout,
			WriteTimeout:      cfg.Server.WriteTimeout,
		},
	}

	router.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.RateLimitByIP(ctx, cfg.Server.RateLimit*2, cfg.Server.RateBurst*2))
		r.Use(middleware.Auth(deps.Verifier))
		r.Use(middleware.RequireTenant())
		r.Use(middleware.RateLimit(ctx, cfg.Server.RateLimit, cfg.Server.RateBurst))

		apiConfig := huma.DefaultConfig("Inkboard API", "1.0.0")
		apiConfig.Servers = []*huma.Server{
			{URL: "/api/v1"},
		}
		api := humachi.New(r, apiConfig)
		registerAPIRoutes(api, deps)
	})

	// WebSocket routes.
	router.Route("/ws", func(r chi.Router) {
		r.Use(middleware.RateLimitByIP(ctx, cfg.Server.RateLimit, cfg.Server.RateBurst))
		r.Use(middleware.Auth(deps.Verifier))
		r.Use(middleware.RequireTenant())
		registerWSRoutes(r, deps.Hub)
	})

	// Health checks (unauthenticated).
	router.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeStatus(w, http.StatusOK, "ok")
	})
	router.Get("/readyz", s.ready)

	return s
}

// Handler exposes the router for in-process tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) ready(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	checks := []struct {
		name string
		p    Pinger
	}{
		{"store", s.deps.Store},
		{"broker", s.deps.Broker},
	}
	for _, c := range checks {
		if c.p == nil {
			continue
		}
		if err := c.p.Ping(ctx); err != nil {
			log.Warn().Err(err).Str("dependency", c.name).Msg("readyz: unreachable")
			writeStatus(w, http.StatusServiceUnavailable, "unavailable")
			return
		}
	}
	writeStatus(w, http.StatusOK, "ok")
}

func writeStatus(w http.ResponseWriter, code int, status string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_, _ = fmt.Fprintf(w, `{"status":%q}`, status)
}

// requestLogger writes one zerolog line per request.
func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		defer func() {
			log.Info().
				Str("request_id", chimw.GetReqID(r.Context())).
				Str("method", r.Method).
				Str("path", r.URL.Path).
				Int("status", ww.Status()).
				Int("bytes", ww.BytesWritten()).
				Dur("took", time.Since(start)).
				Msg("http request")
		}()
		next.ServeHTTP(ww, r)
	})
}

// Start begins listening for HTTP requests.
func (s *Server) Start(_ context.Context) error {
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server.Start: %w", err)
	}
	return nil
}

// Shutdown gracefully stops the HTTP server. Upgraded sockets are not
// tracked by net/http; the hub closes those.
func (s *Server) Shutdown(ctx context.Context) error {
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("server.Shutdown: %w", err)
	}
	return nil
}
