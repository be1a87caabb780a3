package server

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/jonathan/content-runs/internal/config"
	"github.com/jonathan/content-runs/internal/metrics"
	"github.com/jonathan/content-runs/internal/server/middleware"
	"github.com/jonathan/content-runs/internal/server/ratelimit"
	"github.com/jonathan/content-runs/internal/tracking"
	"github.com/jonathan/content-runs/internal/types"
	"golang.org/x/sync/errgroup"
)

// Store is the persistence the HTTP layer reads directly. Run and stage
// state goes through the Tracker.
type Store interface {
	UserStore
	CreateContentRequest(ctx context.Context, userID uuid.UUID, in *types.SubmitContentRequest) (*types.ContentRequest, error)
	ListContentRequests(ctx context.Context, userID *uuid.UUID, limit int) ([]types.ContentRequest, error)
	Ping(ctx context.Context) error
}

// Tracker is the run lifecycle and stage ingestion service.
type Tracker interface {
	CreateRun(ctx context.Context, caller, requestID uuid.UUID, executionID *string) (*types.Run, error)
	ControlRun(ctx context.Context, caller, runID uuid.UUID, action types.Action) (types.RunStatus, error)
	GetRun(ctx context.Context, caller, runID uuid.UUID) (*types.RunDetail, error)
	ReportStage(ctx context.Context, in tracking.StageInput) (*types.Stage, error)
}

// Scorer rates stage output.
type Scorer interface {
	Score(ctx context.Context, content, stageName string) (*types.ScoreContentResponse, error)
}

// Config holds server configuration
type Config struct {
	Port           int
	AllowedOrigins []string
	WebhookSecret  string
	PublishTimeout time.Duration
	RateLimit      *ratelimit.Config
}

// Deps are the services the server routes to. Scorer may be nil, in which
// case scoring requests fail with 503.
type Deps struct {
	Store     Store
	Tracker   Tracker
	Relay     Subscriber
	Publisher tracking.Notifier
	Scorer    Scorer
	JWT       *config.JWTConfig
	Passwords *config.PasswordConfig
}

// Server represents the HTTP server
type Server struct {
	httpServer  *http.Server
	router      chi.Router
	store       Store
	tracker     Tracker
	relay       Subscriber
	publisher   tracking.Notifier
	scorer      Scorer
	rateLimiter *ratelimit.Limiter
	authHandler *AuthHandler
	jwtService  *JWTService

	origins        []string
	webhookSecret  string
	publishTimeout time.Duration
	keepAlive      time.Duration
}

// New creates a new server instance
func New(cfg Config, deps Deps) (*Server, error) {
	if deps.Store == nil || deps.Tracker == nil || deps.Relay == nil || deps.Publisher == nil {
		return nil, fmt.Errorf("store, tracker, relay and publisher are required")
	}
	if deps.JWT == nil || deps.Passwords == nil {
		return nil, fmt.Errorf("JWT and password configuration are required")
	}
	if cfg.PublishTimeout <= 0 {
		cfg.PublishTimeout = 2 * time.Second
	}

	s := &Server{
		store:          deps.Store,
		tracker:        deps.Tracker,
		relay:          deps.Relay,
		publisher:      deps.Publisher,
		scorer:         deps.Scorer,
		rateLimiter:    ratelimit.NewLimiter(cfg.RateLimit),
		jwtService:     NewJWTService(deps.JWT),
		origins:        cfg.AllowedOrigins,
		webhookSecret:  cfg.WebhookSecret,
		publishTimeout: cfg.PublishTimeout,
		keepAlive:      sseKeepAlive,
	}
	s.authHandler = NewAuthHandler(NewUserService(deps.Store, deps.Passwords), s.jwtService)
	s.router = s.routes()

	s.httpServer = &http.Server{
		Addr:        fmt.Sprintf(":%d", cfg.Port),
		Handler:     s.router,
		ReadTimeout: 30 * time.Second,
		// Event streams clear their own write deadline.
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}
	return s, nil
}

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(chimw.Recoverer, s.withLogging, s.withCORS, s.withRateLimit)

	r.Get("/health", s.handleHealth)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	r.Post("/auth/register", s.authHandler.Register)
	r.Post("/auth/login", s.authHandler.Login)

	// Called by the external engine, not a user.
	r.With(middleware.WebhookSecret(s.webhookSecret)).Post("/run-tracking/update-stage", s.handleUpdateStage)

	r.Group(func(r chi.Router) {
		r.Use(middleware.Authenticate(s.jwtService.AsTokenValidator()))

		r.Get("/content-requests", s.handleListContentRequests)
		r.Post("/content-requests", s.handleSubmitContentRequest)

		r.Post("/run-tracking/create", s.handleCreateRun)
		r.Post("/run-tracking/control", s.handleControlRun)
		r.Post("/run-tracking/score-content", s.handleScoreContent)
		r.Get("/run-tracking/{run_id}", s.handleGetRun)
		r.Get("/run-tracking/{run_id}/events", s.handleRunEvents)

		r.Get("/activity/events", s.handleActivityEvents)
		r.Get("/realtime/clients/{client_id}/events", s.handleClientEvents)
		r.Post("/realtime/broadcast", s.handleBroadcast)
	})
	return r
}

// Handler returns the routed handler, for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	baseCtx, cancelBase := context.WithCancel(context.Background())
	defer cancelBase()
	s.httpServer.BaseContext = func(net.Listener) context.Context { return baseCtx }
	// Shutdown does not wait out open event streams.
	s.httpServer.RegisterOnShutdown(cancelBase)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Printf("Server starting on %s", s.httpServer.Addr)
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		log.Println("Shutting down server...")
		s.rateLimiter.Stop()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown failed: %w", err)
		}
		log.Println("Server stopped")
		return nil
	})
	return g.Wait()
}

// withCORS adds CORS headers for the configured origins.
func (s *Server) withCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if origin := s.allowedOrigin(r.Header.Get("Origin")); origin != "" {
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, "+middleware.WebhookSecretHeader)
			if origin != "*" {
				w.Header().Add("Vary", "Origin")
			}
		}

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) allowedOrigin(origin string) string {
	if slices.Contains(s.origins, "*") {
		return "*"
	}
	if origin != "" && slices.Contains(s.origins, origin) {
		return origin
	}
	return ""
}

// withLogging adds request logging
func (s *Server) withLogging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		log.Printf("[%s] %s %s", r.Method, r.URL.Path, r.RemoteAddr)
		next.ServeHTTP(w, r)
		log.Printf("[%s] %s completed in %v", r.Method, r.URL.Path, time.Since(start))
	})
}

// withRateLimit applies the per-client endpoint tiers.
func (s *Server) withRateLimit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		allowed, info := s.rateLimiter.Allow(clientIP(r), r.URL.Path, r.Method)
		if info.Limit > 0 {
			w.Header().Set("X-RateLimit-Limit", strconv.Itoa(info.Limit))
			w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(info.Remaining))
			w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(info.ResetTime.Unix(), 10))
		}
		if !allowed {
			s.rateLimitResponse(w, r, info)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) rateLimitResponse(w http.ResponseWriter, r *http.Request, info ratelimit.Info) {
	retryAfter := int(info.RetryAfter.Round(time.Second).Seconds())
	if info.RetryAfter > 0 && retryAfter == 0 {
		retryAfter = 1
	}
	if retryAfter > 0 {
		w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
	}
	log.Printf("[rate-limit] %s %s from %s exceeded tier %q (limit %d)",
		r.Method, r.URL.Path, clientIP(r), info.Tier, info.Limit)

	jsonResponse(w, http.StatusTooManyRequests, map[string]any{
		"error":       "rate_limit_exceeded",
		"message":     "Rate limit exceeded. Please try again later.",
		"limit":       info.Limit,
		"retry_after": retryAfter,
	})
}

// clientIP uses the connection address; forwarding headers are not trusted.
func clientIP(r *http.Request) string {
	ip, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return strings.TrimSpace(ip)
}

// handleHealth reports whether the store is reachable.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	if err := s.store.Ping(ctx); err != nil {
		log.Printf("[health] store ping failed: %v", err)
		jsonResponse(w, http.StatusServiceUnavailable, map[string]string{"status": "degraded"})
		return
	}
	jsonResponse(w, http.StatusOK, map[string]string{"status": "ok"})
}
