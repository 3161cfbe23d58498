package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"github.com/haadziqf/iot-hub-control-dashboard/internal/auth"
	"github.com/haadziqf/iot-hub-control-dashboard/internal/config"
	"github.com/haadziqf/iot-hub-control-dashboard/internal/events"
	"github.com/haadziqf/iot-hub-control-dashboard/internal/metrics"
)

// Deps are the collaborators the API server is built from
type Deps struct {
	Hub       Dashboard
	Publishes PublishLog
	Config    *config.Config
	Events    *events.Store
	Metrics   *metrics.Metrics
	Logger    zerolog.Logger
}

// Server represents the API server
type Server struct {
	router       *chi.Mux
	deps         Deps
	credentials  *auth.Credentials
	jwtManager   *auth.JWTManager
	authMw       *auth.Middleware
	wsTokenStore *auth.WSTokenStore
	rateLimiter  *auth.LoginRateLimiter
}

// NewServer creates new API server
func NewServer(deps Deps) *Server {
	cfg := deps.Config
	if deps.Events == nil {
		deps.Events = events.NewStore(100, deps.Logger)
	}

	jwtManager := auth.NewJWTManager(cfg.Auth.JWTSecret, cfg.Auth.JWTExpiration)
	authMw := auth.NewMiddleware(jwtManager)
	if cfg.Server.NoAuth {
		authMw = auth.NewNoAuthMiddleware()
	}

	s := &Server{
		router:       chi.NewRouter(),
		deps:         deps,
		credentials:  auth.NewCredentials(cfg.Auth.Username, cfg.Auth.Password),
		jwtManager:   jwtManager,
		authMw:       authMw,
		wsTokenStore: auth.NewWSTokenStore(),
		rateLimiter:  auth.NewLoginRateLimiter(),
	}

	s.setupRoutes()
	return s
}

// setupRoutes configures all routes
func (s *Server) setupRoutes() {
	r := s.router
	d := s.deps

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(requestLogger(d.Logger))
	r.Use(middleware.Recoverer)
	if d.Metrics != nil {
		r.Use(d.Metrics.Middleware)
	}
	r.Use(middleware.Compress(5))

	// Create handlers
	authHandler := NewAuthHandler(s.credentials, s.jwtManager, s.wsTokenStore, d.Events, s.rateLimiter)
	dashboardHandler := NewDashboardHandler(d.Hub, d.Publishes, d.Events, d.Config.MQTT.Connection, d.Config.MQTT.Namespace, d.Logger)
	eventsHandler := NewEventsHandler(d.Events)
	var observer LiveObserver
	if d.Metrics != nil {
		observer = d.Metrics
	}
	liveHandler := NewLiveHandler(d.Hub, s.wsTokenStore, observer, d.Logger)

	// Public routes
	r.Post("/api/auth/login", authHandler.Login)
	if d.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", d.Metrics.Handler())
	}

	// The websocket authenticates with its one-time ws_token during the upgrade
	r.Get("/api/live", liveHandler.Stream)

	// Protected API routes
	r.Group(func(r chi.Router) {
		r.Use(s.authMw.RequireAuth)

		// Auth
		r.Post("/api/auth/logout", authHandler.Logout)
		r.Get("/api/auth/me", authHandler.Me)
		r.Get("/api/auth/ws-token", authHandler.WSToken)

		// Events
		r.Get("/api/events", eventsHandler.List)

		// Connection
		r.Get("/api/status", dashboardHandler.Status)
		r.Get("/api/connection/defaults", dashboardHandler.ConnectionDefaults)
		r.Post("/api/connection", dashboardHandler.Connect)
		r.Delete("/api/connection", dashboardHandler.Disconnect)

		// Subscriptions and publishing
		r.Get("/api/subscriptions", dashboardHandler.Subscriptions)
		r.Post("/api/subscriptions", dashboardHandler.Subscribe)
		r.Delete("/api/subscriptions", dashboardHandler.Unsubscribe)
		r.Post("/api/publish", dashboardHandler.Publish)
		r.Get("/api/publish/history", dashboardHandler.PublishHistory)

		// Message log
		r.Get("/api/messages", dashboardHandler.Messages)
		r.Delete("/api/messages", dashboardHandler.ClearMessages)

		// Telemetry
		r.Get("/api/sensors", dashboardHandler.Sensors)
		r.Get("/api/sensors/history", dashboardHandler.SensorHistory)

		// Devices
		r.Get("/api/devices", dashboardHandler.Devices)
		r.Post("/api/devices/{id}/toggle", dashboardHandler.ToggleDevice)
		r.Post("/api/devices/{id}/brightness", dashboardHandler.SetBrightness)

		// Topic settings
		r.Get("/api/topics", dashboardHandler.Topics)
		r.Put("/api/topics", dashboardHandler.UpdateTopics)
		r.Post("/api/topics/reset", dashboardHandler.ResetTopics)
	})

	// Static files and SPA
	if dir := d.Config.Server.WebDir; dir != "" {
		r.Handle("/*", newSPAHandler(dir))
	}
}

// Router returns the chi router
func (s *Server) Router() *chi.Mux {
	return s.router
}

// WSTokens exposes the websocket token store
func (s *Server) WSTokens() *auth.WSTokenStore {
	return s.wsTokenStore
}

// RunBackground starts the periodic cleanup of expired websocket tokens and
// login rate limit entries. It returns once ctx is done.
func (s *Server) RunBackground(ctx context.Context) {
	go s.wsTokenStore.RunCleanup(ctx, time.Minute)
	s.rateLimiter.RunCleanup(ctx, time.Minute)
}
