package server

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"time"

	"chatterfix/dashboard"
	"chatterfix/internal/ai"
	"chatterfix/internal/alerting"
	"chatterfix/internal/auth"
	"chatterfix/internal/autonomy"
	"chatterfix/internal/cache"
	"chatterfix/internal/config"
	apperrors "chatterfix/internal/errors"
	"chatterfix/internal/events"
	"chatterfix/internal/knowledge"
	"chatterfix/internal/logs"
	"chatterfix/internal/monitor"
	"chatterfix/internal/scheduler"
	"chatterfix/internal/store"
	"chatterfix/internal/voice"
	"chatterfix/internal/websocket"
	"chatterfix/types"

	"github.com/gorilla/mux"
)

// ChatterFix holds the running services the HTTP API exposes
type ChatterFix struct {
	Settings     *config.SettingsManager
	SettingsFile string
	Store        *store.Store
	Cache        cache.Cache
	Bus          *events.Bus
	Hub          *websocket.Hub
	Logger       *logs.Logger
	Monitor      *monitor.Monitor
	Alerts       *alerting.System
	AI           *ai.Service
	Voice        *voice.Processor
	Autonomy     *autonomy.Engine
	Scheduler    *scheduler.Scheduler
	Knowledge    *knowledge.Index // nil when the index failed to open
	Auth         *auth.Service
	Version      string
}

// Server represents the HTTP server
type Server struct {
	app    *ChatterFix
	router *mux.Router
	server *http.Server
	errors *apperrors.ErrorHandler

	cacheTTL   time.Duration
	workOrders *cache.Namespace
	assets     *cache.Namespace
	parts      *cache.Namespace
	schedules  *cache.Namespace
	summary    *cache.Namespace
}

// NewServer builds the router and middleware chain for app
func NewServer(app *ChatterFix) *Server {
	cfg := app.Settings.GetSettings()
	if app.Cache == nil {
		app.Cache = cache.NewMemoryCache(time.Minute)
	}

	s := &Server{
		app:        app,
		router:     mux.NewRouter(),
		errors:     apperrors.NewErrorHandler(),
		cacheTTL:   cfg.Cache.TTL,
		workOrders: cache.NewNamespace(app.Cache, "work_orders"),
		assets:     cache.NewNamespace(app.Cache, "assets"),
		parts:      cache.NewNamespace(app.Cache, "parts"),
		schedules:  cache.NewNamespace(app.Cache, "schedules"),
		summary:    cache.NewNamespace(app.Cache, "dashboard"),
	}
	if s.cacheTTL <= 0 {
		s.cacheTTL = 5 * time.Minute
	}
	s.errors.SetNotificationFunction(func(appErr *apperrors.AppError) {
		app.Hub.Broadcast("error", map[string]interface{}{
			"code":       appErr.Code,
			"message":    appErr.Message,
			"request_id": appErr.RequestID,
		})
	})

	app.Bus.Subscribe(s)
	s.setupRoutes()

	limiter := apperrors.NewRateLimiter(cfg.HTTP.RateLimitRPS, cfg.HTTP.RateLimitBurst)
	handler := chain(s.router,
		recoveryMiddleware,
		requestIDMiddleware,
		loggingMiddleware,
		apperrors.SecurityHeadersMiddleware,
		apperrors.CORSMiddleware(cfg.HTTP.CORSOrigins),
		apperrors.RateLimitMiddleware(limiter, apperrors.NewProxyTrust(cfg.HTTP.TrustedProxies)),
		compressMiddleware,
		apperrors.ValidationMiddleware,
	)

	s.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.ServerPort),
		Handler:           handler,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      90 * time.Second,
		IdleTimeout:       60 * time.Second,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Handler returns the fully wrapped HTTP handler
func (s *Server) Handler() http.Handler { return s.server.Handler }

// Start serves until ctx is cancelled, then drains in-flight requests
func Start(ctx context.Context, app *ChatterFix) error {
	s := NewServer(app)

	errCh := make(chan error, 1)
	go func() {
		log.Printf("🌐 Starting ChatterFix server on %s...", s.server.Addr)
		log.Printf("📊 API available on http://localhost%s/api/v1/", s.server.Addr)
		log.Printf("🔗 WebSocket available on ws://localhost%s/ws", s.server.Addr)
		errCh <- s.server.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	log.Println("🛑 Shutting down HTTP server...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := s.server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}
	return nil
}

// setupRoutes configures all the HTTP routes
func (s *Server) setupRoutes() {
	router := s.router
	app := s.app

	// Unauthenticated endpoints are registered before the /api/v1 subrouter
	router.HandleFunc("/health", s.handleHealth).Methods("GET")
	router.HandleFunc("/ready", s.handleReady).Methods("GET")
	router.HandleFunc("/api/v1/auth/login", app.Auth.HandleLogin).Methods("POST")
	router.HandleFunc("/api/v1/auth/logout", app.Auth.HandleLogout).Methods("POST")

	router.Handle("/ws", app.Auth.Middleware(http.HandlerFunc(app.Hub.HandleConnection)))

	api := router.PathPrefix("/api/v1").Subrouter()
	api.Use(app.Auth.Middleware)

	api.HandleFunc("/auth/me", app.Auth.HandleMe).Methods("GET")

	// Work orders
	api.HandleFunc("/work-orders", s.handleListWorkOrders).Methods("GET")
	api.Handle("/work-orders", technician(s.handleCreateWorkOrder)).Methods("POST")
	api.HandleFunc("/work-orders/{id:[0-9]+}", s.handleGetWorkOrder).Methods("GET")
	api.Handle("/work-orders/{id:[0-9]+}", technician(s.handleUpdateWorkOrder)).Methods("PUT")
	api.Handle("/work-orders/{id:[0-9]+}", manager(s.handleDeleteWorkOrder)).Methods("DELETE")
	api.Handle("/work-orders/{id:[0-9]+}/complete", technician(s.handleCompleteWorkOrder)).Methods("POST")

	// Assets
	api.HandleFunc("/assets", s.handleListAssets).Methods("GET")
	api.Handle("/assets", technician(s.handleCreateAsset)).Methods("POST")
	api.HandleFunc("/assets/{id:[0-9]+}", s.handleGetAsset).Methods("GET")
	api.Handle("/assets/{id:[0-9]+}", technician(s.handleUpdateAsset)).Methods("PUT")
	api.Handle("/assets/{id:[0-9]+}", manager(s.handleDeleteAsset)).Methods("DELETE")
	api.HandleFunc("/assets/{id:[0-9]+}/work-orders", s.handleAssetWorkOrders).Methods("GET")

	// Parts inventory
	api.HandleFunc("/parts", s.handleListParts).Methods("GET")
	api.Handle("/parts", technician(s.handleCreatePart)).Methods("POST")
	api.HandleFunc("/parts/low-stock", s.handleLowStockParts).Methods("GET")
	api.HandleFunc("/parts/{id:[0-9]+}", s.handleGetPart).Methods("GET")
	api.Handle("/parts/{id:[0-9]+}", technician(s.handleUpdatePart)).Methods("PUT")
	api.Handle("/parts/{id:[0-9]+}", manager(s.handleDeletePart)).Methods("DELETE")
	api.Handle("/parts/{id:[0-9]+}/adjust", technician(s.handleAdjustPart)).Methods("POST")

	// Preventive maintenance
	api.HandleFunc("/schedules", s.handleListSchedules).Methods("GET")
	api.Handle("/schedules", technician(s.handleCreateSchedule)).Methods("POST")
	api.Handle("/schedules/run", manager(s.handleRunSchedules)).Methods("POST")
	api.HandleFunc("/schedules/{id:[0-9]+}", s.handleGetSchedule).Methods("GET")
	api.Handle("/schedules/{id:[0-9]+}", technician(s.handleUpdateSchedule)).Methods("PUT")
	api.Handle("/schedules/{id:[0-9]+}", manager(s.handleDeleteSchedule)).Methods("DELETE")

	// Users and audit
	api.Handle("/users", admin(s.handleListUsers)).Methods("GET")
	api.Handle("/users", admin(s.handleCreateUser)).Methods("POST")
	api.Handle("/users/{id:[0-9]+}", admin(s.handleGetUser)).Methods("GET")
	api.Handle("/users/{id:[0-9]+}", admin(s.handleUpdateUser)).Methods("PUT")
	api.Handle("/users/{id:[0-9]+}", admin(s.handleDeleteUser)).Methods("DELETE")
	api.Handle("/audit", manager(s.handleListAudit)).Methods("GET")

	// Health monitor
	api.HandleFunc("/monitor/status", s.handleMonitorStatus).Methods("GET")
	api.HandleFunc("/monitor/report", s.handleMonitorReport).Methods("GET")
	api.HandleFunc("/monitor/targets", s.handleMonitorTargets).Methods("GET")
	api.HandleFunc("/monitor/system", s.handleSystemMetrics).Methods("GET")
	api.HandleFunc("/monitor/logs", s.handleMonitorLogs).Methods("GET")
	api.Handle("/monitor/check", technician(s.handleMonitorCheck)).Methods("POST")

	// Alerts
	api.HandleFunc("/alerts", s.handleGetAlerts).Methods("GET")
	api.Handle("/alerts/clear-resolved", manager(s.handleClearResolvedAlerts)).Methods("POST")
	api.Handle("/alerts/{id}/resolve", technician(s.handleResolveAlert)).Methods("POST")

	// AI assistance, voice and knowledge
	api.HandleFunc("/ai/providers", s.handleAIProviders).Methods("GET")
	api.HandleFunc("/ai/chat", s.handleAIChat).Methods("POST")
	api.Handle("/ai/work-orders/{id:[0-9]+}/suggest", technician(s.handleAISuggest)).Methods("POST")
	api.HandleFunc("/voice/parse", s.handleVoiceParse).Methods("POST")
	api.Handle("/voice/work-orders", technician(s.handleVoiceCommand)).Methods("POST")
	api.HandleFunc("/knowledge/search", s.handleKnowledgeSearch).Methods("GET")

	// Autonomous operations
	api.HandleFunc("/autonomy/status", s.handleAutonomyStatus).Methods("GET")
	api.Handle("/autonomy/evaluate", manager(s.handleAutonomyEvaluate)).Methods("POST")

	// Dashboard data, settings and docs
	api.HandleFunc("/dashboard/summary", s.handleDashboardSummary).Methods("GET")
	api.Handle("/settings", manager(s.handleGetSettings)).Methods("GET")
	api.Handle("/settings", manager(s.handleUpdateSettings)).Methods("PUT")
	api.HandleFunc("/docs", s.handleAPIDocs).Methods("GET")

	// Legacy assistant path
	grok := router.PathPrefix("/grok").Subrouter()
	grok.Use(app.Auth.Middleware)
	grok.HandleFunc("/chat", s.handleAIChat).Methods("POST")

	// Server-rendered dashboard and its assets
	router.PathPrefix("/static/").Handler(http.StripPrefix("/static/", http.FileServer(http.FS(dashboard.Static))))
	router.HandleFunc("/", s.handleDashboardPage).Methods("GET")

	router.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		apperrors.SendError(w, apperrors.NewNotFoundError("Route "+r.URL.Path))
	})
	router.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		apperrors.SendError(w, apperrors.NewAppError(apperrors.ErrorTypeValidation, "METHOD_NOT_ALLOWED",
			r.Method+" is not supported on "+r.URL.Path, nil))
	})
}

func technician(h http.HandlerFunc) http.Handler { return auth.RequireRole(types.RoleTechnician)(h) }

func manager(h http.HandlerFunc) http.Handler { return auth.RequireRole(types.RoleManager)(h) }

func admin(h http.HandlerFunc) http.Handler { return auth.RequireRole(types.RoleAdmin)(h) }

// handleHealth returns liveness status
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	apperrors.SendSuccess(w, map[string]interface{}{
		"status":    "healthy",
		"timestamp": time.Now().UTC(),
		"version":   s.app.Version,
	})
}

// handleReady reports whether the database and cache answer
func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	checks := map[string]string{"database": "ok", "cache": "ok"}
	ready := true
	if err := s.app.Store.Ping(ctx); err != nil {
		checks["database"] = err.Error()
		ready = false
	}
	if err := s.app.Cache.Ping(ctx); err != nil {
		checks["cache"] = err.Error()
		ready = false
	}

	if !ready {
		apperrors.SendError(w, apperrors.NewUnavailableError("Service not ready", nil).
			WithDetails(map[string]interface{}{"checks": checks}))
		return
	}
	apperrors.SendSuccess(w, map[string]interface{}{"status": "ready", "checks": checks})
}
