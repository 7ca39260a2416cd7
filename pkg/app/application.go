package app

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"agriconnect/internal/appointments/handler"
	"agriconnect/pkg/auth"
	"agriconnect/pkg/config"
	"agriconnect/pkg/contracts"
	"agriconnect/pkg/middleware"

	"github.com/go-chi/cors"
	"github.com/julienschmidt/httprouter"
)

// WebSocketHandler serves upgraded connections outside the request timeout
// chain. Shutdown must close every hijacked connection.
type WebSocketHandler interface {
	http.Handler
	Shutdown(ctx context.Context) error
}

type BackgroundWorker interface {
	Start()
	Stop()
}

type EventCloser interface {
	Close() error
}

// Components are the domain pieces the application serves and manages.
// Nil fields are skipped.
type Components struct {
	Handler   contracts.Handler
	Health    contracts.Handler
	WebSocket WebSocketHandler
	Workers   []BackgroundWorker
	Events    EventCloser
}

type Application struct {
	cfg              *config.Config
	verifier         *auth.Verifier
	components       Components
	server           *http.Server
	idempotencyStore middleware.IdempotencyStore
	rateLimiter      *middleware.RateLimiter
	healthHandler    http.Handler
	appHttpHandler   http.Handler
	wsHandler        http.Handler
}

func NewApplication(cfg *config.Config) *Application {
	return &Application{cfg: cfg}
}

func (a *Application) SetApp(verifier *auth.Verifier, components Components) {
	cfg := a.cfg
	a.verifier = verifier
	a.components = components
	a.setHealthHandler(cfg)
	a.setAppHandler(cfg)
	a.setWebSocketHandler(cfg)
	a.setAppServer()
}

func (a *Application) setHealthHandler(cfg *config.Config) {
	healthRouter := httprouter.New()
	health := a.components.Health
	if health == nil {
		health = handler.NewHealthHandler(cfg.Client.Mongo, cfg.Log)
	}
	health.RegisterRoutes(healthRouter)

	var healthHTTPHandler http.Handler = healthRouter
	healthHTTPHandler = middleware.RequestLogging(cfg.Log)(healthHTTPHandler)
	healthHTTPHandler = middleware.Recovery(cfg.Log)(healthHTTPHandler)
	a.healthHandler = healthHTTPHandler
	cfg.Log.Info("Health endpoints configured with minimal middleware (Recovery + Logging only)")
}

func (a *Application) setAppHandler(cfg *config.Config) {
	appRouter := httprouter.New()
	if a.components.Handler != nil {
		a.components.Handler.RegisterRoutes(appRouter)
	}

	if cfg.Client != nil && cfg.Client.Redis != nil {
		a.idempotencyStore = middleware.NewRedisIdempotencyStore(cfg.Client.Redis, cfg.IdempotencyTTL, cfg.Log)
		cfg.Log.Info("Idempotency store backed by Redis")
	} else {
		a.idempotencyStore = middleware.NewInMemoryIdempotencyStore(cfg.IdempotencyTTL)
	}
	a.rateLimiter = middleware.NewRateLimiter(
		cfg.RateLimitRequests,
		cfg.RateLimitWindow,
		middleware.CallerKey,
		cfg.Log,
	)

	var appHttpHandler http.Handler = appRouter
	appHttpHandler = middleware.Idempotency(a.idempotencyStore, middleware.DefaultIdempotencyHeader, cfg.Log)(appHttpHandler)
	appHttpHandler = middleware.RateLimit(a.rateLimiter)(appHttpHandler)
	appHttpHandler = middleware.Authenticate(a.verifier, cfg.Log)(appHttpHandler)
	appHttpHandler = middleware.RequestTimeout(cfg.RequestTimeout)(appHttpHandler)
	appHttpHandler = middleware.ContentTypeValidation(cfg.Log)(appHttpHandler)
	appHttpHandler = middleware.MaxRequestSize(int64(cfg.MaxRequestSize))(appHttpHandler)
	appHttpHandler = corsHandler(cfg)(appHttpHandler)
	appHttpHandler = middleware.RequestLogging(cfg.Log)(appHttpHandler)
	appHttpHandler = middleware.Recovery(cfg.Log)(appHttpHandler)
	a.appHttpHandler = appHttpHandler
	cfg.Log.Info("Application endpoints configured with full security middleware stack")
}

func corsHandler(cfg *config.Config) func(http.Handler) http.Handler {
	return cors.Handler(cors.Options{
		AllowedOrigins:   cfg.CORSAllowedOrigins,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders:   []string{"Authorization", "Content-Type", middleware.DefaultIdempotencyHeader, middleware.RequestIDHeader},
		ExposedHeaders:   []string{middleware.RequestIDHeader, middleware.ReplayedHeader},
		AllowCredentials: true,
		MaxAge:           300,
	})
}

func (a *Application) setWebSocketHandler(cfg *config.Config) {
	if a.components.WebSocket == nil {
		return
	}
	var wsHandler http.Handler = a.components.WebSocket
	wsHandler = middleware.RequestLogging(cfg.Log)(wsHandler)
	wsHandler = middleware.Recovery(cfg.Log)(wsHandler)
	a.wsHandler = wsHandler
	cfg.Log.Info("WebSocket endpoint configured", "path", "/ws")
}

// Handler returns the root handler the server serves.
func (a *Application) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/health", a.healthHandler)
	mux.Handle("/ready", a.healthHandler)
	if a.wsHandler != nil {
		mux.Handle("/ws", a.wsHandler)
	}
	mux.Handle("/", a.appHttpHandler)
	return mux
}

func (a *Application) setAppServer() {
	a.server = &http.Server{
		Addr:         ":" + a.cfg.Port,
		Handler:      a.Handler(),
		ReadTimeout:  a.cfg.ReadTimeout,
		WriteTimeout: a.cfg.WriteTimeout,
		IdleTimeout:  a.cfg.IdleTimeout,
	}

	a.cfg.Log.Info("HTTP server configured", "port", a.cfg.Port)
}

func (a *Application) Run() {
	for _, worker := range a.components.Workers {
		worker.Start()
	}

	serverErrors := make(chan error, 1)

	go func() {
		a.cfg.Log.Info("Starting HTTP server", "address", a.server.Addr)
		serverErrors <- a.server.ListenAndServe()
	}()

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-serverErrors:
		if !errors.Is(err, http.ErrServerClosed) {
			a.cfg.Log.Fatal("HTTP server failed", "error", err)
		}

	case sig := <-shutdown:
		a.cfg.Log.Info("Shutdown signal received", "signal", sig)
		a.gracefulShutdown()
	}
}

func (a *Application) gracefulShutdown() {
	a.cfg.Log.Info("Starting graceful shutdown...")

	a.cfg.Log.Info("Stopping background workers...")
	for _, worker := range a.components.Workers {
		worker.Stop()
	}

	ctx, cancel := context.WithTimeout(context.Background(), a.cfg.ShutdownTimeout)
	defer cancel()

	if a.components.WebSocket != nil {
		if err := a.components.WebSocket.Shutdown(ctx); err != nil {
			a.cfg.Log.Error("WebSocket shutdown failed", "error", err)
		}
	}

	if err := a.server.Shutdown(ctx); err != nil {
		a.cfg.Log.Error("Server shutdown failed", "error", err)
		if err := a.server.Close(); err != nil {
			a.cfg.Log.Fatal("Could not stop server gracefully", "error", err)
		}
	}

	if a.components.Events != nil {
		if err := a.components.Events.Close(); err != nil {
			a.cfg.Log.Error("Failed to close event publisher", "error", err)
		}
	}

	a.idempotencyStore.Stop()
	a.rateLimiter.Stop()
	a.cfg.Log.Info("Background workers stopped")

	a.cfg.Log.Info("Server stopped gracefully")
}
