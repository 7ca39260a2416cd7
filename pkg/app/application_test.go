package app

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"agriconnect/internal/appointments/handler"
	"agriconnect/pkg/auth"
	"agriconnect/pkg/config"
	"agriconnect/pkg/logger"
	"agriconnect/pkg/model"

	"github.com/julienschmidt/httprouter"
	"go.mongodb.org/mongo-driver/mongo/readpref"
)

const testSecret = "test-secret-at-least-16"

type okPinger struct{}

func (okPinger) Ping(context.Context, *readpref.ReadPref) error { return nil }

type routesFunc func(router *httprouter.Router)

func (f routesFunc) RegisterRoutes(router *httprouter.Router) { f(router) }

type mockWebSocket struct {
	served   bool
	shutdown bool
}

func (m *mockWebSocket) ServeHTTP(w http.ResponseWriter, _ *http.Request) {
	m.served = true
	w.WriteHeader(http.StatusSwitchingProtocols)
}

func (m *mockWebSocket) Shutdown(context.Context) error {
	m.shutdown = true
	return nil
}

type mockWorker struct {
	started int
	stopped int
}

func (m *mockWorker) Start() { m.started++ }
func (m *mockWorker) Stop()  { m.stopped++ }

type mockEvents struct{ closed bool }

func (m *mockEvents) Close() error {
	m.closed = true
	return nil
}

func testConfig() *config.Config {
	return &config.Config{
		Port:               "8080",
		JWTSecret:          testSecret,
		CORSAllowedOrigins: []string{"https://app.example.com"},
		RateLimitRequests:  100,
		RateLimitWindow:    time.Minute,
		RequestTimeout:     5 * time.Second,
		IdempotencyTTL:     time.Minute,
		MaxRequestSize:     1 << 20,
		ReadTimeout:        5 * time.Second,
		WriteTimeout:       5 * time.Second,
		IdleTimeout:        5 * time.Second,
		ShutdownTimeout:    time.Second,
		Log:                logger.Discard(),
	}
}

func newTestApp(t *testing.T, components Components) (*Application, *auth.Verifier) {
	t.Helper()
	cfg := testConfig()
	verifier := auth.NewVerifier(cfg.JWTSecret)
	if components.Health == nil {
		components.Health = handler.NewHealthHandler(okPinger{}, cfg.Log)
	}
	if components.Handler == nil {
		components.Handler = routesFunc(func(router *httprouter.Router) {
			router.GET("/appointments/expert", func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
				identity, _ := auth.IdentityFrom(r.Context())
				w.Header().Set("X-User", identity.UserID)
				w.WriteHeader(http.StatusOK)
			})
		})
	}
	a := NewApplication(cfg)
	a.SetApp(verifier, components)
	t.Cleanup(func() {
		a.idempotencyStore.Stop()
		a.rateLimiter.Stop()
	})
	return a, verifier
}

func TestHealthBypassesAuthentication(t *testing.T) {
	a, _ := newTestApp(t, Components{})

	for _, path := range []string{"/health", "/ready"} {
		rec := httptest.NewRecorder()
		a.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
		if rec.Code != http.StatusOK {
			t.Errorf("%s: status = %d, want 200", path, rec.Code)
		}
	}
}

func TestAppRoutesRequireToken(t *testing.T) {
	a, verifier := newTestApp(t, Components{})

	rec := httptest.NewRecorder()
	a.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/appointments/expert", nil))
	if rec.Code != http.StatusForbidden {
		t.Fatalf("missing token: status = %d, want 403", rec.Code)
	}

	req := httptest.NewRequest(http.MethodGet, "/appointments/expert", nil)
	req.Header.Set("Authorization", "Bearer not-a-token")
	rec = httptest.NewRecorder()
	a.Handler().ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("bad token: status = %d, want 401", rec.Code)
	}

	token, err := verifier.Issue("expert-1", model.RoleExpert, time.Hour)
	if err != nil {
		t.Fatalf("Issue() error = %v", err)
	}
	req = httptest.NewRequest(http.MethodGet, "/appointments/expert", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec = httptest.NewRecorder()
	a.Handler().ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("valid token: status = %d, want 200", rec.Code)
	}
	if got := rec.Header().Get("X-User"); got != "expert-1" {
		t.Errorf("identity user = %q, want expert-1", got)
	}
	if rec.Header().Get("X-Request-ID") == "" {
		t.Error("expected X-Request-ID on response")
	}
}

func TestCORSPreflight(t *testing.T) {
	a, _ := newTestApp(t, Components{})

	req := httptest.NewRequest(http.MethodOptions, "/appointments", nil)
	req.Header.Set("Origin", "https://app.example.com")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	rec := httptest.NewRecorder()
	a.Handler().ServeHTTP(rec, req)

	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "https://app.example.com" {
		t.Errorf("Access-Control-Allow-Origin = %q", got)
	}
	if got := rec.Header().Get("Access-Control-Allow-Credentials"); got != "true" {
		t.Errorf("Access-Control-Allow-Credentials = %q, want true", got)
	}
}

func TestCORSPreflight_UnknownOrigin(t *testing.T) {
	a, _ := newTestApp(t, Components{})

	req := httptest.NewRequest(http.MethodOptions, "/appointments/expert", nil)
	req.Header.Set("Origin", "https://evil.example.com")
	req.Header.Set("Access-Control-Request-Method", http.MethodGet)
	rec := httptest.NewRecorder()
	a.Handler().ServeHTTP(rec, req)

	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "" {
		t.Errorf("Access-Control-Allow-Origin = %q, want none", got)
	}
	if got := rec.Header().Get("Access-Control-Allow-Credentials"); got != "" {
		t.Errorf("Access-Control-Allow-Credentials = %q, want none", got)
	}
}

func TestWebSocketMountedOutsideAppChain(t *testing.T) {
	ws := &mockWebSocket{}
	a, _ := newTestApp(t, Components{WebSocket: ws})

	rec := httptest.NewRecorder()
	a.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/ws", nil))
	if !ws.served {
		t.Fatal("websocket handler not reached")
	}
	if rec.Code != http.StatusSwitchingProtocols {
		t.Errorf("status = %d, want 101", rec.Code)
	}
}

func TestGracefulShutdownStopsComponents(t *testing.T) {
	ws := &mockWebSocket{}
	worker := &mockWorker{}
	events := &mockEvents{}
	a, _ := newTestApp(t, Components{WebSocket: ws, Workers: []BackgroundWorker{worker}, Events: events})

	a.gracefulShutdown()

	if worker.stopped != 1 {
		t.Errorf("worker stopped %d times, want 1", worker.stopped)
	}
	if !ws.shutdown {
		t.Error("websocket handler not shut down")
	}
	if !events.closed {
		t.Error("event publisher not closed")
	}
}
