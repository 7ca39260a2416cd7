package middleware

import (
	"bytes"
	"context"
	"net/http"
	"sync"
	"time"

	"agriconnect/pkg/auth"
	apperrors "agriconnect/pkg/errors"
	httputil "agriconnect/pkg/http"
	"agriconnect/pkg/logger"
)

const (
	DefaultIdempotencyHeader = "Idempotency-Key"
	ReplayedHeader           = "Idempotent-Replayed"
)

// reservationTTL bounds how long a claimed key blocks duplicates when the
// holder never stores or releases it.
const reservationTTL = time.Minute

// IdempotencyStore caches responses per key. Reserve is atomic: it returns the
// cached response when one exists, otherwise it claims the key and reports
// whether the claim succeeded. A failed claim means another request holds it.
type IdempotencyStore interface {
	Reserve(ctx context.Context, key string) (cached *CachedResponse, acquired bool)
	Set(ctx context.Context, key string, response *CachedResponse)
	Release(ctx context.Context, key string)
	Stop() // Stop cleanup goroutines and release resources
}

type CachedResponse struct {
	StatusCode int         `json:"status_code"`
	Headers    http.Header `json:"headers"`
	Body       []byte      `json:"body"`
	CreatedAt  time.Time   `json:"created_at"`
}

type InMemoryIdempotencyStore struct {
	mu       sync.Mutex
	store    map[string]*CachedResponse
	inFlight map[string]time.Time
	ttl      time.Duration
	stopCh   chan struct{}
	stopOnce sync.Once
}

func NewInMemoryIdempotencyStore(ttl time.Duration) *InMemoryIdempotencyStore {
	store := &InMemoryIdempotencyStore{
		store:    make(map[string]*CachedResponse),
		inFlight: make(map[string]time.Time),
		ttl:      ttl,
		stopCh:   make(chan struct{}),
	}

	go store.cleanup()

	return store
}

func (s *InMemoryIdempotencyStore) Reserve(_ context.Context, key string) (*CachedResponse, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if response, exists := s.store[key]; exists {
		if time.Since(response.CreatedAt) <= s.ttl {
			return response, false
		}
		delete(s.store, key)
	}

	if claimed, exists := s.inFlight[key]; exists && time.Since(claimed) <= reservationTTL {
		return nil, false
	}
	s.inFlight[key] = time.Now()
	return nil, true
}

func (s *InMemoryIdempotencyStore) Set(_ context.Context, key string, response *CachedResponse) {
	s.mu.Lock()
	defer s.mu.Unlock()

	response.CreatedAt = time.Now()
	s.store[key] = response
	delete(s.inFlight, key)
}

func (s *InMemoryIdempotencyStore) Release(_ context.Context, key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.inFlight, key)
}

func (s *InMemoryIdempotencyStore) cleanup() {
	ticker := time.NewTicker(time.Hour)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.mu.Lock()
			for key, response := range s.store {
				if time.Since(response.CreatedAt) > s.ttl {
					delete(s.store, key)
				}
			}
			for key, claimed := range s.inFlight {
				if time.Since(claimed) > reservationTTL {
					delete(s.inFlight, key)
				}
			}
			s.mu.Unlock()
		case <-s.stopCh:
			return
		}
	}
}

func (s *InMemoryIdempotencyStore) Stop() {
	s.stopOnce.Do(func() { close(s.stopCh) })
}

type responseCapture struct {
	http.ResponseWriter
	statusCode int
	body       *bytes.Buffer
}

func (rc *responseCapture) WriteHeader(statusCode int) {
	rc.statusCode = statusCode
	rc.ResponseWriter.WriteHeader(statusCode)
}

func (rc *responseCapture) Write(b []byte) (int, error) {
	rc.body.Write(b)
	return rc.ResponseWriter.Write(b)
}

// Idempotency replays the first successful response for a repeated key and
// answers 409 while the first request still holds it. Keys are scoped to the
// authenticated caller so one user cannot replay another user's response.
func Idempotency(store IdempotencyStore, headerName string, log *logger.Logger) func(http.Handler) http.Handler {
	if headerName == "" {
		headerName = DefaultIdempotencyHeader
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := r.Header.Get(headerName)
			if key == "" || r.Method != http.MethodPost {
				next.ServeHTTP(w, r)
				return
			}
			key = scopedKey(r, key)

			cached, acquired := store.Reserve(r.Context(), key)
			if cached != nil {
				log.Info("Replaying idempotent response",
					"request_id", RequestIDFrom(r.Context()),
					"path", r.URL.Path,
				)
				replayCachedResponse(w, cached)
				return
			}
			if !acquired {
				log.Warn("Idempotency key already in progress",
					"request_id", RequestIDFrom(r.Context()),
					"path", r.URL.Path,
				)
				_ = httputil.WriteError(w, apperrors.Conflict("A request with this idempotency key is already in progress"))
				return
			}

			// The request context may already be cancelled by the timeout
			// middleware when the handler returns.
			storeCtx := context.WithoutCancel(r.Context())
			stored := false
			defer func() {
				if !stored {
					store.Release(storeCtx, key)
				}
			}()

			capture := &responseCapture{
				ResponseWriter: w,
				statusCode:     http.StatusOK,
				body:           &bytes.Buffer{},
			}
			next.ServeHTTP(capture, r)

			if capture.statusCode >= 200 && capture.statusCode < 300 {
				store.Set(storeCtx, key, &CachedResponse{
					StatusCode: capture.statusCode,
					Headers:    cacheableHeaders(w.Header()),
					Body:       capture.body.Bytes(),
				})
				stored = true
			}
		})
	}
}

func scopedKey(r *http.Request, key string) string {
	if identity, ok := auth.IdentityFrom(r.Context()); ok {
		return identity.UserID + ":" + r.URL.Path + ":" + key
	}
	return r.URL.Path + ":" + key
}

// cacheableHeaders drops headers that belong to the original request.
func cacheableHeaders(h http.Header) http.Header {
	headers := h.Clone()
	headers.Del(RequestIDHeader)
	return headers
}

func replayCachedResponse(w http.ResponseWriter, cached *CachedResponse) {
	for key, values := range cached.Headers {
		if http.CanonicalHeaderKey(key) == http.CanonicalHeaderKey(RequestIDHeader) {
			continue
		}
		w.Header()[key] = append([]string(nil), values...)
	}
	w.Header().Set(ReplayedHeader, "true")
	w.WriteHeader(cached.StatusCode)
	_, _ = w.Write(cached.Body)
}
