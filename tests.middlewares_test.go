package main

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/julienschmidt/httprouter"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestAPIHandler(config *Config, metrics *Metrics, svc *Services) *APIHandler {
	if config == nil {
		config = &Config{}
	}
	return NewAPIHandler(zap.NewNop(), config, &Statistics{started: NewMockClocker().Now()}, NewMockClocker(), NewMockUIDHandler("abc", true), metrics, svc)
}

// TestMiddlewaresStacks ensures we get both public and ops middlewares
// stacks with exact number of elements in those stacks.
func TestMiddlewaresStacks(t *testing.T) {
	t.Run("without optional layers", func(t *testing.T) {
		api := newTestAPIHandler(nil, nil, nil)
		pub, ops := api.MiddlewaresStacks()
		assert.Equal(t, 7, len(*pub))
		assert.Equal(t, 5, len(*ops))
	})

	t.Run("with metrics and rate limiter", func(t *testing.T) {
		api := newTestAPIHandler(nil, NewMetrics(prometheus.NewRegistry()), nil)
		api.WithRateLimiter(NewIPRateLimiter(&RateLimitConfig{RequestsPerSecond: 1, Burst: 1, IdleTimeout: time.Minute}, NewMockClocker()))
		pub, ops := api.MiddlewaresStacks()
		assert.Equal(t, 9, len(*pub))
		assert.Equal(t, 6, len(*ops))
	})
}

// TestChain ensures each middleware in the stack is called as well the handler.
func TestChain(t *testing.T) {
	var ca, cb, cc, ch bool
	queue := make(chan int, 4)

	middlewareA := func(next httprouter.Handle) httprouter.Handle {
		return func(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
			queue <- 1
			ca = true
			next(w, r, ps)
		}
	}
	middlewareB := func(next httprouter.Handle) httprouter.Handle {
		return func(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
			queue <- 2
			cb = true
			next(w, r, ps)
		}
	}
	middlewareC := func(next httprouter.Handle) httprouter.Handle {
		return func(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
			queue <- 3
			cc = true
			next(w, r, ps)
		}
	}
	middlewares := Middlewares{
		middlewareA,
		middlewareB,
		middlewareC,
	}

	handler := func(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
		queue <- 4
		ch = true
	}

	chained := (&middlewares).Chain(handler)
	req := httptest.NewRequest("GET", "/api/books", nil)
	w := httptest.NewRecorder()
	chained(w, req, nil)

	t.Run("check calling", func(t *testing.T) {
		assert.Equal(t, true, ca)
		assert.Equal(t, true, cb)
		assert.Equal(t, true, cc)
		assert.Equal(t, true, ch)
	})

	t.Run("check ordering", func(t *testing.T) {
		assert.Equal(t, 1, <-queue)
		assert.Equal(t, 2, <-queue)
		assert.Equal(t, 3, <-queue)
		assert.Equal(t, 4, <-queue)
	})
}

// TestRequestsCounterMiddleware ensures the request counter increment.
func TestRequestsCounterMiddleware(t *testing.T) {
	api := newTestAPIHandler(nil, nil, nil)
	req := httptest.NewRequest("GET", "/api/books", nil)
	w := httptest.NewRecorder()
	var num uint64
	handler := func(w http.ResponseWriter, req *http.Request, ps httprouter.Params) {
		num = GetRequestNumberFromContext(req.Context())
	}
	wrapped := api.RequestsCounterMiddleware(handler)
	wrapped(w, req, nil)
	wrapped(w, req, nil)
	assert.Equal(t, uint64(2), num)
	assert.Equal(t, uint64(2), api.stats.called)
}

// TestRequestIDMiddleware ensures the id is stored in the context and echoed back.
func TestRequestIDMiddleware(t *testing.T) {
	api := newTestAPIHandler(nil, nil, nil)
	var requestID string
	handler := func(w http.ResponseWriter, req *http.Request, ps httprouter.Params) {
		requestID = GetValueFromContext(req.Context(), ContextRequestID)
	}
	w := httptest.NewRecorder()
	api.RequestIDMiddleware(handler)(w, httptest.NewRequest("GET", "/status", nil), nil)
	assert.Equal(t, "r:abc", requestID)
	assert.Equal(t, "r:abc", w.Header().Get("X-Request-ID"))
}

// TestStatsMiddleware ensures response codes are counted.
func TestStatsMiddleware(t *testing.T) {
	api := newTestAPIHandler(nil, nil, nil)
	handler := func(w http.ResponseWriter, req *http.Request, ps httprouter.Params) {
		w.WriteHeader(http.StatusTeapot)
	}
	wrapped := api.StatsMiddleware(handler)
	wrapped(httptest.NewRecorder(), httptest.NewRequest("GET", "/status", nil), nil)
	wrapped(httptest.NewRecorder(), httptest.NewRequest("GET", "/status", nil), nil)
	assert.Equal(t, uint64(2), api.stats.status[http.StatusTeapot])
}

// TestAuthMiddleware ensures only requests with a valid bearer token reach the handler.
func TestAuthMiddleware(t *testing.T) {
	tokens := &MockTokenManager{Tokens: map[string]string{"good": "u:1"}}
	users := NewUserService(zap.NewNop(), testAuthConfig(), NewMockClocker(), NewMockUIDHandler("abc", true), &MockUserStorage{}, tokens, nil)
	api := newTestAPIHandler(nil, nil, &Services{Users: users})

	testCases := []struct {
		name   string
		header string
		code   int
		userID string
	}{
		{"missing header", "", http.StatusUnauthorized, ""},
		{"wrong scheme", "Basic good", http.StatusUnauthorized, ""},
		{"empty token", "Bearer ", http.StatusUnauthorized, ""},
		{"unknown token", "Bearer bad", http.StatusUnauthorized, ""},
		{"valid token", "Bearer good", http.StatusOK, "u:1"},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			var userID string
			handler := func(w http.ResponseWriter, req *http.Request, ps httprouter.Params) {
				userID = GetValueFromContext(req.Context(), ContextUserID)
			}
			req := httptest.NewRequest("POST", "/api/books", nil)
			if tc.header != "" {
				req.Header.Set("Authorization", tc.header)
			}
			w := httptest.NewRecorder()
			api.AuthMiddleware(handler)(w, req, nil)
			assert.Equal(t, tc.code, w.Code)
			assert.Equal(t, tc.userID, userID)
		})
	}
}

// TestRateLimitMiddleware ensures a source ip over its budget gets 429.
func TestRateLimitMiddleware(t *testing.T) {
	api := newTestAPIHandler(nil, nil, nil)
	api.WithRateLimiter(NewIPRateLimiter(&RateLimitConfig{RequestsPerSecond: 0.001, Burst: 2, IdleTimeout: time.Minute}, NewMockClocker()))
	handler := func(w http.ResponseWriter, req *http.Request, ps httprouter.Params) {}
	wrapped := api.RateLimitMiddleware(handler)

	send := func(ip string) *httptest.ResponseRecorder {
		req := httptest.NewRequest("GET", "/api/books", nil)
		req.RemoteAddr = ip + ":4242"
		w := httptest.NewRecorder()
		wrapped(w, req, nil)
		return w
	}
	assert.Equal(t, http.StatusOK, send("10.0.0.1").Code)
	assert.Equal(t, http.StatusOK, send("10.0.0.1").Code)
	w := send("10.0.0.1")
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, "60", w.Header().Get("Retry-After"))
	assert.Equal(t, http.StatusOK, send("10.0.0.2").Code)
}

// TestIPRateLimiterSweep ensures idle buckets are dropped.
func TestIPRateLimiterSweep(t *testing.T) {
	clock := NewMockClocker()
	rl := NewIPRateLimiter(&RateLimitConfig{RequestsPerSecond: 1, Burst: 1, IdleTimeout: time.Minute}, clock)
	assert.True(t, rl.Allow("10.0.0.1"))
	assert.False(t, rl.Allow("10.0.0.1"))

	clock.MockNow = clock.MockNow.Add(30 * time.Second)
	assert.True(t, rl.Allow("10.0.0.2"))
	assert.Equal(t, 0, rl.Sweep())

	clock.MockNow = clock.MockNow.Add(45 * time.Second)
	assert.Equal(t, 1, rl.Sweep())
	assert.Len(t, rl.visitors, 1)
	assert.Contains(t, rl.visitors, "10.0.0.2")
}

// TestMaintenanceModeMiddleware ensures requests are refused while the mode is enabled.
func TestMaintenanceModeMiddleware(t *testing.T) {
	api := newTestAPIHandler(nil, nil, nil)
	var called bool
	handler := func(w http.ResponseWriter, req *http.Request, ps httprouter.Params) {
		called = true
	}
	wrapped := api.MaintenanceModeMiddleware(handler)

	w := httptest.NewRecorder()
	api.Maintenance(w, httptest.NewRequest("GET", "/ops/maintenance?status=enable&msg=upgrade", nil), nil)
	require.Equal(t, http.StatusOK, w.Code)

	w = httptest.NewRecorder()
	wrapped(w, httptest.NewRequest("GET", "/api/books", nil), nil)
	assert.False(t, called)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Contains(t, w.Body.String(), "upgrade")

	w = httptest.NewRecorder()
	api.Maintenance(w, httptest.NewRequest("GET", "/ops/maintenance?status=disable", nil), nil)
	require.Equal(t, http.StatusOK, w.Code)

	w = httptest.NewRecorder()
	wrapped(w, httptest.NewRequest("GET", "/api/books", nil), nil)
	assert.True(t, called)

	w = httptest.NewRecorder()
	api.Maintenance(w, httptest.NewRequest("GET", "/ops/maintenance?status=toggle", nil), nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

// TestPanicRecoveryMiddleware ensures a panicking handler produces a 500.
func TestPanicRecoveryMiddleware(t *testing.T) {
	api := newTestAPIHandler(nil, nil, nil)
	handler := func(w http.ResponseWriter, req *http.Request, ps httprouter.Params) {
		panic("boom")
	}
	w := httptest.NewRecorder()
	assert.NotPanics(t, func() {
		api.PanicRecoveryMiddleware(handler)(w, httptest.NewRequest("GET", "/api/books", nil), nil)
	})
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Contains(t, w.Body.String(), "failed to process the request.")
}

// TestCORSMiddleware ensures the configured origin is advertised.
func TestCORSMiddleware(t *testing.T) {
	api := newTestAPIHandler(&Config{Server: ServerConfig{AllowedOrigin: "https://books.example.com"}}, nil, nil)
	handler := func(w http.ResponseWriter, req *http.Request, ps httprouter.Params) {}
	w := httptest.NewRecorder()
	api.CORSMiddleware(handler)(w, httptest.NewRequest("GET", "/api/books", nil), nil)
	assert.Equal(t, "https://books.example.com", w.Header().Get("Access-Control-Allow-Origin"))
	assert.Contains(t, w.Header().Get("Access-Control-Allow-Headers"), "Authorization")
}

// TestMetricsMiddleware ensures requests are counted under a bounded path label.
func TestMetricsMiddleware(t *testing.T) {
	metrics := NewMetrics(prometheus.NewRegistry())
	api := newTestAPIHandler(nil, metrics, nil)
	handler := func(w http.ResponseWriter, req *http.Request, ps httprouter.Params) {
		w.WriteHeader(http.StatusCreated)
	}
	wrapped := api.MetricsMiddleware(handler)
	wrapped(httptest.NewRecorder(), httptest.NewRequest("POST", "/api/books/b:1/rating", nil), nil)
	wrapped(httptest.NewRecorder(), httptest.NewRequest("POST", "/api/books/b:2/rating", nil), nil)

	w := httptest.NewRecorder()
	api.GetMetrics(w, httptest.NewRequest("GET", "/ops/metrics", nil), nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `path="/api/books/:id/rating"`)
	assert.NotContains(t, w.Body.String(), "b:1")
}

// TestCanonicalPath ensures variable segments are folded.
func TestCanonicalPath(t *testing.T) {
	assert.Equal(t, "/api/books", canonicalPath("/api/books"))
	assert.Equal(t, "/api/books/:id", canonicalPath("/api/books/b:cb8f2136-fae4-4200-85d9-3533c7f8c70d"))
	assert.Equal(t, "/images/:name", canonicalPath("/images/4b1d3c7e.jpg"))
}
