package middleware

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/mux"
	"github.com/julienschmidt/httprouter"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/apicompat/problem"
	"github.com/apicompat/problem/compat"
)

func newInterceptor(t *testing.T, opts ...Option) *Interceptor {
	t.Helper()
	return New(compat.NewManager(compat.DefaultConfig()), opts...)
}

func decodeBody(t *testing.T, resp *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &body))
	return body
}

func TestWriteErrorNotFound(t *testing.T) {
	i := newInterceptor(t)

	req := httptest.NewRequest(http.MethodGet, "/orders/42", nil)
	req.Header.Set("Accept", "application/problem+json")
	resp := httptest.NewRecorder()

	i.WriteError(resp, req, problem.Faultf(problem.FaultNotFound, "order 42 not found"))

	assert.Equal(t, http.StatusNotFound, resp.Code)
	assert.Equal(t, "application/problem+json", resp.Header().Get("Content-Type"))

	body := decodeBody(t, resp)
	assert.Equal(t, problem.TypeNotFound, body["type"])
	assert.Equal(t, "Not Found", body["title"])
	assert.Equal(t, float64(404), body["status"])
	// Sanitized by default: the raw error text never leaks.
	assert.Equal(t, "Resource not found", body["detail"])
}

func TestWriteErrorDebugExposesDetail(t *testing.T) {
	i := newInterceptor(t, WithDebug(true))

	req := httptest.NewRequest(http.MethodGet, "/orders/42", nil)
	req.Header.Set("Accept", "application/problem+json")
	resp := httptest.NewRecorder()

	i.WriteError(resp, req, problem.Faultf(problem.FaultNotFound, "order 42 not found"))

	body := decodeBody(t, resp)
	assert.Equal(t, "order 42 not found", body["detail"])
}

func TestWriteErrorInternal(t *testing.T) {
	core, logs := observer.New(zap.WarnLevel)
	i := New(compat.NewManager(compat.DefaultConfig()),
		WithLogger(zap.New(core)),
		WithExposeInternalErrors(true),
	)

	req := httptest.NewRequest(http.MethodGet, "/orders", nil)
	req.Header.Set("Accept", "application/problem+json")
	resp := httptest.NewRecorder()

	i.WriteError(resp, req, errors.New("pq: connection refused"))

	assert.Equal(t, http.StatusInternalServerError, resp.Code)
	body := decodeBody(t, resp)
	assert.Equal(t, "An internal server error occurred", body["detail"])
	assert.NotEmpty(t, body["error_id"])
	assert.Equal(t, SupportURL, body["support_url"])
	assert.NotContains(t, resp.Body.String(), "connection refused")

	// Untagged errors log at error level; the raw text stays server-side.
	require.Equal(t, 1, logs.FilterMessage("unhandled error").Len())
}

func TestWriteErrorLegacyClient(t *testing.T) {
	cfg := compat.DefaultConfig()
	date := mustPast()
	cfg.DeprecationDate = &date
	cfg.MigrationGuideURL = "https://docs.example.com/migration"
	i := New(compat.NewManager(cfg))

	req := httptest.NewRequest(http.MethodGet, "/orders/42", nil)
	req.Header.Set("User-Agent", "axios/0.19.2")
	req.Header.Set("Accept", "application/json")
	resp := httptest.NewRecorder()

	i.WriteError(resp, req, problem.Faultf(problem.FaultNotFound, "order 42 not found"))

	assert.Equal(t, http.StatusNotFound, resp.Code)
	assert.Equal(t, "application/json", resp.Header().Get("Content-Type"))

	body := decodeBody(t, resp)
	assert.Equal(t, float64(404), body["status_code"])
	assert.Equal(t, "Resource not found", body["detail"])
	assert.Equal(t, problem.TypeNotFound, body["error_type"])
	_, hasTitle := body["title"]
	assert.False(t, hasTitle)

	header := resp.Header().Get("Deprecation")
	assert.Contains(t, header, "true; date=")
	assert.Contains(t, header, `link="https://docs.example.com/migration"`)
}

func TestWriteErrorNoDeprecationHeaderOnRFC7807(t *testing.T) {
	cfg := compat.DefaultConfig()
	date := mustPast()
	cfg.DeprecationDate = &date
	i := New(compat.NewManager(cfg))

	req := httptest.NewRequest(http.MethodGet, "/orders", nil)
	req.Header.Set("Accept", "application/problem+json")
	resp := httptest.NewRecorder()

	i.WriteError(resp, req, problem.Faultf(problem.FaultNotFound, ""))
	assert.Empty(t, resp.Header().Get("Deprecation"))
}

func TestWriteProblem(t *testing.T) {
	i := newInterceptor(t)

	p, err := problem.NewRateLimitProblem(100, 60, 30)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/orders", nil)
	req.Header.Set("Accept", "application/problem+json")
	resp := httptest.NewRecorder()

	i.WriteProblem(resp, req, p)

	assert.Equal(t, http.StatusTooManyRequests, resp.Code)
	body := decodeBody(t, resp)
	assert.Equal(t, float64(100), body["limit"])
	assert.Equal(t, float64(30), body["retry_after_seconds"])
}

func TestRegisterHandler(t *testing.T) {
	i := newInterceptor(t)
	i.RegisterHandler(problem.FaultRateLimited, func(err error, errorID string) problem.Wirer {
		p, _ := problem.NewRateLimitProblem(10, 60, 5, problem.WithInstance(errorID))
		return p
	})

	req := httptest.NewRequest(http.MethodGet, "/orders", nil)
	req.Header.Set("Accept", "application/problem+json")
	resp := httptest.NewRecorder()

	i.WriteError(resp, req, problem.Faultf(problem.FaultRateLimited, "slow down"))

	assert.Equal(t, http.StatusTooManyRequests, resp.Code)
	body := decodeBody(t, resp)
	assert.Equal(t, float64(10), body["limit"])
	assert.NotEmpty(t, body["instance"])
}

func TestMiddlewarePanicRecovery(t *testing.T) {
	i := newInterceptor(t)

	handler := i.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("boom")
	}))

	req := httptest.NewRequest(http.MethodGet, "/orders", nil)
	req.Header.Set("Accept", "application/problem+json")
	resp := httptest.NewRecorder()
	handler.ServeHTTP(resp, req)

	assert.Equal(t, http.StatusInternalServerError, resp.Code)
	body := decodeBody(t, resp)
	assert.Equal(t, "An internal server error occurred", body["detail"])
	assert.NotContains(t, resp.Body.String(), "boom")
}

func TestMiddlewareRepanicsOnAbort(t *testing.T) {
	i := newInterceptor(t)
	handler := i.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic(http.ErrAbortHandler)
	}))

	req := httptest.NewRequest(http.MethodGet, "/orders", nil)
	resp := httptest.NewRecorder()
	assert.PanicsWithValue(t, http.ErrAbortHandler, func() {
		handler.ServeHTTP(resp, req)
	})
}

func TestMiddlewarePassThrough(t *testing.T) {
	i := newInterceptor(t)
	handler := i.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	req := httptest.NewRequest(http.MethodGet, "/orders", nil)
	resp := httptest.NewRecorder()
	handler.ServeHTTP(resp, req)
	assert.Equal(t, http.StatusNoContent, resp.Code)
}

// The interceptor is router-agnostic: the same middleware mounts on
// chi, gorilla/mux and httprouter without adapters.
func TestMiddlewareRouters(t *testing.T) {
	i := newInterceptor(t)

	boom := func(w http.ResponseWriter, r *http.Request) { panic("boom") }

	routers := map[string]http.Handler{
		"chi": func() http.Handler {
			r := chi.NewRouter()
			r.Use(i.Middleware)
			r.Get("/orders", boom)
			return r
		}(),
		"gorilla": func() http.Handler {
			r := mux.NewRouter()
			r.Use(i.Middleware)
			r.HandleFunc("/orders", boom).Methods(http.MethodGet)
			return r
		}(),
		"httprouter": func() http.Handler {
			r := httprouter.New()
			r.HandlerFunc(http.MethodGet, "/orders", boom)
			return i.Middleware(r)
		}(),
	}

	for name, router := range routers {
		t.Run(name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/orders", nil)
			req.Header.Set("Accept", "application/problem+json")
			resp := httptest.NewRecorder()
			router.ServeHTTP(resp, req)

			assert.Equal(t, http.StatusInternalServerError, resp.Code)
			assert.Equal(t, "application/problem+json", resp.Header().Get("Content-Type"))
		})
	}
}

func TestRenderErrorValidationProblem(t *testing.T) {
	i := newInterceptor(t)

	p, err := problem.BuildValidationProblem([]problem.RawFailure{
		{Location: []any{"email"}, Message: "invalid email format", Kind: "value_error.email"},
	}, problem.WithSource("body"))
	require.NoError(t, err)

	rendered := i.RenderProblem(RenderInput{Accept: "application/problem+json"}, p)
	assert.Equal(t, http.StatusBadRequest, rendered.Status)

	var body map[string]any
	require.NoError(t, json.Unmarshal(rendered.Body, &body))
	assert.Equal(t, float64(1), body["error_count"])
	assert.Equal(t, "body", body["error_source"])
}

func TestStatsCounters(t *testing.T) {
	i := newInterceptor(t)
	assert.Equal(t, Stats{}, i.Stats())

	req := httptest.NewRequest(http.MethodGet, "/orders", nil)
	for n := 0; n < 3; n++ {
		i.WriteError(httptest.NewRecorder(), req, problem.Faultf(problem.FaultNotFound, "x"))
	}

	stats := i.Stats()
	assert.Equal(t, 3, stats.ErrorCount)
	assert.Greater(t, stats.TotalDuration, time.Duration(0))
	assert.Equal(t, stats.TotalDuration/3, stats.AvgPerError)

	i.ResetStats()
	assert.Equal(t, Stats{}, i.Stats())
}

func TestDecisionLogging(t *testing.T) {
	manager := compat.NewManager(compat.DefaultConfig())
	i := New(manager)

	req := httptest.NewRequest(http.MethodGet, "/orders", nil)
	req.Header.Set(HeaderClientID, "client-7")
	i.WriteError(httptest.NewRecorder(), req, problem.Faultf(problem.FaultNotFound, "x"))

	stats := manager.Statistics()
	require.Equal(t, 1, stats.TotalDecisions)
	assert.Equal(t, "client-7", stats.Recent[0].ClientID)
	assert.Equal(t, "interceptor", stats.Recent[0].Reason)
}

func mustPast() time.Time {
	return time.Now().Add(-24 * time.Hour)
}
