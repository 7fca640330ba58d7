package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"recipegen/internal/llm"
	"recipegen/internal/llm/mock"
	"recipegen/internal/recipe"
)

const testKey = "test-key"

type failingProvider struct{}

func (failingProvider) Name() string { return "mock" }

func (failingProvider) Complete(context.Context, *llm.CompleteRequest) (*llm.CompleteResponse, error) {
	return nil, errors.New("connection refused")
}

type observation struct {
	method, route string
	status        int
}

type recordingObserver struct {
	seen []observation
}

func (o *recordingObserver) ObserveHTTP(method, route string, status int, _ time.Duration) {
	o.seen = append(o.seen, observation{method, route, status})
}

type testServer struct {
	router   chi.Router
	store    *recipe.MemoryStore
	observer *recordingObserver
}

func newTestServer(t *testing.T, provider llm.Provider, limiter *RateLimiter) *testServer {
	t.Helper()
	ts := &testServer{
		router:   chi.NewRouter(),
		store:    recipe.NewMemoryStore(),
		observer: &recordingObserver{},
	}
	svc := recipe.NewService(provider, recipe.Options{})
	h := NewHandler(svc, []string{testKey}, Options{
		Store:       ts.store,
		RateLimiter: limiter,
		Observer:    ts.observer,
		Metrics: http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte("metrics"))
		}),
	})
	h.Routes(ts.router)
	return ts
}

func (ts *testServer) do(method, path, body string, auth bool) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	if auth {
		req.Header.Set("Authorization", "Bearer "+testKey)
	}
	rec := httptest.NewRecorder()
	ts.router.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

func (ts *testServer) seed(t *testing.T, title, userID string) string {
	t.Helper()
	parsed := map[string]any{
		"title":       title,
		"servings":    json.Number("2"),
		"difficulty":  "easy",
		"time":        map[string]any{"prep_min": json.Number("5"), "cook_min": json.Number("10")},
		"ingredients": []any{},
		"steps":       []any{},
	}
	rec, err := recipe.NewRecord(parsed, userID)
	require.NoError(t, err)
	id, err := ts.store.Save(context.Background(), rec)
	require.NoError(t, err)
	return id
}

func TestHealth_NoAuth(t *testing.T) {
	ts := newTestServer(t, mock.New(nil), nil)
	rec := ts.do(http.MethodGet, "/api/v1/health", "", false)

	assert.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	assert.Equal(t, "ok", body["status"])
}

func TestAuth(t *testing.T) {
	ts := newTestServer(t, mock.New(nil), nil)

	rec := ts.do(http.MethodGet, "/api/v1/models", "", false)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "UNAUTHORIZED", decodeBody(t, rec)["code"])

	req := httptest.NewRequest(http.MethodGet, "/api/v1/models", nil)
	req.Header.Set("X-API-Key", "wrong")
	rr := httptest.NewRecorder()
	ts.router.ServeHTTP(rr, req)
	assert.Equal(t, http.StatusUnauthorized, rr.Code)

	req = httptest.NewRequest(http.MethodGet, "/api/v1/models", nil)
	req.Header.Set("X-API-Key", testKey)
	rr = httptest.NewRecorder()
	ts.router.ServeHTTP(rr, req)
	assert.Equal(t, http.StatusOK, rr.Code)
}

func TestModels(t *testing.T) {
	ts := newTestServer(t, mock.New(nil), nil)
	rec := ts.do(http.MethodGet, "/api/v1/models", "", true)
	require.Equal(t, http.StatusOK, rec.Code)

	body := decodeBody(t, rec)
	assert.Equal(t, "mock", body["provider"])
	assert.Equal(t, mock.DefaultModel, body["default_model"])
	assert.NotEmpty(t, body["providers"])
}

func TestGenerate_Success(t *testing.T) {
	ts := newTestServer(t, mock.New(nil), nil)
	rec := ts.do(http.MethodPost, "/api/v1/recipes/generate", `{"prompt":"tomato soup"}`, true)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	body := decodeBody(t, rec)
	assert.NotEmpty(t, body["request_id"])
	assert.Equal(t, false, body["repaired"])
	assert.EqualValues(t, 1, body["attempts"])
	assert.EqualValues(t, 200, body["tokens_in"])
	assert.NotContains(t, body, "id")

	parsed, ok := body["parsed"].(map[string]any)
	require.True(t, ok)
	assert.Contains(t, parsed, "title")
}

func TestGenerate_Repaired(t *testing.T) {
	ts := newTestServer(t, mock.New(&mock.Config{Fault: mock.FaultFence}), nil)
	rec := ts.do(http.MethodPost, "/api/v1/recipes/generate", `{"prompt":"tomato soup"}`, true)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, true, decodeBody(t, rec)["repaired"])
}

func TestGenerate_Save(t *testing.T) {
	ts := newTestServer(t, mock.New(nil), nil)
	rec := ts.do(http.MethodPost, "/api/v1/recipes/generate", `{"prompt":"stew","save":true,"user_id":"u1"}`, true)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	id, _ := decodeBody(t, rec)["id"].(string)
	require.NotEmpty(t, id)

	stored, err := ts.store.Get(context.Background(), id, "u1")
	require.NoError(t, err)
	assert.Equal(t, "u1", stored.UserID)
}

func TestGenerate_Errors(t *testing.T) {
	tests := []struct {
		name     string
		provider llm.Provider
		body     string
		status   int
		code     string
	}{
		{"blank prompt", mock.New(nil), `{"prompt":"   "}`, http.StatusBadRequest, "INVALID_REQUEST"},
		{"bad temperature", mock.New(nil), `{"prompt":"x","temperature":3}`, http.StatusBadRequest, "INVALID_REQUEST"},
		{"bad json", mock.New(nil), `{"prompt":`, http.StatusBadRequest, "INVALID_REQUEST"},
		{"long user id", mock.New(nil), `{"prompt":"x","user_id":"` + strings.Repeat("u", 129) + `"}`, http.StatusBadRequest, "INVALID_REQUEST"},
		{"transport", failingProvider{}, `{"prompt":"x"}`, http.StatusBadGateway, "TRANSPORT_ERROR"},
		{"refusal", mock.New(&mock.Config{Fault: mock.FaultRefusal}), `{"prompt":"x"}`, http.StatusUnprocessableEntity, "PARSE_ERROR"},
		{"truncated", mock.New(&mock.Config{Fault: mock.FaultTruncate}), `{"prompt":"x"}`, http.StatusUnprocessableEntity, "SCHEMA_ERROR"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ts := newTestServer(t, tt.provider, nil)
			rec := ts.do(http.MethodPost, "/api/v1/recipes/generate", tt.body, true)
			assert.Equal(t, tt.status, rec.Code, rec.Body.String())
			assert.Equal(t, tt.code, decodeBody(t, rec)["code"])
		})
	}
}

func TestGenerate_SchemaErrorCarriesViolations(t *testing.T) {
	ts := newTestServer(t, mock.New(&mock.Config{Fault: mock.FaultTruncate}), nil)
	rec := ts.do(http.MethodPost, "/api/v1/recipes/generate", `{"prompt":"x"}`, true)
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	body := decodeBody(t, rec)
	violations, ok := body["violations"].([]any)
	require.True(t, ok)
	require.Len(t, violations, 1)
	assert.Equal(t, map[string]any{"path": "steps", "reason": "missing"}, violations[0])
	assert.NotEmpty(t, body["raw"])
	assert.NotEmpty(t, body["repaired"])
}

func TestGenerate_ContentType(t *testing.T) {
	ts := newTestServer(t, mock.New(nil), nil)
	req := httptest.NewRequest(http.MethodPost, "/api/v1/recipes/generate", strings.NewReader(`{"prompt":"x"}`))
	req.Header.Set("Authorization", "Bearer "+testKey)
	rec := httptest.NewRecorder()
	ts.router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestGenerate_BodyTooLarge(t *testing.T) {
	ts := newTestServer(t, mock.New(nil), nil)
	big := `{"prompt":"` + strings.Repeat("a", int(maxRequestBodyBytes)) + `"}`
	req := httptest.NewRequest(http.MethodPost, "/api/v1/recipes/generate", bytes.NewBufferString(big))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+testKey)
	rec := httptest.NewRecorder()
	ts.router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
}

func TestListSearchGetDelete(t *testing.T) {
	ts := newTestServer(t, mock.New(nil), nil)
	soup := ts.seed(t, "Tomato Soup", "")
	ts.seed(t, "Beef Stew", "u1")
	ts.seed(t, "Private Pie", "u2")

	rec := ts.do(http.MethodGet, "/api/v1/recipes?user_id=u1", "", true)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.EqualValues(t, 2, decodeBody(t, rec)["count"])

	rec = ts.do(http.MethodGet, "/api/v1/recipes?q=soup", "", true)
	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	require.EqualValues(t, 1, body["count"])
	item := body["items"].([]any)[0].(map[string]any)
	assert.Equal(t, soup, item["id"])
	assert.IsType(t, map[string]any{}, item["json"])

	rec = ts.do(http.MethodGet, "/api/v1/recipes?limit=1", "", true)
	assert.EqualValues(t, 1, decodeBody(t, rec)["count"])

	rec = ts.do(http.MethodGet, "/api/v1/recipes?limit=abc", "", true)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = ts.do(http.MethodGet, "/api/v1/recipes/"+soup, "", true)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "Tomato Soup", decodeBody(t, rec)["title"])

	rec = ts.do(http.MethodDelete, "/api/v1/recipes/"+soup, "", true)
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = ts.do(http.MethodGet, "/api/v1/recipes/"+soup, "", true)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "NOT_FOUND", decodeBody(t, rec)["code"])

	rec = ts.do(http.MethodDelete, "/api/v1/recipes/"+soup, "", true)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestRateLimit(t *testing.T) {
	limiter := NewRateLimiter(t.Context(), 0.001, 2)
	ts := newTestServer(t, mock.New(nil), limiter)

	for i := 0; i < 2; i++ {
		assert.Equal(t, http.StatusOK, ts.do(http.MethodGet, "/api/v1/models", "", true).Code)
	}
	rec := ts.do(http.MethodGet, "/api/v1/models", "", true)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "RATE_LIMIT", decodeBody(t, rec)["code"])

	// health 不受限流
	assert.Equal(t, http.StatusOK, ts.do(http.MethodGet, "/api/v1/health", "", false).Code)
}

func TestRateLimiter_PerClientAndPrune(t *testing.T) {
	rl := NewRateLimiter(t.Context(), 0.001, 1)
	assert.True(t, rl.Allow("a"))
	assert.False(t, rl.Allow("a"))
	assert.True(t, rl.Allow("b"))
	assert.Equal(t, 2, rl.size())

	rl.prune(time.Now().Add(visitorTTL + time.Second))
	assert.Equal(t, 0, rl.size())
	assert.True(t, rl.Allow("a"))
}

func TestClientID(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "10.0.0.1:4321"
	assert.Equal(t, "10.0.0.1", clientID(req))

	req.Header.Set("X-Forwarded-For", "203.0.113.7, 10.0.0.1")
	assert.Equal(t, "203.0.113.7", clientID(req))
}

func TestMetricsMiddlewareAndEndpoint(t *testing.T) {
	ts := newTestServer(t, mock.New(nil), nil)
	ts.do(http.MethodGet, "/api/v1/health", "", false)
	ts.do(http.MethodGet, "/api/v1/recipes/missing", "", true)

	assert.Contains(t, ts.observer.seen, observation{http.MethodGet, "/api/v1/health", http.StatusOK})
	assert.Contains(t, ts.observer.seen, observation{http.MethodGet, "/api/v1/recipes/{id}", http.StatusNotFound})

	rec := ts.do(http.MethodGet, "/metrics", "", false)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "metrics", rec.Body.String())
}
