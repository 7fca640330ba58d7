package metrics

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"recipegen/internal/llm/mock"
	"recipegen/internal/recipe"
)

func TestNewSink_NilRegistry(t *testing.T) {
	_, err := NewSink(nil)
	assert.Error(t, err)
}

func TestNewSink_DuplicateRegistration(t *testing.T) {
	reg := prometheus.NewRegistry()
	_, err := NewSink(reg)
	require.NoError(t, err)

	_, err = NewSink(reg)
	assert.ErrorContains(t, err, "register collector")
}

func TestSink_Emit(t *testing.T) {
	s, err := NewSink(prometheus.NewRegistry())
	require.NoError(t, err)

	s.Emit(recipe.Event{Stage: recipe.StageCalled, Outcome: recipe.OutcomeOK, Elapsed: 10 * time.Millisecond})
	s.Emit(recipe.Event{Stage: recipe.StageParse, Outcome: recipe.OutcomeFail})
	s.Emit(recipe.Event{Stage: recipe.StageCompleted, Outcome: string(recipe.KindSchema)})

	assert.Equal(t, 1.0, testutil.ToFloat64(s.generatorCalls.WithLabelValues("ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(s.events.WithLabelValues("parse", "fail")))
	assert.Equal(t, 1.0, testutil.ToFloat64(s.requests.WithLabelValues("SCHEMA_ERROR")))
	assert.Equal(t, 3, testutil.CollectAndCount(s.events))
}

func TestSink_WiredIntoService(t *testing.T) {
	s, err := NewSink(prometheus.NewRegistry())
	require.NoError(t, err)

	svc := recipe.NewService(mock.New(&mock.Config{Fault: mock.FaultFence}), recipe.Options{Sink: s})
	_, err = svc.Generate(context.Background(), &recipe.Request{UserPrompt: "soup"})
	require.NoError(t, err)

	assert.Equal(t, 1.0, testutil.ToFloat64(s.generatorCalls.WithLabelValues("ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(s.events.WithLabelValues("repair", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(s.requests.WithLabelValues("ok")))
}

func TestHandler(t *testing.T) {
	reg := prometheus.NewRegistry()
	s, err := NewSink(reg)
	require.NoError(t, err)
	s.ObserveHTTP(http.MethodGet, "/api/v1/health", http.StatusOK, time.Millisecond)

	rec := httptest.NewRecorder()
	Handler(reg).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), `recipegen_http_requests_total{method="GET",route="/api/v1/health",status="200"} 1`)
}
