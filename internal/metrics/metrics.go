// Package metrics 把流水线事件与 HTTP 请求导出为 Prometheus 指标。
package metrics

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"recipegen/internal/recipe"
)

const namespace = "recipegen"

// Sink 实现 recipe.EventSink；collector 并发安全
type Sink struct {
	events         *prometheus.CounterVec
	stageElapsed   *prometheus.HistogramVec
	generatorCalls *prometheus.CounterVec
	requests       *prometheus.CounterVec
	httpRequests   *prometheus.CounterVec
	httpDuration   *prometheus.HistogramVec
}

// NewSink 创建并注册 collector
func NewSink(registry prometheus.Registerer) (*Sink, error) {
	if registry == nil {
		return nil, fmt.Errorf("prometheus registry is nil")
	}

	s := &Sink{
		events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "pipeline_events_total",
			Help:      "Pipeline state transitions by stage and outcome",
		}, []string{"stage", "outcome"}),
		stageElapsed: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "pipeline_stage_elapsed_seconds",
			Help:      "Time from request start until the stage was reached",
			Buckets:   prometheus.DefBuckets,
		}, []string{"stage"}),
		generatorCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "generator_calls_total",
			Help:      "Generator calls by outcome",
		}, []string{"outcome"}),
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "requests_total",
			Help:      "Completed generate requests by final outcome",
		}, []string{"outcome"}),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests by method, route and status",
		}, []string{"method", "route", "status"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route"}),
	}

	for _, c := range []prometheus.Collector{s.events, s.stageElapsed, s.generatorCalls, s.requests, s.httpRequests, s.httpDuration} {
		if err := registry.Register(c); err != nil {
			return nil, fmt.Errorf("register collector: %w", err)
		}
	}
	return s, nil
}

// Emit 记录一次状态转移
func (s *Sink) Emit(e recipe.Event) {
	stage := string(e.Stage)
	s.events.WithLabelValues(stage, e.Outcome).Inc()
	s.stageElapsed.WithLabelValues(stage).Observe(e.Elapsed.Seconds())
	switch e.Stage {
	case recipe.StageCalled:
		s.generatorCalls.WithLabelValues(e.Outcome).Inc()
	case recipe.StageCompleted:
		s.requests.WithLabelValues(e.Outcome).Inc()
	}
}

// ObserveHTTP 记录一次 HTTP 请求
func (s *Sink) ObserveHTTP(method, route string, status int, d time.Duration) {
	s.httpRequests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	s.httpDuration.WithLabelValues(method, route).Observe(d.Seconds())
}

// Handler 暴露 registry 的 /metrics 处理器
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}
