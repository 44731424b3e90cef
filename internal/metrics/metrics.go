// Package metrics 桥接层与监听器共用的 Prometheus 指标。
//
// 使用独立 Registry (不污染全局 DefaultRegisterer), 由 Handler() 暴露给 /metrics。
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Outcome 请求结果标签值。
const (
	OutcomeOK    = "ok"
	OutcomeError = "error"
)

var (
	registry = prometheus.NewRegistry()

	requests = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "zknotes",
		Subsystem: "bridge",
		Name:      "requests_total",
		Help:      "Dispatched bridge requests by family, kind and outcome.",
	}, []string{"family", "kind", "outcome"})

	requestDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "zknotes",
		Subsystem: "bridge",
		Name:      "request_duration_seconds",
		Help:      "Bridge request latency by family.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"family"})

	fileResponses = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "zknotes",
		Subsystem: "files",
		Name:      "responses_total",
		Help:      "File responder answers by HTTP status.",
	}, []string{"status"})

	fileBytes = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "zknotes",
		Subsystem: "files",
		Name:      "served_bytes_total",
		Help:      "Bytes streamed by the file responder.",
	})

	httpRequests = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "zknotes",
		Subsystem: "listener",
		Name:      "http_requests_total",
		Help:      "Listener HTTP requests by route and status.",
	}, []string{"route", "status"})

	jobsStarted = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "zknotes",
		Subsystem: "jobs",
		Name:      "started_total",
		Help:      "Background jobs started.",
	})
)

func init() {
	registry.MustRegister(
		requests,
		requestDuration,
		fileResponses,
		fileBytes,
		httpRequests,
		jobsStarted,
		collectors.NewGoCollector(),
	)
}

// ObserveRequest 记录一次桥接请求。
func ObserveRequest(family, kind, outcome string, elapsed time.Duration) {
	requests.WithLabelValues(family, kind, outcome).Inc()
	requestDuration.WithLabelValues(family).Observe(elapsed.Seconds())
}

// ObserveFileResponse 记录一次文件响应。
func ObserveFileResponse(status, size int) {
	fileResponses.WithLabelValues(strconv.Itoa(status)).Inc()
	if size > 0 {
		fileBytes.Add(float64(size))
	}
}

// ObserveHTTP 记录一次监听器 HTTP 请求。
func ObserveHTTP(route string, status int) {
	httpRequests.WithLabelValues(route, strconv.Itoa(status)).Inc()
}

// JobStarted 记录一个后台任务启动。
func JobStarted() { jobsStarted.Inc() }

// Registry 返回指标注册表 (测试用)。
func Registry() *prometheus.Registry { return registry }

// Handler 返回 /metrics 处理器。
func Handler() http.Handler {
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
}
