// Package metrics holds the Prometheus collectors shared by the HTTP API,
// the realtime gateway and the storage backends.
package metrics

import (
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	HTTPRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "HTTP requests served, by method and status code.",
		},
		[]string{"method", "status"},
	)

	HTTPDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request latency.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method"},
	)

	RealtimeConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "realtime_connections",
		Help: "Open realtime websocket connections.",
	})

	RealtimeEvents = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "realtime_events_total",
			Help: "Realtime events handled, by event name and outcome.",
		},
		[]string{"event", "outcome"},
	)

	ChatSendRetries = promauto.NewCounter(prometheus.CounterOpts{
		Name: "chat_send_retries_total",
		Help: "Failed chat message inserts that were retried.",
	})

	StorageOperations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "storage_operations_total",
			Help: "Blob storage operations, by backend, operation and outcome.",
		},
		[]string{"backend", "op", "outcome"},
	)
)

func Outcome(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}

// Middleware records request counts and latency.
func Middleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		start := time.Now()
		err := c.Next()

		status := c.Response().StatusCode()
		if err != nil {
			if fiberErr, ok := err.(*fiber.Error); ok {
				status = fiberErr.Code
			}
		}

		HTTPRequests.WithLabelValues(c.Method(), strconv.Itoa(status)).Inc()
		HTTPDuration.WithLabelValues(c.Method()).Observe(time.Since(start).Seconds())
		return err
	}
}

// Handler exposes the default registry on a Fiber route.
func Handler() fiber.Handler {
	return adaptor.HTTPHandler(promhttp.Handler())
}
