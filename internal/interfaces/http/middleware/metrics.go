package middleware

import (
	"time"

	"github.com/erp/ledger/internal/infrastructure/telemetry"
	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// UnmatchedRoute labels requests that matched no registered route
const UnmatchedRoute = "unmatched"

type httpMetrics struct {
	requests       *telemetry.Counter
	duration       *telemetry.Histogram
	requestSize    *telemetry.Histogram
	responseSize   *telemetry.Histogram
	activeRequests metric.Int64UpDownCounter
}

func newHTTPMetrics(meter metric.Meter) (*httpMetrics, error) {
	m := &httpMetrics{}
	var err error
	if m.requests, err = telemetry.NewCounter(meter, "http_server_request_total",
		"Total number of HTTP requests", "{request}"); err != nil {
		return nil, err
	}
	if m.duration, err = telemetry.NewHistogram(meter, "http_server_request_duration_seconds",
		"HTTP request latency", "s", telemetry.HTTPDurationBuckets); err != nil {
		return nil, err
	}
	if m.requestSize, err = telemetry.NewHistogram(meter, "http_server_request_size_bytes",
		"HTTP request body size", "By", telemetry.HTTPSizeBuckets); err != nil {
		return nil, err
	}
	if m.responseSize, err = telemetry.NewHistogram(meter, "http_server_response_size_bytes",
		"HTTP response body size", "By", telemetry.HTTPSizeBuckets); err != nil {
		return nil, err
	}
	if m.activeRequests, err = meter.Int64UpDownCounter("http_server_active_requests",
		metric.WithDescription("Number of in-flight HTTP requests"),
		metric.WithUnit("{request}")); err != nil {
		return nil, err
	}
	return m, nil
}

// HTTPMetrics records request count, latency and body sizes per route.
// The request counter also carries the status class and, once Auth has run,
// the caller's tenant. A nil meter or a registration failure yields a
// pass-through handler.
func HTTPMetrics(meter metric.Meter) gin.HandlerFunc {
	if meter == nil {
		return passThrough
	}
	m, err := newHTTPMetrics(meter)
	if err != nil {
		return passThrough
	}

	return func(c *gin.Context) {
		ctx := c.Request.Context()
		start := time.Now()

		m.activeRequests.Add(ctx, 1)
		c.Next()
		m.activeRequests.Add(ctx, -1)

		route := c.FullPath()
		if route == "" {
			route = UnmatchedRoute
		}
		status := c.Writer.Status()
		base := []attribute.KeyValue{
			telemetry.AttrHTTPMethod.String(c.Request.Method),
			telemetry.AttrHTTPRoute.String(route),
		}

		// status and tenant stay off the histograms to bound cardinality
		counted := append([]attribute.KeyValue{
			telemetry.AttrHTTPStatusCode.Int(status),
			telemetry.AttrHTTPStatusGroup.String(StatusGroup(status)),
		}, base...)
		if identity := GetIdentity(c); identity != nil {
			counted = append(counted, telemetry.AttrTenantID.String(identity.TenantID.String()))
		}
		m.requests.Inc(ctx, counted...)
		m.duration.RecordDuration(ctx, time.Since(start), base...)

		if size := c.Request.ContentLength; size > 0 {
			m.requestSize.Record(ctx, float64(size), base...)
		}
		if size := c.Writer.Size(); size > 0 {
			m.responseSize.Record(ctx, float64(size), base...)
		}
	}
}

// StatusGroup buckets a status code into its class (2xx, 4xx, ...)
func StatusGroup(statusCode int) string {
	switch {
	case statusCode >= 200 && statusCode < 300:
		return "2xx"
	case statusCode >= 300 && statusCode < 400:
		return "3xx"
	case statusCode >= 400 && statusCode < 500:
		return "4xx"
	case statusCode >= 500 && statusCode < 600:
		return "5xx"
	default:
		return "other"
	}
}

func passThrough(c *gin.Context) {
	c.Next()
}
