package middleware

import (
	"net/http"

	"github.com/erp/ledger/internal/infrastructure/telemetry"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// TraceIDHeader carries the trace id back to the caller for support requests
const TraceIDHeader = "X-Trace-ID"

// TracingConfig holds configuration for the tracing middleware.
type TracingConfig struct {
	ServiceName string
	Enabled     bool
}

// Tracing returns OpenTelemetry tracing middleware built on otelgin.
// The span name follows the format "HTTP METHOD route_pattern".
func Tracing(cfg TracingConfig) gin.HandlerFunc {
	if !cfg.Enabled {
		return func(c *gin.Context) {
			c.Next()
		}
	}
	return otelgin.Middleware(cfg.ServiceName)
}

// SpanErrorMarker marks the request span as failed for 4xx/5xx responses.
// Place it after Tracing.
func SpanErrorMarker() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		span := trace.SpanFromContext(c.Request.Context())
		if !span.IsRecording() {
			return
		}
		status := c.Writer.Status()
		if status < http.StatusBadRequest {
			return
		}
		span.SetStatus(codes.Error, http.StatusText(status))
		span.SetAttributes(attribute.Int("http.status_code", status))
	}
}

// SpanAttributes copies request and caller ids onto the active span and
// echoes the trace id in X-Trace-ID. Place it after Auth.
func SpanAttributes() gin.HandlerFunc {
	return func(c *gin.Context) {
		span := trace.SpanFromContext(c.Request.Context())
		if span.IsRecording() {
			if id := GetRequestID(c); id != "" {
				span.SetAttributes(attribute.String("request_id", id))
			}
			if identity := GetIdentity(c); identity != nil {
				span.SetAttributes(attribute.String("tenant_id", identity.TenantID.String()))
				if identity.UserID != uuid.Nil {
					span.SetAttributes(attribute.String("user_id", identity.UserID.String()))
				}
			}
			if invoiceID := c.Param("id"); invoiceID != "" {
				span.SetAttributes(attribute.String("invoice_id", invoiceID))
			}
			if traceID := telemetry.GetTraceID(c.Request.Context()); traceID != "" {
				c.Header(TraceIDHeader, traceID)
			}
		}
		c.Next()
	}
}
