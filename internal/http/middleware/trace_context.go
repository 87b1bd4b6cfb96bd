package middleware

import (
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/trace"

	"github.com/yungbote/dataset-engine/internal/platform/ctxutil"
)

const (
	headerTraceID   = "X-Trace-Id"
	headerRequestID = "X-Request-Id"
)

// AttachTraceContext starts the request data of every API call. The trace id prefers the
// caller's header, then the otel span started by otelgin.
func AttachTraceContext() gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, rd := ctxutil.Ensure(c.Request.Context())
		rd.RequestID = strings.TrimSpace(c.GetHeader(headerRequestID))
		if rd.RequestID == "" {
			rd.RequestID = uuid.NewString()
		}
		rd.TraceID = strings.TrimSpace(c.GetHeader(headerTraceID))
		if rd.TraceID == "" {
			if sc := trace.SpanContextFromContext(ctx); sc.HasTraceID() {
				rd.TraceID = sc.TraceID().String()
			} else {
				rd.TraceID = rd.RequestID
			}
		}
		c.Request = c.Request.WithContext(ctx)
		c.Writer.Header().Set(headerTraceID, rd.TraceID)
		c.Writer.Header().Set(headerRequestID, rd.RequestID)
		c.Next()
	}
}
