package server

import (
	"net/http"
	"runtime/debug"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/vyrodovalexey/trafficgw/internal/gateway"
	"github.com/vyrodovalexey/trafficgw/internal/observability"
	"github.com/vyrodovalexey/trafficgw/internal/util"
)

// Recovery returns a middleware that recovers from panics in handlers.
func Recovery(logger observability.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if err := recover(); err != nil {
				logger.Error("panic recovered",
					observability.String("path", c.Request.URL.Path),
					observability.String("method", c.Request.Method),
					observability.Any("error", err),
					observability.String("stack", string(debug.Stack())),
				)
				c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "internal server error"})
			}
		}()

		c.Next()
	}
}

// RequestID returns a middleware that assigns every request an ID, keeping
// the one the client sent, and echoes it in the response.
func RequestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		requestID := c.GetHeader(gateway.HeaderRequestID)
		if requestID == "" {
			requestID = uuid.NewString()
			c.Request.Header.Set(gateway.HeaderRequestID, requestID)
		}

		ctx := util.ContextWithRequestID(c.Request.Context(), requestID)
		ctx = observability.ContextWithRequestID(ctx, requestID)
		c.Request = c.Request.WithContext(ctx)
		c.Header(gateway.HeaderRequestID, requestID)

		c.Next()
	}
}

// Tracing returns a middleware that continues a trace started upstream.
func Tracing() gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := observability.ExtractTraceContext(c.Request.Context(), c.Request.Header)
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}

// Logging returns a middleware that logs every request.
func Logging(logger observability.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		logger.WithContext(c.Request.Context()).Info("http request",
			observability.String("method", c.Request.Method),
			observability.String("path", c.Request.URL.Path),
			observability.String("query", c.Request.URL.RawQuery),
			observability.Int("status", c.Writer.Status()),
			observability.Int("size", max(c.Writer.Size(), 0)),
			observability.Duration("duration", time.Since(start)),
			observability.String("remote_addr", c.Request.RemoteAddr),
			observability.String("user_agent", c.Request.UserAgent()),
		)
	}
}
