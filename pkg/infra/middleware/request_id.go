// Package middleware provides the gin middleware chain of the standard
// engine: panic recovery, request IDs, access logs and tracing.
package middleware

import (
	"github.com/gin-gonic/gin"
	"github.com/oklog/ulid/v2"

	infralog "github.com/kart-io/harbor/pkg/infra/logger"
)

// HeaderXRequestID carries the request ID in both directions.
const HeaderXRequestID = "X-Request-ID"

const requestIDKey = "request_id"

// RequestID keeps the X-Request-ID of the client or assigns a new ULID, and
// echoes it on the response.
func RequestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(HeaderXRequestID)
		if id == "" {
			id = ulid.Make().String()
			c.Request.Header.Set(HeaderXRequestID, id)
		}
		c.Set(requestIDKey, id)
		c.Header(HeaderXRequestID, id)
		c.Request = c.Request.WithContext(infralog.WithRequestID(c.Request.Context(), id))
		c.Next()
	}
}

// GetRequestID returns the request ID of c, empty when RequestID did not run.
func GetRequestID(c *gin.Context) string {
	return c.GetString(requestIDKey)
}
