package middleware

import (
	"sync"
	"time"

	"github.com/gin-gonic/gin"

	infralog "github.com/kart-io/harbor/pkg/infra/logger"
)

var fieldsPool = sync.Pool{
	New: func() interface{} {
		s := make([]interface{}, 0, 16)
		return &s
	},
}

// Logger writes one structured line per request with the fields of the
// request context. Requests to skipPaths are not logged.
func Logger(skipPaths ...string) gin.HandlerFunc {
	skip := make(map[string]struct{}, len(skipPaths))
	for _, p := range skipPaths {
		skip[p] = struct{}{}
	}

	return func(c *gin.Context) {
		path := c.Request.URL.Path
		if _, ok := skip[path]; ok {
			c.Next()
			return
		}

		start := time.Now()
		c.Next()
		latency := time.Since(start)

		fields := fieldsPool.Get().(*[]interface{})
		*fields = append(*fields,
			"method", c.Request.Method,
			"path", path,
			"status", c.Writer.Status(),
			"remote_addr", c.Request.RemoteAddr,
			"latency_ms", latency.Milliseconds(),
		)
		infralog.FromContext(c.Request.Context()).Infow("HTTP Request", (*fields)...)

		*fields = (*fields)[:0]
		fieldsPool.Put(fields)
	}
}
