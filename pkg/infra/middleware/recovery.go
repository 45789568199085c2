package middleware

import (
	"runtime/debug"

	"github.com/gin-gonic/gin"
	"github.com/kart-io/logger"

	"github.com/kart-io/harbor/pkg/errors"
	"github.com/kart-io/harbor/pkg/response"
)

// PanicHandler is called with the recovered value and the stack.
type PanicHandler func(c *gin.Context, v interface{}, stack []byte)

// Recovery turns a panic into an errno 500 response. The stack is logged and
// never sent to the client.
func Recovery(onPanic PanicHandler) gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if r := recover(); r != nil {
				stack := debug.Stack()
				logger.Errorw("panic recovered",
					"panic", r,
					"stack_trace", string(stack),
					"path", c.Request.URL.Path,
					"method", c.Request.Method,
					"request_id", GetRequestID(c),
				)
				if onPanic != nil {
					onPanic(c, r, stack)
				}
				response.Fail(c, errors.ErrInternal)
			}
		}()
		c.Next()
	}
}
