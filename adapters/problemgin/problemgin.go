// Package problemgin adapts the problem interceptor to Gin. Panics
// and errors collected on the Gin context are written as problem
// documents in the wire format chosen for the calling client.
package problemgin

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/apicompat/problem/middleware"
)

// Middleware returns a Gin handler wrapping the interceptor. Install
// it before the routes whose failures it should standardize.
func Middleware(interceptor *middleware.Interceptor) gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if rvr := recover(); rvr != nil {
				if rvr == http.ErrAbortHandler {
					panic(rvr)
				}
				err, ok := rvr.(error)
				if !ok {
					err = &recoveredPanic{value: rvr}
				}
				c.Abort()
				interceptor.WriteError(c.Writer, c.Request, err)
			}
		}()

		c.Next()

		// Errors attached by handlers via c.Error are standardized too,
		// unless a response has already been written.
		if len(c.Errors) > 0 && !c.Writer.Written() {
			interceptor.WriteError(c.Writer, c.Request, c.Errors.Last().Err)
		}
	}
}

type recoveredPanic struct {
	value any
}

func (p *recoveredPanic) Error() string {
	if s, ok := p.value.(string); ok {
		return s
	}
	return "panic in handler"
}
