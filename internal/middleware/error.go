package middleware

import (
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	apperrors "github.com/jwalitptl/evv-api/pkg/errors"
)

// ErrorHandler logs errors handlers attached with c.Error. Server-side
// failures log at error level with the full chain; client errors at debug.
func ErrorHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if len(c.Errors) == 0 {
			return
		}

		l := zerolog.Ctx(c.Request.Context())
		for _, e := range c.Errors {
			evt := l.Debug()
			if apperrors.HTTPStatus(e.Err) >= 500 {
				evt = l.Error()
			}
			evt.
				Err(e.Err).
				Str("path", c.Request.URL.Path).
				Str("method", c.Request.Method).
				Msg("Request error")
		}
	}
}
