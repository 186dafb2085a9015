package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/jwalitptl/evv-api/pkg/httputil"
)

// DefaultMaxBodySize covers an end-visit request with full notes and a
// signature image reference.
const DefaultMaxBodySize = 1 << 20

// SizeLimit rejects declared oversize bodies and caps undeclared ones.
func SizeLimit(maxBytes int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.Request.ContentLength > maxBytes {
			httputil.RespondWithMessage(c, http.StatusRequestEntityTooLarge, "request body too large")
			return
		}
		if c.Request.Body != nil {
			c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxBytes)
		}
		c.Next()
	}
}
