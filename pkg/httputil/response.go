package httputil

import (
	"github.com/gin-gonic/gin"

	apperrors "github.com/jwalitptl/evv-api/pkg/errors"
)

// Response wraps all API responses
type Response struct {
	Status  string      `json:"status"`
	Message string      `json:"message,omitempty"`
	Data    interface{} `json:"data,omitempty"`
}

// RespondWithSuccess sends a success envelope with the given status code.
func RespondWithSuccess(c *gin.Context, code int, data interface{}) {
	c.JSON(code, Response{
		Status: "success",
		Data:   data,
	})
}

// RespondWithError sends an error envelope. The status code comes from the
// error chain and internal details never reach the client. The error is
// attached to the context so the error middleware can log it.
func RespondWithError(c *gin.Context, err error) {
	_ = c.Error(err)
	c.AbortWithStatusJSON(apperrors.HTTPStatus(err), Response{
		Status:  "error",
		Message: apperrors.PublicMessage(err),
	})
}

// RespondWithMessage sends an error envelope with a fixed message.
func RespondWithMessage(c *gin.Context, code int, message string) {
	c.AbortWithStatusJSON(code, Response{
		Status:  "error",
		Message: message,
	})
}
