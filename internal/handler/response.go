package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/jwalitptl/evv-api/internal/identity"
	"github.com/jwalitptl/evv-api/internal/middleware"
	"github.com/jwalitptl/evv-api/internal/model"
	"github.com/jwalitptl/evv-api/pkg/httputil"
)

// Principal returns the caller resolved by the auth middleware. It writes a
// 401 and returns false when there is none.
func Principal(c *gin.Context) (model.Principal, bool) {
	p, err := identity.FromContext(c.Request.Context())
	if err != nil {
		httputil.RespondWithError(c, err)
		return model.Principal{}, false
	}
	return p, true
}

// ParseID reads a UUID path parameter. It writes a 400 and returns false
// when the parameter is malformed.
func ParseID(c *gin.Context, param string) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param(param))
	if err != nil {
		httputil.RespondWithMessage(c, http.StatusBadRequest, "invalid "+param)
		return uuid.Nil, false
	}
	return id, true
}

// BindJSON decodes and validates the request body into req. Validation
// failures list the offending fields.
func BindJSON(c *gin.Context, req interface{}) bool {
	err := c.ShouldBindJSON(req)
	if err == nil {
		return true
	}
	if fields := middleware.FieldErrors(err); fields != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{
			"status":  "error",
			"message": "validation failed",
			"errors":  fields,
		})
		return false
	}
	httputil.RespondWithMessage(c, http.StatusBadRequest, "malformed request body")
	return false
}
