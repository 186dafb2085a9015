package httputil

import (
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/jwalitptl/evv-api/pkg/errors"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func respond(t *testing.T, err error) (*httptest.ResponseRecorder, Response) {
	t.Helper()
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	RespondWithError(c, err)

	var body Response
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Len(t, c.Errors, 1)
	return w, body
}

func TestRespondWithErrorMapsStatus(t *testing.T) {
	w, body := respond(t, fmt.Errorf("starting visit: %w", apperrors.ErrAlreadyOnVisit))
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, "error", body.Status)
	assert.Equal(t, apperrors.ErrAlreadyOnVisit.Message, body.Message)

	w, _ = respond(t, apperrors.ErrAuthExceeded)
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
}

func TestRespondWithErrorHidesInternalDetails(t *testing.T) {
	w, body := respond(t, errors.New("pq: connection refused to 10.0.0.3"))
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Equal(t, "internal server error", body.Message)
}

func TestRespondWithSuccess(t *testing.T) {
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	RespondWithSuccess(c, http.StatusCreated, map[string]int{"created": 2})

	assert.Equal(t, http.StatusCreated, w.Code)
	assert.JSONEq(t, `{"status":"success","data":{"created":2}}`, w.Body.String())
}
