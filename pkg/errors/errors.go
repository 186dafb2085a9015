package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"
)

// ErrorCode represents a unique error code
type ErrorCode int

// AppError represents an application error
type AppError struct {
	Code    ErrorCode `json:"code"`
	Message string    `json:"message"`
	Err     error     `json:"-"`
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *AppError) Unwrap() error {
	return e.Err
}

// Common error codes
const (
	ErrNotFound ErrorCode = iota + 1000
	ErrBadRequest
	ErrUnauthorized
	ErrForbidden
	ErrInternal
	ErrConflict
	ErrUnprocessable
	ErrUnavailable
)

// Engine errors. Callers match them with errors.Is after any amount of wrapping.
var (
	ErrVisitNotFound       = &AppError{Code: ErrNotFound, Message: "visit not found"}
	ErrParticipantNotFound = &AppError{Code: ErrNotFound, Message: "caregiver or client not found"}
	ErrAlreadyOnVisit      = &AppError{Code: ErrConflict, Message: "caregiver already has a visit in progress"}
	ErrScheduleConflict    = &AppError{Code: ErrConflict, Message: "caregiver is already booked in that window"}
	ErrInvalidInterval     = &AppError{Code: ErrBadRequest, Message: "end time is before start time"}
	ErrInvalidTransition   = &AppError{Code: ErrConflict, Message: "visit status does not allow this transition"}
	ErrNotAuthorizedForOrg = &AppError{Code: ErrForbidden, Message: "principal is not authorized for organization"}
	ErrUnauthenticated     = &AppError{Code: ErrUnauthorized, Message: "no resolvable identity"}
	ErrForbiddenRole       = &AppError{Code: ErrForbidden, Message: "role is not permitted to perform this action"}
	ErrNoAuthorization     = &AppError{Code: ErrUnprocessable, Message: "no active authorization covers the visit"}
	ErrAuthExceeded        = &AppError{Code: ErrUnprocessable, Message: "authorization units exceeded"}
	ErrSync                = &AppError{Code: ErrUnavailable, Message: "aggregator sync failed"}
)

// Error constructors
func NewNotFound(resource string, err error) *AppError {
	return &AppError{
		Code:    ErrNotFound,
		Message: fmt.Sprintf("%s not found", resource),
		Err:     err,
	}
}

func NewBadRequest(message string, err error) *AppError {
	return &AppError{
		Code:    ErrBadRequest,
		Message: message,
		Err:     err,
	}
}

func NewInternal(err error) *AppError {
	return &AppError{
		Code:    ErrInternal,
		Message: "internal server error",
		Err:     err,
	}
}

func NewConflict(message string, err error) *AppError {
	return &AppError{
		Code:    ErrConflict,
		Message: message,
		Err:     err,
	}
}

func Unauthorized(err error) *AppError {
	return &AppError{
		Code:    ErrUnauthorized,
		Message: "unauthorized",
		Err:     err,
	}
}

// HTTPStatus maps an error chain to the HTTP status it should surface as.
func HTTPStatus(err error) int {
	var appErr *AppError
	if !stderrors.As(err, &appErr) {
		return http.StatusInternalServerError
	}
	switch appErr.Code {
	case ErrNotFound:
		return http.StatusNotFound
	case ErrBadRequest:
		return http.StatusBadRequest
	case ErrUnauthorized:
		return http.StatusUnauthorized
	case ErrForbidden:
		return http.StatusForbidden
	case ErrConflict:
		return http.StatusConflict
	case ErrUnprocessable:
		return http.StatusUnprocessableEntity
	case ErrUnavailable:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// PublicMessage returns the message safe to show to API clients.
func PublicMessage(err error) string {
	var appErr *AppError
	if stderrors.As(err, &appErr) && appErr.Code != ErrInternal {
		return appErr.Message
	}
	return "internal server error"
}
