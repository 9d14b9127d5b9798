package server

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	auditdomain "github.com/coursekitlabs/coursekit/internal/audit/domain"
	"github.com/coursekitlabs/coursekit/pkg/db/pagination"
)

// APIError is the wire-level error envelope. Domain sentinels are translated
// here so services stay HTTP-agnostic.
type APIError struct {
	Status  int    `json:"-"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e *APIError) Error() string { return e.Code }

var (
	ErrUnauthorized = &APIError{Status: http.StatusUnauthorized, Code: "unauthorized", Message: "unauthorized"}
	ErrForbidden    = &APIError{Status: http.StatusForbidden, Code: "forbidden", Message: "insufficient role"}
	ErrRateLimited  = &APIError{Status: http.StatusTooManyRequests, Code: "rate_limited", Message: "too many requests"}
	ErrNotFound     = &APIError{Status: http.StatusNotFound, Code: "not_found", Message: "resource not found"}
	ErrInternal     = &APIError{Status: http.StatusInternalServerError, Code: "internal_error", Message: "internal error"}
)

func invalidRequestError() *APIError {
	return &APIError{Status: http.StatusBadRequest, Code: "invalid_request", Message: "invalid request"}
}

func newValidationError(field, code, message string) *APIError {
	return &APIError{Status: http.StatusBadRequest, Code: code, Message: field + ": " + message}
}

func AbortWithError(c *gin.Context, err error) {
	apiErr := toAPIError(err)
	c.AbortWithStatusJSON(apiErr.Status, gin.H{"error": apiErr})
}

func toAPIError(err error) *APIError {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr
	}

	switch {
	case errors.Is(err, auditdomain.ErrNotFound):
		return ErrNotFound
	case errors.Is(err, auditdomain.ErrInvalidDateRange):
		return &APIError{Status: http.StatusBadRequest, Code: "invalid_date_range", Message: "date_from must not be after date_to"}
	case errors.Is(err, auditdomain.ErrInvalidFormat):
		return &APIError{Status: http.StatusBadRequest, Code: "invalid_format", Message: "format must be one of csv, json, xlsx"}
	case errors.Is(err, auditdomain.ErrInvalidOrganization):
		return &APIError{Status: http.StatusBadRequest, Code: "invalid_organization", Message: "invalid organization"}
	case errors.Is(err, auditdomain.ErrNotPending):
		return &APIError{Status: http.StatusBadRequest, Code: "export_not_pending", Message: "export job is not pending"}
	case errors.Is(err, auditdomain.ErrNotCompleted):
		return &APIError{Status: http.StatusBadRequest, Code: "export_not_completed", Message: "export job is not completed"}
	case errors.Is(err, auditdomain.ErrExportExpired):
		return &APIError{Status: http.StatusBadRequest, Code: "export_expired", Message: "export has expired"}
	case errors.Is(err, pagination.ErrInvalidCursor):
		return &APIError{Status: http.StatusBadRequest, Code: "invalid_page_token", Message: "invalid page token"}
	}

	return ErrInternal
}
