package handlers

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/vidora/stars-service/internal/domain/entities"
	domainerrors "github.com/vidora/stars-service/internal/domain/errors"
)

// Error codes kept consistent across handlers
const (
	ErrCodeUnauthorized    = "UNAUTHORIZED"
	ErrCodeForbidden       = "FORBIDDEN"
	ErrCodeInvalidRequest  = "INVALID_REQUEST"
	ErrCodeInvalidID       = "INVALID_ID"
	ErrCodeInvalidChain    = "INVALID_CHAIN"
	ErrCodeInvalidProvider = "INVALID_PROVIDER"
	ErrCodeInvalidAmount   = "INVALID_AMOUNT"
	ErrCodeNotFound        = "NOT_FOUND"
	ErrCodeConflict        = "CONFLICT"
	ErrCodeInternalError   = "INTERNAL_ERROR"
)

// getUserID extracts and validates user ID from context
func getUserID(c *gin.Context) (uuid.UUID, error) {
	userIDVal, exists := c.Get("user_id")
	if !exists {
		return uuid.Nil, fmt.Errorf("user ID not found in context")
	}

	switch v := userIDVal.(type) {
	case uuid.UUID:
		return v, nil
	case string:
		return uuid.Parse(v)
	default:
		return uuid.Nil, fmt.Errorf("invalid user ID type in context")
	}
}

// adminID renders the acting admin's id for audit logs
func adminID(c *gin.Context) string {
	id, err := getUserID(c)
	if err != nil {
		return ""
	}
	return id.String()
}

// getRequestID extracts request ID from context
func getRequestID(c *gin.Context) string {
	if reqID, exists := c.Get("request_id"); exists {
		if id, ok := reqID.(string); ok {
			return id
		}
	}
	return ""
}

// respondError sends a standardized error response
func respondError(c *gin.Context, status int, code, message string, details map[string]interface{}) {
	c.JSON(status, entities.ErrorResponse{
		Code:    code,
		Message: message,
		Details: details,
	})
}

// respondUnauthorized sends an unauthorized error
func respondUnauthorized(c *gin.Context, message string) {
	respondError(c, http.StatusUnauthorized, ErrCodeUnauthorized, message, nil)
}

// respondBadRequest sends a bad request error
func respondBadRequest(c *gin.Context, message string, details ...map[string]interface{}) {
	var det map[string]interface{}
	if len(details) > 0 {
		det = details[0]
	}
	respondError(c, http.StatusBadRequest, ErrCodeInvalidRequest, message, det)
}

// respondInternalError sends an internal server error
func respondInternalError(c *gin.Context, message string) {
	respondError(c, http.StatusInternalServerError, ErrCodeInternalError, message, nil)
}

// respondNotFound sends a not found error
func respondNotFound(c *gin.Context, message string) {
	respondError(c, http.StatusNotFound, ErrCodeNotFound, message, nil)
}

// respondForbidden sends a forbidden error
func respondForbidden(c *gin.Context, message string) {
	respondError(c, http.StatusForbidden, ErrCodeForbidden, message, nil)
}

// respondConflict sends a conflict error
func respondConflict(c *gin.Context, message string) {
	respondError(c, http.StatusConflict, ErrCodeConflict, message, nil)
}

// respondDomainError maps domain error categories onto HTTP statuses. A
// DomainError in the chain contributes its code and detail map; the
// status still comes from the wrapped category sentinel.
func respondDomainError(c *gin.Context, err error) {
	status, code := domainStatus(err)
	message := err.Error()
	if status == http.StatusInternalServerError {
		message = "Internal server error"
	}

	var details map[string]interface{}
	var de *domainerrors.DomainError
	if errors.As(err, &de) {
		if de.Code != "" {
			code = de.Code
		}
		if de.Message != "" {
			message = de.Message
		}
		details = de.Details
	}

	respondError(c, status, code, message, details)
}

func domainStatus(err error) (int, string) {
	switch {
	case errors.Is(err, domainerrors.ErrNotFound):
		return http.StatusNotFound, ErrCodeNotFound
	case errors.Is(err, domainerrors.ErrConflict):
		return http.StatusConflict, ErrCodeConflict
	case errors.Is(err, domainerrors.ErrInvalidInput):
		return http.StatusBadRequest, ErrCodeInvalidRequest
	case errors.Is(err, domainerrors.ErrUnauthorized):
		return http.StatusUnauthorized, ErrCodeUnauthorized
	case errors.Is(err, domainerrors.ErrForbidden):
		return http.StatusForbidden, ErrCodeForbidden
	default:
		return http.StatusInternalServerError, ErrCodeInternalError
	}
}

// parseIDParam parses a UUID path parameter
func parseIDParam(c *gin.Context, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param(name))
	if err != nil {
		respondError(c, http.StatusBadRequest, ErrCodeInvalidID, fmt.Sprintf("invalid %s", name), nil)
		return uuid.Nil, false
	}
	return id, true
}

// paginationParams reads limit/offset query parameters with bounds
func paginationParams(c *gin.Context) (limit, offset int) {
	limit = 50
	offset = 0
	if v := c.Query("limit"); v != "" {
		if n, err := parsePositiveInt(v); err == nil && n > 0 && n <= 200 {
			limit = n
		}
	}
	if v := c.Query("offset"); v != "" {
		if n, err := parsePositiveInt(v); err == nil && n >= 0 {
			offset = n
		}
	}
	return limit, offset
}

func parsePositiveInt(s string) (int, error) {
	var n int
	if _, err := fmt.Sscanf(s, "%d", &n); err != nil {
		return 0, err
	}
	return n, nil
}
