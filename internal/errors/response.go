package errors

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// APIError is the JSON body of every non-2xx response.
type APIError struct {
	Error   string         `json:"error"`
	Kind    Kind           `json:"kind,omitempty"`
	Details map[string]any `json:"details,omitempty"`
}

// NewAPIError creates a new APIError with the given message and optional details.
func NewAPIError(message string, details map[string]any) *APIError {
	return &APIError{
		Error:   message,
		Details: details,
	}
}

// AbortWithBadRequest sends a 400 Bad Request response and aborts the request.
func AbortWithBadRequest(c *gin.Context, message string, details map[string]any) {
	c.AbortWithStatusJSON(http.StatusBadRequest, NewAPIError(message, details))
}

// AbortWithUnauthorized sends a 401 Unauthorized response and aborts the request.
func AbortWithUnauthorized(c *gin.Context, message string, details map[string]any) {
	c.AbortWithStatusJSON(http.StatusUnauthorized, NewAPIError(message, details))
}

// AbortWithSessionNotOwned sends a 403 when a token is presented for another session.
func AbortWithSessionNotOwned(c *gin.Context, sessionID string) {
	c.AbortWithStatusJSON(http.StatusForbidden, NewAPIError(
		"Forbidden: token does not belong to this session",
		map[string]any{"session_id": sessionID},
	))
}

// AbortWithNotFound sends a 404 Not Found response and aborts the request.
func AbortWithNotFound(c *gin.Context, message string, details map[string]any) {
	c.AbortWithStatusJSON(http.StatusNotFound, NewAPIError(message, details))
}

// AbortWithInternal sends a 500 Internal Server Error response and aborts the request.
func AbortWithInternal(c *gin.Context, message string, details map[string]any) {
	c.AbortWithStatusJSON(http.StatusInternalServerError, NewAPIError(message, details))
}

// StatusFor maps an error kind to the HTTP status the API answers with.
func StatusFor(kind Kind) int {
	switch kind {
	case KindPrecondition:
		return http.StatusConflict
	case KindInvalidInput:
		return http.StatusBadRequest
	case KindNotFound:
		return http.StatusNotFound
	case KindUnauthorized:
		return http.StatusUnauthorized
	case KindTimeout:
		return http.StatusGatewayTimeout
	case KindSessionCreation, KindResultFetch, KindHistoryLoad, KindTransient:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// Respond aborts the request with the status and body derived from err.
func Respond(c *gin.Context, err error) {
	kind := KindOf(err)
	body := NewAPIError(err.Error(), nil)
	body.Kind = kind
	c.AbortWithStatusJSON(StatusFor(kind), body)
}
