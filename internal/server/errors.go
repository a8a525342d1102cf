package server

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/vyrodovalexey/trafficgw/internal/gateway"
	"github.com/vyrodovalexey/trafficgw/internal/util"
)

// errorResponse is the JSON body of every error the server writes.
type errorResponse struct {
	Error     string            `json:"error"`
	Message   string            `json:"message,omitempty"`
	Fields    map[string]string `json:"fields,omitempty"`
	RequestID string            `json:"requestId,omitempty"`
}

// statusForError maps gateway errors to HTTP status codes.
func statusForError(err error) int {
	var (
		rateErr    *util.RateLimitError
		routeErr   *util.RouteNotFoundError
		noBackend  *util.NoHealthyBackendError
		backendErr *util.BackendError
	)

	switch {
	case errors.Is(err, gateway.ErrBodyTooLarge):
		return http.StatusRequestEntityTooLarge
	case errors.As(err, &rateErr):
		return http.StatusTooManyRequests
	case errors.As(err, &routeErr), errors.Is(err, util.ErrNotFound):
		return http.StatusNotFound
	case errors.As(err, &noBackend):
		return http.StatusServiceUnavailable
	case errors.As(err, &backendErr):
		if errors.Is(err, util.ErrTimeout) {
			return http.StatusGatewayTimeout
		}
		return http.StatusBadGateway
	case errors.Is(err, util.ErrConfigInvalid), errors.Is(err, util.ErrInvalidInput):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

// writeError writes err as a JSON error response and aborts the chain.
func writeError(c *gin.Context, err error) {
	status := statusForError(err)

	var rateErr *util.RateLimitError
	if errors.As(err, &rateErr) {
		for name, values := range gateway.RateLimitHeaders(rateErr) {
			for _, v := range values {
				c.Writer.Header().Add(name, v)
			}
		}
	}

	body := errorResponse{
		Error:     http.StatusText(status),
		Message:   err.Error(),
		RequestID: c.GetHeader(gateway.HeaderRequestID),
	}
	var validationErr *util.ValidationError
	if errors.As(err, &validationErr) {
		body.Fields = validationErr.Fields
	}
	if status == http.StatusInternalServerError {
		// unexpected errors stay in the logs
		body.Message = ""
	}

	c.AbortWithStatusJSON(status, body)
}
