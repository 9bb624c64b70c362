package api

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"
	log "github.com/sirupsen/logrus"

	"tasklane/attachments"
	"tasklane/domain"
)

type errorResponse struct {
	Error string `json:"error"`
	Field string `json:"field,omitempty"`
}

func statusFor(err error) int {
	var httpErr *echo.HTTPError
	switch {
	case errors.As(err, &httpErr):
		return httpErr.Code
	case errors.Is(err, domain.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrNotFound), errors.Is(err, attachments.ErrInvalidRef):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrAccessDenied):
		return http.StatusForbidden
	case errors.Is(err, domain.ErrConflict):
		return http.StatusConflict
	}
	return http.StatusInternalServerError
}

// writeError renders err with the status its kind maps to. Internal errors
// are logged and hidden from the caller.
func writeError(c echo.Context, logger *log.Logger, err error) error {
	status := statusFor(err)
	resp := errorResponse{Error: err.Error()}
	var ve *domain.ValidationError
	if errors.As(err, &ve) {
		resp.Field = ve.Field
	}
	var httpErr *echo.HTTPError
	if errors.As(err, &httpErr) {
		if msg, ok := httpErr.Message.(string); ok {
			resp.Error = msg
		}
	}
	if status == http.StatusInternalServerError {
		logger.WithError(err).WithField("path", c.Path()).Error("request failed")
		resp.Error = http.StatusText(status)
	}
	return c.JSON(status, resp)
}
