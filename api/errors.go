package api

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"kanban-api/domain"
	"kanban-api/identity"
	"kanban-api/storage"
	"kanban-api/summary"
)

type errorResponse struct {
	Error string `json:"error"`
}

// statusFor maps service errors to HTTP status codes.
func statusFor(err error) int {
	var ie *identity.Error
	switch {
	case err == nil:
		return http.StatusOK
	case errors.As(err, &ie):
		return ie.Code
	case domain.IsValidation(err), errors.Is(err, summary.ErrInvalidCounts):
		return http.StatusBadRequest
	case errors.Is(err, errUnauthorized):
		return http.StatusUnauthorized
	case errors.Is(err, domain.ErrNotFound), errors.Is(err, storage.ErrImageNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrConflict), errors.Is(err, errDuplicateRequest):
		return http.StatusConflict
	case errors.Is(err, domain.ErrFetch), errors.Is(err, domain.ErrCreate), errors.Is(err, domain.ErrUpdate),
		errors.Is(err, domain.ErrDelete), errors.Is(err, domain.ErrReorder):
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}

// messageFor returns the text shown to callers. Internal failures are not
// described.
func messageFor(err error, status int) string {
	var ie *identity.Error
	if errors.As(err, &ie) {
		return ie.Message
	}
	if errors.Is(err, summary.ErrInvalidCounts) {
		return "Invalid task counts provided"
	}
	var se *domain.StoreError
	if errors.As(err, &se) {
		switch {
		case errors.Is(err, domain.ErrNotFound):
			return domain.ErrNotFound.Error()
		case errors.Is(err, domain.ErrConflict):
			return domain.ErrConflict.Error()
		}
		return se.Kind.Error()
	}
	if status >= 500 && status != http.StatusBadGateway {
		return http.StatusText(status)
	}
	return err.Error()
}

// writeError answers with an {error} body and records the failure on the
// request metrics.
func writeError(c echo.Context, stage string, err error) error {
	status := statusFor(err)
	return writeErrorStatus(c, stage, status, err)
}

func writeErrorStatus(c echo.Context, stage string, status int, err error) error {
	metricsFrom(c).Fail(stage, err)
	if status >= 500 {
		c.Logger().Error(err)
	}
	return c.JSON(status, errorResponse{Error: messageFor(err, status)})
}
