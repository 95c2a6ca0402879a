package handler

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/boxoffice/internal/middleware"
	"github.com/iliyamo/boxoffice/internal/model"
	"github.com/iliyamo/boxoffice/internal/service"
)

const requestTimeout = 5 * time.Second

// reqCtx bounds storage work done on behalf of a request.
func reqCtx(c echo.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(c.Request().Context(), requestTimeout)
}

// getUserID returns the authenticated user id set by JWTAuth.
func getUserID(c echo.Context) (string, error) {
	id := middleware.UserID(c)
	if id == "" {
		return "", errors.New("user id not found in context")
	}
	return id, nil
}

// paging reads ?limit= and ?offset=. limit defaults to 50 and is capped
// at 200.
func paging(c echo.Context) (limit, offset int) {
	limit, offset = 50, 0
	if v, err := strconv.Atoi(c.QueryParam("limit")); err == nil && v > 0 {
		limit = v
	}
	if limit > 200 {
		limit = 200
	}
	if v, err := strconv.Atoi(c.QueryParam("offset")); err == nil && v > 0 {
		offset = v
	}
	return limit, offset
}

// writeError maps domain errors to HTTP responses. Anything unrecognised
// is a 500 with a generic message.
func writeError(c echo.Context, err error) error {
	var unitErr *model.UnitError
	if errors.As(err, &unitErr) {
		status := http.StatusConflict
		if errors.Is(err, model.ErrUnknownUnit) {
			status = http.StatusBadRequest
		}
		return c.JSON(status, echo.Map{"error": unitErr.Err.Error(), "units": unitErr.Units})
	}

	status := http.StatusInternalServerError
	msg := "internal error"
	switch {
	case errors.Is(err, model.ErrNotFound), errors.Is(err, model.ErrUnknownGateway):
		status, msg = http.StatusNotFound, "not found"
	case errors.Is(err, model.ErrForbidden):
		status, msg = http.StatusForbidden, "forbidden"
	case errors.Is(err, model.ErrInvalidUnits), errors.Is(err, model.ErrInvalidInput),
		errors.Is(err, model.ErrInvalidAmount):
		status, msg = http.StatusBadRequest, err.Error()
	case errors.Is(err, model.ErrInsufficientCapacity), errors.Is(err, model.ErrPoolInactive),
		errors.Is(err, model.ErrNotCancellable), errors.Is(err, model.ErrInvalidTransition),
		errors.Is(err, model.ErrEmailExists):
		status, msg = http.StatusConflict, err.Error()
	case errors.Is(err, model.ErrInsufficientFunds), errors.Is(err, model.ErrAmountMismatch),
		errors.Is(err, model.ErrCurrencyMismatch), errors.Is(err, model.ErrHoldNotDue):
		status, msg = http.StatusUnprocessableEntity, err.Error()
	case errors.Is(err, model.ErrInvalidSignature), errors.Is(err, service.ErrInvalidCredentials),
		errors.Is(err, service.ErrInvalidRefresh):
		status, msg = http.StatusUnauthorized, err.Error()
	case errors.Is(err, model.ErrConflict):
		c.Response().Header().Set("Retry-After", "1")
		status, msg = http.StatusServiceUnavailable, "try again"
	case errors.Is(err, context.DeadlineExceeded):
		status, msg = http.StatusGatewayTimeout, "timeout"
	}
	if status == http.StatusInternalServerError {
		c.Logger().Errorf("unhandled error: %v", err)
	}
	return c.JSON(status, echo.Map{"error": msg})
}
