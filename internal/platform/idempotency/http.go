package idempotency

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"
)

const (
	HeaderKey       = "Idempotency-Key"
	HeaderKeyLegacy = "X-Idempotency-Key"
	HeaderReplayed  = "X-Idempotency-Replayed"
)

// KeyFromRequest reads the idempotency key from the standard or legacy header.
func KeyFromRequest(c echo.Context) string {
	if key := c.Request().Header.Get(HeaderKey); key != "" {
		return key
	}
	return c.Request().Header.Get(HeaderKeyLegacy)
}

// Respond writes a guarded result, marking replays.
func Respond(c echo.Context, res *Result) error {
	if res.Replayed {
		c.Response().Header().Set(HeaderReplayed, "true")
	}
	return c.JSONBlob(res.StatusCode, res.Body)
}

// HTTPError maps guard errors to HTTP errors and reports whether err was one.
func HTTPError(err error) (*echo.HTTPError, bool) {
	switch {
	case errors.Is(err, ErrConflict):
		return echo.NewHTTPError(http.StatusConflict, map[string]string{
			"code":    "idempotency_key_reused",
			"message": err.Error(),
		}), true
	case errors.Is(err, ErrInvalidKey):
		return echo.NewHTTPError(http.StatusBadRequest, map[string]string{
			"code":    "invalid_idempotency_key",
			"message": err.Error(),
		}), true
	}
	return nil, false
}
