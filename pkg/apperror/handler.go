package apperror

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/labstack/echo/v4"
)

// echoCodes names the framework's own errors (routing, binding, limits).
var echoCodes = map[int]string{
	http.StatusBadRequest:            "bad_request",
	http.StatusNotFound:              "not_found",
	http.StatusMethodNotAllowed:      "method_not_allowed",
	http.StatusRequestEntityTooLarge: "payload_too_large",
	http.StatusUnsupportedMediaType:  "unsupported_media_type",
	http.StatusTooManyRequests:       "rate_limited",
}

// HTTPErrorHandler returns an Echo error handler that renders every error as
// {"error": {"code": ..., "message": ...}}. Server errors are logged with
// the request id; client errors are not.
func HTTPErrorHandler(log *slog.Logger) echo.HTTPErrorHandler {
	return func(err error, c echo.Context) {
		if c.Response().Committed {
			return
		}

		status, body := resolve(err)
		if status >= http.StatusInternalServerError {
			log.Error("request error",
				slog.Int("status", status),
				slog.String("method", c.Request().Method),
				slog.String("path", c.Path()),
				slog.String("request_id", c.Response().Header().Get(echo.HeaderXRequestID)),
				slog.String("error", err.Error()),
			)
		}

		if c.Request().Method == http.MethodHead {
			_ = c.NoContent(status)
			return
		}
		_ = c.JSON(status, map[string]any{"error": body})
	}
}

// resolve maps err to a status and error body. Anything that is neither an
// *Error nor an *echo.HTTPError is an opaque internal_error.
func resolve(err error) (int, map[string]any) {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr.HTTPStatus, appErr.body()
	}

	var he *echo.HTTPError
	if !errors.As(err, &he) {
		return ErrInternal.HTTPStatus, ErrInternal.body()
	}

	body := map[string]any{
		"code":    ErrInternal.Code,
		"message": http.StatusText(he.Code),
	}
	if code, ok := echoCodes[he.Code]; ok {
		body["code"] = code
	}

	switch msg := he.Message.(type) {
	case string:
		body["message"] = msg
	case map[string]any:
		// Produced by Error.ToEchoError
		if inner, ok := msg["error"].(map[string]any); ok {
			for k, v := range inner {
				body[k] = v
			}
		}
	}
	return he.Code, body
}
