package httpapi

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"carestream.org/internal/authz"
	"carestream.org/internal/desk"
	"carestream.org/internal/docstore"
	"carestream.org/internal/identity"
	"carestream.org/internal/lifecycle"
	"carestream.org/internal/linkage"
	"carestream.org/internal/session"
	"carestream.org/internal/subscription"
)

// statusFor maps core errors onto HTTP status codes.
func statusFor(err error) int {
	var he *echo.HTTPError
	switch {
	case err == nil:
		return http.StatusOK
	case errors.As(err, &he):
		return he.Code
	case errors.Is(err, authz.ErrNotPermitted):
		return http.StatusForbidden
	case errors.Is(err, linkage.ErrInvalid),
		errors.Is(err, lifecycle.ErrUnknownTransition),
		errors.Is(err, subscription.ErrInvalidSpec),
		errors.Is(err, docstore.ErrInvalidQuery):
		return http.StatusBadRequest
	case errors.Is(err, docstore.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, desk.ErrAlreadyRegistered):
		return http.StatusConflict
	case errors.Is(err, session.ErrSignedOut), errors.Is(err, identity.ErrInvalidToken):
		return http.StatusUnauthorized
	case errors.Is(err, docstore.ErrRejected):
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}

type errorBody struct {
	Error     string `json:"error"`
	RequestID string `json:"requestId,omitempty"`
}

// errorHandler renders every error as {"error": ...}. Internal failures do
// not leak their message.
func errorHandler(err error, c echo.Context) {
	if c.Response().Committed {
		return
	}
	code := statusFor(err)
	msg := err.Error()
	var he *echo.HTTPError
	if errors.As(err, &he) {
		if s, ok := he.Message.(string); ok {
			msg = s
		} else {
			msg = http.StatusText(he.Code)
		}
	}
	if code == http.StatusInternalServerError {
		msg = "internal error"
	}
	rid, _ := c.Get("request_id").(string)
	if c.Request().Method == http.MethodHead {
		_ = c.NoContent(code)
		return
	}
	_ = c.JSON(code, errorBody{Error: msg, RequestID: rid})
}
