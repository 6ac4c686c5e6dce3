package httpapi

import (
	"errors"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"carestream.org/internal/desk"
	"carestream.org/internal/identity"
)

const (
	authHeader = "Authorization"
	bearer     = "Bearer "

	ctxDesk   = "desk"
	ctxClaims = "claims"
)

// authenticate verifies the bearer token and signs a request-scoped desk in as
// its subject. The desk is signed out when the request ends.
func (a *API) authenticate(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		token, err := extractBearerToken(c.Request().Header.Get(authHeader))
		if err != nil {
			return echo.NewHTTPError(http.StatusUnauthorized, err.Error())
		}
		claims, err := a.verify(token)
		if err != nil {
			return err
		}
		d := desk.New(a.deps)
		if _, err := d.SignIn(c.Request().Context(), claims.Subject); err != nil {
			return err
		}
		defer d.SignOut()
		c.Set(ctxDesk, d)
		c.Set(ctxClaims, claims)
		return next(c)
	}
}

func (a *API) verify(token string) (*identity.Claims, error) {
	if a.verifier == nil {
		return nil, echo.NewHTTPError(http.StatusServiceUnavailable, "identity verification is not configured")
	}
	return a.verifier.Verify(token)
}

func deskFrom(c echo.Context) *desk.Desk {
	d, _ := c.Get(ctxDesk).(*desk.Desk)
	return d
}

func claimsFrom(c echo.Context) *identity.Claims {
	cl, _ := c.Get(ctxClaims).(*identity.Claims)
	return cl
}

func extractBearerToken(header string) (string, error) {
	header = strings.TrimSpace(header)
	if header == "" {
		return "", errors.New("missing bearer token")
	}
	if !strings.HasPrefix(strings.ToLower(header), strings.ToLower(bearer)) {
		return "", errors.New("invalid authorization scheme")
	}
	token := strings.TrimSpace(header[len(bearer):])
	if token == "" {
		return "", errors.New("missing bearer token")
	}
	return token, nil
}
