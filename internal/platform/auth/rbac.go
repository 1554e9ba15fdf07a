package auth

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/clinicdesk/clinicdesk/pkg/caseflow"
)

// RequireCapability rejects requests whose authenticated role lacks the
// given capability. Must run after JWTMiddleware.
func RequireCapability(cap caseflow.Capability) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			role := RoleFromContext(c.Request().Context())
			if !role.Capabilities().Has(cap) {
				return echo.NewHTTPError(http.StatusForbidden, "insufficient role")
			}
			return next(c)
		}
	}
}
