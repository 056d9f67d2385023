// internal/auth/middleware.go
package auth

import (
	"context"
	"strings"

	"fitpro/internal/apperr"
	"fitpro/internal/models"

	"github.com/labstack/echo/v4"
)

type userKey struct{}

// WithUser stores the authenticated caller in ctx.
func WithUser(ctx context.Context, u *models.User) context.Context {
	return context.WithValue(ctx, userKey{}, u)
}

// UserFrom returns the caller stored by RequireAuth.
func UserFrom(ctx context.Context) (*models.User, bool) {
	if ctx == nil {
		return nil, false
	}
	u, ok := ctx.Value(userKey{}).(*models.User)
	return u, ok && u != nil
}

// RequireAuth verifies the bearer token and loads the caller from the
// database. The token query parameter is accepted for websocket upgrades.
func (s *Service) RequireAuth() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			tok := extractToken(c)
			if tok == "" {
				return apperr.Auth("missing token")
			}
			u, err := s.Authenticate(c.Request().Context(), tok)
			if err != nil {
				return err
			}
			c.SetRequest(c.Request().WithContext(WithUser(c.Request().Context(), u)))
			c.Set("user_id", u.ID.String())
			return next(c)
		}
	}
}

// RequireRole must run after RequireAuth.
func RequireRole(roles ...models.Role) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			u, ok := UserFrom(c.Request().Context())
			if !ok {
				return apperr.Auth("unauthorized")
			}
			for _, r := range roles {
				if u.Role == r {
					return next(c)
				}
			}
			return apperr.Forbidden("insufficient role")
		}
	}
}

func extractToken(c echo.Context) string {
	if h := c.Request().Header.Get(echo.HeaderAuthorization); len(h) > 7 && strings.EqualFold(h[:7], "Bearer ") {
		return strings.TrimSpace(h[7:])
	}
	if websocketUpgrade(c) {
		return c.QueryParam("token")
	}
	return ""
}

func websocketUpgrade(c echo.Context) bool {
	return strings.EqualFold(c.Request().Header.Get(echo.HeaderUpgrade), "websocket")
}
