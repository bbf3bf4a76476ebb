package middlewares

import (
	"net/http"
	"strings"

	echojwt "github.com/labstack/echo-jwt/v4"
	"github.com/labstack/echo/v4"
	"github.com/wgui/wgui/internal/model"
	"github.com/wgui/wgui/internal/server/session"
)

const (
	// CurrentUserContextKey is the key to retrieve the current_user from echo.Context.
	CurrentUserContextKey = "current_user"

	jwtContextKey = "token"
)

// Session returns an auth middleware validating the Bearer JWT and storing
// current_user into echo.Context.
func Session(m session.Manager) echo.MiddlewareFunc {
	jwt := echojwt.WithConfig(echojwt.Config{
		SigningKey: m.SigningKey(),
		ContextKey: jwtContextKey,
	})

	fake := func(echo.Context) error {
		return nil
	}

	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) (err error) {
			authorization := c.Request().Header.Get(echo.HeaderAuthorization)

			if token(authorization) == "" {
				return c.JSON(http.StatusUnauthorized, echo.Map{
					"error": echo.Map{
						"tag":     "invalid-auth",
						"message": "Invalid login credentials.",
					},
				})
			}

			err = jwt(fake)(c) // Check JWT validity according its claims.
			if err != nil {
				return c.JSON(http.StatusUnauthorized, echo.Map{
					"error": echo.Map{
						"tag":     "invalid-auth",
						"message": "Invalid login credentials.",
					},
				})
			}

			user, err := m.UserFromToken(c.Get(jwtContextKey))
			if err != nil {
				return err
			}

			// Store current_user for handlers.
			c.Set(CurrentUserContextKey, user)
			return next(c)
		}
	}
}

// Admin returns a middleware restricting the route to administrators.
// It must run after Session.
func Admin() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			user, ok := c.Get(CurrentUserContextKey).(*model.User)
			if !ok || !user.Admin {
				return c.JSON(http.StatusForbidden, echo.Map{
					"error": echo.Map{
						"tag":     "forbidden",
						"message": "Administrator privileges required.",
					},
				})
			}
			return next(c)
		}
	}
}

func token(authorization string) string {
	parts := strings.Split(authorization, " ")
	if strings.ToLower(parts[0]) != "bearer" {
		return ""
	}

	if len(parts) < 2 {
		return ""
	}
	return parts[1]
}
