package middleware

import "github.com/labstack/echo/v4"

// UserID returns the authenticated subject, or "" for anonymous requests.
func UserID(c echo.Context) string {
	s, _ := c.Get(UserIDKey).(string)
	return s
}

// Role returns the authenticated role, or "".
func Role(c echo.Context) string {
	s, _ := c.Get(RoleKey).(string)
	return s
}

// identity is the rate limit key fragment for the caller.
func identity(c echo.Context) string {
	if id := UserID(c); id != "" {
		return id
	}
	return "anon"
}
