package middleware

import "github.com/labstack/echo/v4"

// SecurityHeaders sets response headers for a JSON API serving patient data.
// Responses are never cached.
func SecurityHeaders() echo.MiddlewareFunc {
	headers := map[string]string{
		"X-Content-Type-Options":    "nosniff",
		"X-Frame-Options":           "DENY",
		"Content-Security-Policy":   "default-src 'none'; frame-ancestors 'none'",
		"Strict-Transport-Security": "max-age=31536000; includeSubDomains",
		"Referrer-Policy":           "no-referrer",
		"Cache-Control":             "no-store",
	}
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			h := c.Response().Header()
			for k, v := range headers {
				h.Set(k, v)
			}
			return next(c)
		}
	}
}
