package middleware

import (
	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
)

// maxRequestIDLength caps an inbound X-Request-ID so a client cannot bloat
// every log line.
const maxRequestIDLength = 64

// RequestID returns middleware that tags each request with an id, echoed in
// the X-Request-ID response header. A well-formed inbound id from an
// upstream proxy is kept; otherwise a random UUID is generated.
func RequestID() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			id := c.Request().Header.Get(echo.HeaderXRequestID)
			if id == "" || len(id) > maxRequestIDLength {
				id = uuid.NewString()
			}
			c.Response().Header().Set(echo.HeaderXRequestID, id)
			return next(c)
		}
	}
}
