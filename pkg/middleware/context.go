package middleware

import (
	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/Ramsey-B/fern/pkg/requestcontext"
)

// HeaderActor identifies the admin console user performing the request
const HeaderActor = "X-Actor"

func Context() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) (err error) {
			req := c.Request()

			requestID := req.Header.Get(echo.HeaderXRequestID)
			if requestID == "" {
				requestID = uuid.New().String()
			}

			actor := req.Header.Get(HeaderActor)

			ctx := req.Context()
			ctx = requestcontext.SetRequestID(ctx, requestID)
			ctx = requestcontext.SetActor(ctx, actor)

			c.SetRequest(req.WithContext(ctx))

			return next(c)
		}
	}
}
