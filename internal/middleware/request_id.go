package middleware

import (
	"time"

	"github.com/gofiber/fiber/v2"

	contextPkg "github.com/yashindibhagya/GestureConnect/pkg/context"
	"github.com/yashindibhagya/GestureConnect/pkg/utils"
)

const (
	RequestIDKey = "X-Request-ID"

	maxRequestIDLength = 128
)

// NewRequestIDMiddleware keeps a caller's X-Request-ID when it is usable and
// otherwise assigns a ULID. The id is echoed back, stored in Locals and
// carried on the user context.
func NewRequestIDMiddleware() fiber.Handler {
	utilsInstance := utils.New()

	return func(c *fiber.Ctx) error {
		requestID := c.Get(RequestIDKey)

		if !validRequestID(requestID) {
			requestID, _ = utilsInstance.NewULIDFromTimestamp(time.Now())
		}

		c.Locals(RequestIDKey, requestID)
		c.Set(RequestIDKey, requestID)
		c.SetUserContext(contextPkg.WithRequestID(c.UserContext(), requestID))

		return c.Next()
	}
}

// validRequestID accepts short, visible ASCII ids so they are safe to log and
// echo in a header.
func validRequestID(id string) bool {
	if id == "" || len(id) > maxRequestIDLength {
		return false
	}
	for i := 0; i < len(id); i++ {
		if id[i] <= ' ' || id[i] > '~' {
			return false
		}
	}
	return true
}
