package middleware

import (
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	jsoniter "github.com/json-iterator/go"

	"github.com/yashindibhagya/GestureConnect/pkg/log"
)

// maxLoggedBody keeps keypoint arrays and base64 frames out of the access log.
const maxLoggedBody = 512

func (m *middleware) NewLoggingMiddleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		start := time.Now()

		requestID, ok := c.Locals(RequestIDKey).(string)
		if !ok || requestID == "" {
			requestID = "unknown"
		}

		c.Locals(log.RequestIDKey, requestID)

		err := c.Next()

		// Upgraded websocket connections are logged by the stream handler.
		if c.Response().StatusCode() == fiber.StatusSwitchingProtocols {
			return err
		}

		latency := time.Since(start)
		status := c.Response().StatusCode()
		if err != nil {
			if fe, ok := err.(*fiber.Error); ok {
				status = fe.Code
			} else {
				status = fiber.StatusInternalServerError
			}
		}

		logFields := log.Fields{
			"request_id":    requestID,
			"method":        c.Method(),
			"path":          c.Path(),
			"status":        status,
			"latency_ms":    latency.Milliseconds(),
			"ip":            c.IP(),
			"session_id":    c.Get("X-Session-ID"),
			"user_agent":    c.Get("User-Agent"),
			"response_size": len(c.Response().Body()),
		}

		if body := c.Request().Body(); len(body) > 0 {
			logFields["request_body"] = summarizeRequestBody(string(c.Request().Header.ContentType()), body)
		}

		if status >= 500 {
			m.log.WithFields(logFields).Error("Server error")
		} else if status >= 400 {
			m.log.WithFields(logFields).Warn("Client error")
		} else {
			m.log.WithFields(logFields).Info("Success")
		}

		return err
	}
}

func summarizeRequestBody(contentType string, body []byte) string {
	if !strings.HasPrefix(contentType, fiber.MIMEApplicationJSON) {
		return "[non-JSON body]"
	}
	if !jsoniter.Valid(body) {
		return "[invalid JSON body]"
	}
	if len(body) > maxLoggedBody {
		return string(body[:maxLoggedBody]) + "...[truncated]"
	}
	return string(body)
}
