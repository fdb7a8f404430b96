package transport

import (
	"strings"

	"github.com/cartlane/notification-engine/internal/observability"
	"github.com/cartlane/notification-engine/internal/realtime"
	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
)

const localUserID = "userID"

// RequestID accepts a caller-supplied X-Request-Id or mints one, echoes it on
// the response, and threads it through the request context so downstream log
// lines correlate.
func RequestID() fiber.Handler {
	return func(c *fiber.Ctx) error {
		requestID := strings.TrimSpace(c.Get(fiber.HeaderXRequestID))
		if requestID == "" {
			requestID = uuid.NewString()
		}

		c.Set(fiber.HeaderXRequestID, requestID)
		c.SetUserContext(observability.WithRequestID(c.UserContext(), requestID))
		return c.Next()
	}
}

// RequireAuth verifies the bearer credential on ordinary API requests and
// stashes the authenticated user id in locals. Connection-attempt rate
// limiting applies only to the realtime handshakes, not here.
func RequireAuth(auth *realtime.Authenticator) fiber.Handler {
	return func(c *fiber.Ctx) error {
		identity, err := auth.Verify(c.Context(), bearerToken(c))
		if err != nil {
			return toHTTPError(err)
		}

		c.Locals(localUserID, identity.UserID)
		return c.Next()
	}
}

func authenticatedUserID(c *fiber.Ctx) string {
	if userID, ok := c.Locals(localUserID).(string); ok {
		return userID
	}
	return ""
}

// bearerToken extracts the credential from the Authorization header, falling
// back to the token query parameter for transports that cannot set headers
// (EventSource, browser websockets).
func bearerToken(c *fiber.Ctx) string {
	header := strings.TrimSpace(c.Get(fiber.HeaderAuthorization))
	if header != "" {
		if token, found := strings.CutPrefix(header, "Bearer "); found {
			return strings.TrimSpace(token)
		}
		return header
	}

	return strings.TrimSpace(c.Query("token"))
}
