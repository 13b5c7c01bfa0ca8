package middleware

import (
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/maheshrc27/threadpost/pkg/utils"
	"github.com/sirupsen/logrus"
)

type AuthMiddleware struct {
	secretKey  string
	cookieName string
	log        *logrus.Entry
}

func NewAuthMiddleware(secretKey string, log *logrus.Entry) *AuthMiddleware {
	return &AuthMiddleware{secretKey: secretKey, cookieName: "threadpost_token", log: log}
}

// AuthMiddleware accepts a bearer token, falling back to the session cookie.
func (m *AuthMiddleware) AuthMiddleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		tokenString := bearerToken(c.Get(fiber.HeaderAuthorization))
		if tokenString == "" {
			tokenString = c.Cookies(m.cookieName)
		}

		if tokenString == "" {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error": "missing token",
			})
		}
		if m.secretKey == "" {
			return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{
				"error": "api auth is not configured",
			})
		}

		claims, err := utils.ValidateToken(m.secretKey, tokenString)
		if err != nil {
			m.log.WithError(err).Warn("token validation failed")
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error": "invalid or expired token",
			})
		}

		c.Locals("operator", claims.Operator)
		return c.Next()
	}
}

func bearerToken(header string) string {
	const prefix = "bearer "
	if len(header) <= len(prefix) || !strings.EqualFold(header[:len(prefix)], prefix) {
		return ""
	}
	return strings.TrimSpace(header[len(prefix):])
}
