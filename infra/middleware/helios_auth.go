package middleware

import (
	"fmt"
	"strings"

	"helios_server/pkg/apperr"

	"github.com/gofiber/fiber/v2"
	"github.com/golang-jwt/jwt/v5"
)

// JWTAuth validates a bearer JWT when a secret is configured. With an empty
// secret the middleware is a pass-through; the surrounding infrastructure
// handles authentication in that deployment shape.
func JWTAuth(secret string) fiber.Handler {
	return func(c *fiber.Ctx) error {
		if secret == "" {
			return c.Next()
		}

		header := c.Get("Authorization")
		if !strings.HasPrefix(header, "Bearer ") {
			return apperr.Unauthorized("missing bearer token")
		}
		tokenString := strings.TrimPrefix(header, "Bearer ")

		token, err := jwt.Parse(tokenString, func(t *jwt.Token) (interface{}, error) {
			if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
			}
			return []byte(secret), nil
		}, jwt.WithValidMethods([]string{"HS256"}))
		if err != nil || !token.Valid {
			return apperr.Unauthorized("invalid token")
		}

		if claims, ok := token.Claims.(jwt.MapClaims); ok {
			if sub, _ := claims["sub"].(string); sub != "" {
				c.Locals("user_id", sub)
			}
		}

		return c.Next()
	}
}

// AdminGate guards admin-only actions with a shared token header.
func AdminGate(adminToken string) fiber.Handler {
	return func(c *fiber.Ctx) error {
		if adminToken == "" {
			return apperr.ConfigError("admin token not configured")
		}
		if c.Get("X-Helios-Admin-Token") != adminToken {
			return apperr.Forbidden("admin token required")
		}
		return c.Next()
	}
}
