// Package httpapi is the thin Fiber trigger spec.md places out of scope as a
// "collaborator" — it decodes a request, calls into internal/sri/pipeline,
// and serializes the result. It carries no business logic of its own,
// grounded on the teacher's internal/interfaces/http (router.go,
// auth_middleware.go, invoice_handler.go).
package httpapi

import (
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/sriemisor/core/pkg/jwt"
)

const localClientID = "client_id"

// AuthMiddleware valida el Bearer Token JWT y expone el clientID en c.Locals.
func AuthMiddleware(jwtSecret string) fiber.Handler {
	return func(c *fiber.Ctx) error {
		authHeader := c.Get("Authorization")
		if authHeader == "" {
			return c.Status(fiber.StatusUnauthorized).JSON(ErrorResponse{Code: "MISSING_TOKEN", Message: "Authorization header requerido"})
		}
		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
			return c.Status(fiber.StatusUnauthorized).JSON(ErrorResponse{Code: "INVALID_TOKEN", Message: "formato: Bearer <token>"})
		}
		tokenString := strings.TrimSpace(parts[1])
		if tokenString == "" {
			return c.Status(fiber.StatusUnauthorized).JSON(ErrorResponse{Code: "MISSING_TOKEN", Message: "token vacío"})
		}
		clientID, err := jwt.Parse(jwtSecret, tokenString)
		if err != nil {
			return c.Status(fiber.StatusUnauthorized).JSON(ErrorResponse{Code: "INVALID_TOKEN", Message: "token inválido o expirado"})
		}
		c.Locals(localClientID, clientID)
		return c.Next()
	}
}

// ErrorResponse es el cuerpo JSON uniforme para respuestas de error.
type ErrorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}
