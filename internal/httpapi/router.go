package httpapi

import (
	"github.com/gofiber/fiber/v2"
)

// RouterDeps dependencias para el router.
type RouterDeps struct {
	Handler   *Handler
	JWTSecret string
}

// Router registra las rutas del trigger HTTP.
func Router(app *fiber.App, deps RouterDeps) {
	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok"})
	})

	protected := app.Group("/", AuthMiddleware(deps.JWTSecret))
	protected.Post("/emit", deps.Handler.Emit)
	protected.Get("/lookup/:key", deps.Handler.Lookup)
}
