package httpapi

import (
	"github.com/gofiber/fiber/v2"

	"github.com/sriemisor/core/internal/sri/model"
	"github.com/sriemisor/core/internal/sri/pipeline"
	"github.com/sriemisor/core/internal/sri/srierr"
)

// Handler maneja las peticiones HTTP de emisión y consulta, delegando todo
// el trabajo real a un *pipeline.Pipeline ya configurado.
type Handler struct {
	pipeline *pipeline.Pipeline
	ambiente model.Ambiente
	emitter  model.Emitter
}

// NewHandler construye el handler.
func NewHandler(p *pipeline.Pipeline, ambiente model.Ambiente, emitter model.Emitter) *Handler {
	return &Handler{pipeline: p, ambiente: ambiente, emitter: emitter}
}

// Emit ejecuta el ciclo completo de emisión para una venta.
// POST /emit
func (h *Handler) Emit(c *fiber.Ctx) error {
	var req EmitRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(ErrorResponse{Code: "INVALID_BODY", Message: "cuerpo inválido"})
	}

	inv := req.ToInvoiceRecord(h.ambiente, h.emitter)
	result, err := h.pipeline.Run(c.Context(), inv)
	if err != nil {
		return h.mapError(c, err, result)
	}

	resp := EmitResponse{AccessKey: string(result.AccessKey)}
	if result.Final != nil {
		resp.Success = result.Final.Success
		resp.State = result.Final.State
	}
	return c.Status(fiber.StatusCreated).JSON(resp)
}

// Lookup consulta el estado de autorización de una clave de acceso ya emitida.
// GET /lookup/:key
func (h *Handler) Lookup(c *fiber.Ctx) error {
	key := c.Params("key")
	if key == "" {
		return c.Status(fiber.StatusBadRequest).JSON(ErrorResponse{Code: "VALIDATION", Message: "clave de acceso requerida"})
	}
	rec, err := h.pipeline.Lookup(c.Context(), key)
	if err != nil {
		return h.mapError(c, err, nil)
	}
	return c.JSON(LookupResponse{Estado: rec.Estado, AuthorizationNumber: rec.AuthorizationNumber})
}

func (h *Handler) mapError(c *fiber.Ctx, err error, result *pipeline.Result) error {
	body := ErrorResponse{Code: "INTERNAL", Message: err.Error()}
	status := fiber.StatusInternalServerError

	if serr, ok := err.(*srierr.Error); ok {
		body.Code = string(serr.Kind)
		switch serr.Kind {
		case srierr.InvalidInput, srierr.SchemaViolation:
			status = fiber.StatusBadRequest
		case srierr.InvalidCredential:
			status = fiber.StatusUnauthorized
		case srierr.TransportError, srierr.TemporalSriError, srierr.SriProtocolError:
			status = fiber.StatusBadGateway
		}
	}
	if result != nil {
		return c.Status(status).JSON(fiber.Map{"error": body, "claveAcceso": string(result.AccessKey)})
	}
	return c.Status(status).JSON(body)
}
