package httpapi

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/sriemisor/core/internal/sri/model"
)

// EmitRequest es el cuerpo JSON de POST /emit: los campos propios de la venta,
// sin la identidad del emisor (que viene de la configuración del proceso, no
// del caller, porque el servidor factura en nombre de un único contribuyente).
type EmitRequest struct {
	Secuencial    string            `json:"secuencial"`
	FechaEmision  time.Time         `json:"fechaEmision"`
	Buyer         BuyerDTO          `json:"comprador"`
	Items         []ItemDTO         `json:"items"`
	Payments      []PaymentDTO      `json:"formasPago"`
	Propina       decimal.Decimal   `json:"propina"`
	InfoAdicional map[string]string `json:"infoAdicional"`
}

type BuyerDTO struct {
	TipoIdentificacion string `json:"tipoIdentificacion"`
	Identificacion     string `json:"identificacion"`
	RazonSocial        string `json:"razonSocial"`
	Direccion          string `json:"direccion"`
	Email              string `json:"email"`
	Telefono           string `json:"telefono"`
}

// Tarifa va como puntero: ausente en el JSON significa "derivar de
// codigoPorcentaje"; presente (incluso 0.00) significa un valor explícito.
type TaxDTO struct {
	Codigo           string           `json:"codigo"`
	CodigoPorcentaje string           `json:"codigoPorcentaje"`
	Tarifa           *decimal.Decimal `json:"tarifa,omitempty"`
	BaseImponible    decimal.Decimal  `json:"baseImponible"`
	Valor            decimal.Decimal  `json:"valor"`
}

type ItemDTO struct {
	CodigoPrincipal        string          `json:"codigoPrincipal"`
	Descripcion            string          `json:"descripcion"`
	Cantidad               decimal.Decimal `json:"cantidad"`
	PrecioUnitario         decimal.Decimal `json:"precioUnitario"`
	Descuento              decimal.Decimal `json:"descuento"`
	PrecioTotalSinImpuesto decimal.Decimal `json:"precioTotalSinImpuesto"`
	Impuestos              []TaxDTO        `json:"impuestos"`
}

type PaymentDTO struct {
	FormaPago    string          `json:"formaPago"`
	Total        decimal.Decimal `json:"total"`
	Plazo        string          `json:"plazo"`
	UnidadTiempo string          `json:"unidadTiempo"`
}

// ToInvoiceRecord proyecta el cuerpo de la petición al InvoiceRecord que
// consume el pipeline, completando Ambiente/Emitter desde la configuración
// del proceso.
func (r EmitRequest) ToInvoiceRecord(ambiente model.Ambiente, emitter model.Emitter) model.InvoiceRecord {
	items := make([]model.Item, 0, len(r.Items))
	for _, it := range r.Items {
		taxes := make([]model.Tax, 0, len(it.Impuestos))
		for _, tx := range it.Impuestos {
			taxes = append(taxes, model.Tax{
				Codigo: tx.Codigo, CodigoPorcentaje: tx.CodigoPorcentaje,
				Tarifa: tx.Tarifa, BaseImponible: tx.BaseImponible, Valor: tx.Valor,
			})
		}
		items = append(items, model.Item{
			CodigoPrincipal: it.CodigoPrincipal, Descripcion: it.Descripcion,
			Cantidad: it.Cantidad, PrecioUnitario: it.PrecioUnitario, Descuento: it.Descuento,
			PrecioTotalSinImpuesto: it.PrecioTotalSinImpuesto, Impuestos: taxes,
		})
	}
	payments := make([]model.Payment, 0, len(r.Payments))
	for _, p := range r.Payments {
		payments = append(payments, model.Payment{
			FormaPago: p.FormaPago, Total: p.Total, Plazo: p.Plazo, UnidadTiempo: p.UnidadTiempo,
		})
	}
	return model.InvoiceRecord{
		Ambiente:     ambiente,
		TipoEmision:  model.TipoEmisionNormal,
		Emitter:      emitter,
		Secuencial:   r.Secuencial,
		FechaEmision: r.FechaEmision,
		Buyer: model.Buyer{
			TipoIdentificacion: model.TipoIdentificacion(r.Buyer.TipoIdentificacion),
			Identificacion:     r.Buyer.Identificacion,
			RazonSocial:        r.Buyer.RazonSocial,
			Direccion:          r.Buyer.Direccion,
			Email:              r.Buyer.Email,
			Telefono:           r.Buyer.Telefono,
		},
		Items:         items,
		Payments:      payments,
		Propina:       r.Propina,
		InfoAdicional: r.InfoAdicional,
	}
}

// EmitResponse es lo que POST /emit devuelve: la clave de acceso asignada
// siempre, y el resultado terminal cuando el pipeline llegó a correrlo.
type EmitResponse struct {
	AccessKey string `json:"claveAcceso"`
	Success   bool   `json:"success"`
	State     string `json:"estado"`
}

// LookupResponse es lo que GET /lookup/:key devuelve.
type LookupResponse struct {
	Estado              string `json:"estado"`
	AuthorizationNumber string `json:"numeroAutorizacion,omitempty"`
}
