// Package model contiene el registro normalizado de venta que alimenta el
// pipeline de facturación electrónica SRI: generación de clave de acceso,
// construcción del XML y firma.
package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Ambiente identifica el ambiente SRI (pruebas o producción).
type Ambiente int

const (
	// AmbientePruebas es el ambiente de certificación/pruebas SRI (código "1").
	AmbientePruebas Ambiente = 1
	// AmbienteProduccion es el ambiente de producción SRI (código "2").
	AmbienteProduccion Ambiente = 2
)

// Code devuelve el código numérico de un solo dígito que usa el SRI en XML y clave de acceso.
func (a Ambiente) Code() string {
	if a == AmbienteProduccion {
		return "2"
	}
	return "1"
}

// TipoEmision identifica el tipo de emisión del comprobante.
type TipoEmision int

// TipoEmisionNormal es el único tipo de emisión soportado (offline no aplica en este núcleo).
const TipoEmisionNormal TipoEmision = 1

// Code devuelve el código de un dígito para el XML y la clave de acceso.
func (t TipoEmision) Code() string { return "1" }

// TipoIdentificacion es el tipo de identificación del comprador.
type TipoIdentificacion string

const (
	IdentificacionRUC            TipoIdentificacion = "04"
	IdentificacionCedula         TipoIdentificacion = "05"
	IdentificacionPasaporte      TipoIdentificacion = "06"
	IdentificacionConsumidorFinal TipoIdentificacion = "07"
)

// Emitter es la identidad tributaria del emisor (el contribuyente en cuyo nombre se factura).
type Emitter struct {
	RUC                      string
	RazonSocial              string
	NombreComercial          string
	DirMatriz                string
	DirEstablecimiento       string // si vacía, se usa DirMatriz; error si ambas vacías
	CodigoEstablecimiento    string // 3 dígitos
	PuntoEmision             string // 3 dígitos
	ObligadoContabilidad     bool
}

// Buyer es el comprador del comprobante.
type Buyer struct {
	TipoIdentificacion TipoIdentificacion
	Identificacion     string
	RazonSocial        string
	Direccion          string
	Email              string
	Telefono           string
}

// Tax es un componente de impuesto aplicado a un ítem o al total.
type Tax struct {
	Codigo           string // 2 = IVA
	CodigoPorcentaje string // 0, 2, 3, 8 (0%, 12%, 14%, 15%)
	Tarifa           *decimal.Decimal // nil: se deriva de CodigoPorcentaje; no nil: valor explícito, incluso 0.00
	BaseImponible    decimal.Decimal
	Valor            decimal.Decimal
}

// Item es una línea de detalle de la factura.
type Item struct {
	CodigoPrincipal         string
	Descripcion             string
	Cantidad                decimal.Decimal
	PrecioUnitario          decimal.Decimal
	Descuento               decimal.Decimal
	PrecioTotalSinImpuesto  decimal.Decimal // si es zero, se deriva: cantidad*precio - descuento
	Impuestos               []Tax
}

// Payment es una forma de pago.
type Payment struct {
	FormaPago string // "01" = sin utilización del sistema financiero, etc.
	Total     decimal.Decimal
	Plazo     string
	UnidadTiempo string
}

// TaxTotal es el agregado de impuestos de la factura por (Codigo, CodigoPorcentaje); document.BuildFactura lo calcula siempre desde Items.
type TaxTotal struct {
	Codigo          string
	CodigoPorcentaje string
	BaseImponible   decimal.Decimal
	Valor           decimal.Decimal
}

// InvoiceRecord es el registro normalizado de una venta, listo para generar
// la clave de acceso y el XML de la factura v1.1.0.
type InvoiceRecord struct {
	Ambiente      Ambiente
	TipoEmision   TipoEmision
	Emitter       Emitter
	Secuencial    string // 9 dígitos
	FechaEmision  time.Time // fecha calendario, hora America/Guayaquil (UTC-5)

	Buyer    Buyer
	Items    []Item
	Payments []Payment
	Propina  decimal.Decimal

	// TotalSinImpuestos, TotalDescuento e ImporteTotal no se leen al construir el
	// XML: document.BuildFactura siempre los deriva de Items y no los compara
	// con estos campos.
	TotalSinImpuestos decimal.Decimal
	TotalDescuento    decimal.Decimal
	ImporteTotal      decimal.Decimal

	InfoAdicional map[string]string // pares nombre/valor para <infoAdicional>
}

// Moneda es la moneda fija de la factura v1.1.0.
const Moneda = "DOLAR"

// DocTipoFactura es el código de tipo de comprobante para factura (01).
const DocTipoFactura = "01"

// DocTipoNotaCredito es el código de tipo de comprobante para nota de crédito (04).
const DocTipoNotaCredito = "04"
