// Package document renders the canonical SRI factura v1.1.0 XML from a
// normalized model.InvoiceRecord. It follows the token-by-token
// encoding/xml.Encoder style of the teacher's xml_builder.go (UBL 2.1
// builder) — StartElement/EndElement/CharData tokens emitted by small
// write* helpers — generalized from DIAN's namespaced UBL tree to SRI's
// unnamespaced factura tree (the root itself carries no default namespace;
// only the post-signing ds: prefix is namespaced).
package document

import (
	"bytes"
	"encoding/xml"
	"fmt"
	"sort"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/text/unicode/norm"

	"github.com/sriemisor/core/internal/sri/keybuilder"
	"github.com/sriemisor/core/internal/sri/model"
	"github.com/sriemisor/core/internal/sri/srierr"
)

const xmlHeader = `<?xml version="1.0" encoding="UTF-8"?>` + "\n"

// guayaquil is fixed UTC-05 with no DST, per the time-handling design note.
var guayaquil = time.FixedZone("America/Guayaquil", -5*60*60)

// Clock returns "now" for clamping and date derivation. Overridable in tests.
var Clock = func() time.Time { return time.Now().In(guayaquil) }

var tariffByPorcentaje = map[string]string{
	"2": "12.00",
	"3": "14.00",
	"8": "15.00",
}

// BuildFactura renders a v1.1.0 factura XML for inv, embedding key. The
// output is deterministic for identical (inv, key): byte-for-byte stable
// across calls, a precondition for the signature to remain valid across
// round-trips.
func BuildFactura(inv model.InvoiceRecord, key keybuilder.AccessKey) ([]byte, error) {
	if len(key) != 49 {
		return nil, srierr.New(srierr.InvalidInput, "accessKey", fmt.Errorf("se esperaban 49 dígitos, recibido %d", len(key)))
	}
	if len(inv.Items) == 0 {
		return nil, srierr.New(srierr.InvalidInput, "items", fmt.Errorf("la factura requiere al menos un ítem"))
	}

	dirEstablecimiento := inv.Emitter.DirEstablecimiento
	if dirEstablecimiento == "" {
		dirEstablecimiento = inv.Emitter.DirMatriz
	}
	if dirEstablecimiento == "" {
		return nil, srierr.New(srierr.InvalidInput, "dirEstablecimiento", fmt.Errorf("dirección de establecimiento y dirección matriz vacías"))
	}

	fecha := inv.FechaEmision
	now := Clock()
	if fecha.After(now) {
		fecha = now
	}

	var buf bytes.Buffer
	buf.WriteString(xmlHeader)
	enc := xml.NewEncoder(&buf)

	root := xml.StartElement{
		Name: xml.Name{Local: "factura"},
		Attr: []xml.Attr{
			{Name: xml.Name{Local: "id"}, Value: "comprobante"},
			{Name: xml.Name{Local: "version"}, Value: "1.1.0"},
		},
	}
	if err := enc.EncodeToken(root); err != nil {
		return nil, fmt.Errorf("document: codificar raíz: %w", err)
	}

	if err := writeInfoTributaria(enc, inv, key); err != nil {
		return nil, err
	}
	if err := writeInfoFactura(enc, inv, fecha, dirEstablecimiento); err != nil {
		return nil, err
	}
	if err := writeDetalles(enc, inv.Items); err != nil {
		return nil, err
	}
	if len(inv.InfoAdicional) > 0 {
		if err := writeInfoAdicional(enc, inv.InfoAdicional); err != nil {
			return nil, err
		}
	}

	if err := enc.EncodeToken(root.End()); err != nil {
		return nil, fmt.Errorf("document: cerrar raíz: %w", err)
	}
	if err := enc.Flush(); err != nil {
		return nil, fmt.Errorf("document: volcar buffer: %w", err)
	}
	return buf.Bytes(), nil
}

func writeInfoTributaria(enc *xml.Encoder, inv model.InvoiceRecord, key keybuilder.AccessKey) error {
	start(enc, "infoTributaria")
	leaf(enc, "ambiente", inv.Ambiente.Code())
	leaf(enc, "tipoEmision", inv.TipoEmision.Code())
	leaf(enc, "razonSocial", sanitize(inv.Emitter.RazonSocial))
	if inv.Emitter.NombreComercial != "" {
		leaf(enc, "nombreComercial", sanitize(inv.Emitter.NombreComercial))
	}
	leaf(enc, "ruc", inv.Emitter.RUC)
	leaf(enc, "claveAcceso", string(key))
	leaf(enc, "codDoc", model.DocTipoFactura)
	leaf(enc, "estab", inv.Emitter.CodigoEstablecimiento)
	leaf(enc, "ptoEmi", inv.Emitter.PuntoEmision)
	leaf(enc, "secuencial", inv.Secuencial)
	leaf(enc, "dirMatriz", sanitize(inv.Emitter.DirMatriz))
	end(enc, "infoTributaria")
	return nil
}

func writeInfoFactura(enc *xml.Encoder, inv model.InvoiceRecord, fecha time.Time, dirEstablecimiento string) error {
	totalSinImpuestos, totalDescuento, importeTotal, taxTotals := deriveTotals(inv)

	start(enc, "infoFactura")
	leaf(enc, "fechaEmision", fecha.Format("02/01/2006"))
	leaf(enc, "dirEstablecimiento", sanitize(dirEstablecimiento))
	if inv.Emitter.ObligadoContabilidad {
		leaf(enc, "obligadoContabilidad", "SI")
	} else {
		leaf(enc, "obligadoContabilidad", "NO")
	}
	leaf(enc, "tipoIdentificacionComprador", string(inv.Buyer.TipoIdentificacion))
	leaf(enc, "razonSocialComprador", sanitize(inv.Buyer.RazonSocial))
	leaf(enc, "identificacionComprador", inv.Buyer.Identificacion)
	if inv.Buyer.Direccion != "" {
		leaf(enc, "direccionComprador", sanitize(inv.Buyer.Direccion))
	}
	leaf(enc, "totalSinImpuestos", money(totalSinImpuestos))
	leaf(enc, "totalDescuento", money(totalDescuento))

	start(enc, "totalConImpuestos")
	for _, t := range taxTotals {
		start(enc, "totalImpuesto")
		leaf(enc, "codigo", t.Codigo)
		leaf(enc, "codigoPorcentaje", t.CodigoPorcentaje)
		leaf(enc, "baseImponible", money(t.BaseImponible))
		leaf(enc, "valor", money(t.Valor))
		end(enc, "totalImpuesto")
	}
	end(enc, "totalConImpuestos")

	leaf(enc, "propina", money(inv.Propina))
	leaf(enc, "importeTotal", money(importeTotal))
	leaf(enc, "moneda", model.Moneda)

	payments := inv.Payments
	if len(payments) == 0 {
		payments = []model.Payment{{FormaPago: "01", Total: importeTotal}}
	}
	start(enc, "pagos")
	for _, p := range payments {
		start(enc, "pago")
		leaf(enc, "formaPago", p.FormaPago)
		leaf(enc, "total", money(p.Total))
		if p.Plazo != "" {
			leaf(enc, "plazo", p.Plazo)
		}
		if p.UnidadTiempo != "" {
			leaf(enc, "unidadTiempo", p.UnidadTiempo)
		}
		end(enc, "pago")
	}
	end(enc, "pagos")

	end(enc, "infoFactura")
	return nil
}

func writeDetalles(enc *xml.Encoder, items []model.Item) error {
	start(enc, "detalles")
	for _, it := range items {
		precioTotal := it.PrecioTotalSinImpuesto
		derived := it.Cantidad.Mul(it.PrecioUnitario).Sub(it.Descuento)
		if precioTotal.IsZero() {
			precioTotal = derived
		}

		start(enc, "detalle")
		leaf(enc, "codigoPrincipal", it.CodigoPrincipal)
		leaf(enc, "descripcion", sanitize(it.Descripcion))
		leaf(enc, "cantidad", quantity(it.Cantidad))
		leaf(enc, "precioUnitario", money(it.PrecioUnitario))
		leaf(enc, "descuento", money(it.Descuento))
		leaf(enc, "precioTotalSinImpuesto", money(precioTotal))

		start(enc, "impuestos")
		for _, tax := range it.Impuestos {
			tarifa := tax.Tarifa
			if tarifa == nil {
				derived := decimal.RequireFromString(resolveTarifa(tax.CodigoPorcentaje))
				tarifa = &derived
			}
			start(enc, "impuesto")
			leaf(enc, "codigo", tax.Codigo)
			leaf(enc, "codigoPorcentaje", tax.CodigoPorcentaje)
			leaf(enc, "tarifa", money(*tarifa))
			leaf(enc, "baseImponible", money(tax.BaseImponible))
			leaf(enc, "valor", money(tax.Valor))
			end(enc, "impuesto")
		}
		end(enc, "impuestos")
		end(enc, "detalle")
	}
	end(enc, "detalles")
	return nil
}

// writeInfoAdicional emits campoAdicional children in sorted-key order.
// fields is a Go map with randomized iteration order; without the sort,
// two calls with an identical InvoiceRecord would produce different byte
// output whenever there are two or more entries, which would break the
// determinism the signature depends on.
func writeInfoAdicional(enc *xml.Encoder, fields map[string]string) error {
	nombres := make([]string, 0, len(fields))
	for nombre := range fields {
		nombres = append(nombres, nombre)
	}
	sort.Strings(nombres)

	start(enc, "infoAdicional")
	for _, nombre := range nombres {
		_ = enc.EncodeToken(xml.StartElement{
			Name: xml.Name{Local: "campoAdicional"},
			Attr: []xml.Attr{{Name: xml.Name{Local: "nombre"}, Value: sanitize(nombre)}},
		})
		_ = enc.EncodeToken(xml.CharData(sanitize(fields[nombre])))
		_ = enc.EncodeToken(xml.EndElement{Name: xml.Name{Local: "campoAdicional"}})
	}
	end(enc, "infoAdicional")
	return nil
}

// deriveTotals derives totalSinImpuestos/totalDescuento/importeTotal and the
// totalConImpuestos aggregation from the line items; the record's own
// TotalSinImpuestos/TotalDescuento/ImporteTotal fields are not read. Each
// line's precioTotalSinImpuesto is the item's stored value when non-zero and
// cantidad*precioUnitario-descuento otherwise; a non-zero stored value is
// used as given and is not checked against the derived one.
func deriveTotals(inv model.InvoiceRecord) (totalSinImpuestos, totalDescuento, importeTotal decimal.Decimal, taxTotals []model.TaxTotal) {
	type key struct{ codigo, codigoPorcentaje string }
	agg := map[key]*model.TaxTotal{}
	var order []key

	var taxSum decimal.Decimal
	for _, it := range inv.Items {
		precio := it.PrecioTotalSinImpuesto
		derived := it.Cantidad.Mul(it.PrecioUnitario).Sub(it.Descuento)
		if precio.IsZero() {
			precio = derived
		}
		totalSinImpuestos = totalSinImpuestos.Add(precio)
		totalDescuento = totalDescuento.Add(it.Descuento)

		for _, tax := range it.Impuestos {
			k := key{tax.Codigo, tax.CodigoPorcentaje}
			t, ok := agg[k]
			if !ok {
				t = &model.TaxTotal{Codigo: tax.Codigo, CodigoPorcentaje: tax.CodigoPorcentaje}
				agg[k] = t
				order = append(order, k)
			}
			t.BaseImponible = t.BaseImponible.Add(tax.BaseImponible)
			t.Valor = t.Valor.Add(tax.Valor)
			taxSum = taxSum.Add(tax.Valor)
		}
	}
	for _, k := range order {
		taxTotals = append(taxTotals, *agg[k])
	}
	importeTotal = totalSinImpuestos.Sub(totalDescuento).Add(taxSum).Add(inv.Propina)
	return totalSinImpuestos, totalDescuento, importeTotal, taxTotals
}

func resolveTarifa(codigoPorcentaje string) string {
	if t, ok := tariffByPorcentaje[codigoPorcentaje]; ok {
		return t
	}
	return "0.00"
}

func money(d decimal.Decimal) string {
	return d.Round(2).StringFixed(2)
}

func quantity(d decimal.Decimal) string {
	return d.Round(2).StringFixed(2)
}

func start(enc *xml.Encoder, local string) {
	_ = enc.EncodeToken(xml.StartElement{Name: xml.Name{Local: local}})
}

func end(enc *xml.Encoder, local string) {
	_ = enc.EncodeToken(xml.EndElement{Name: xml.Name{Local: local}})
}

func leaf(enc *xml.Encoder, local, value string) {
	_ = enc.EncodeToken(xml.StartElement{Name: xml.Name{Local: local}})
	_ = enc.EncodeToken(xml.CharData(value))
	_ = enc.EncodeToken(xml.EndElement{Name: xml.Name{Local: local}})
}

// sanitize NFC-normalizes s, then strips C0 control characters (except tab,
// LF, CR) and XML-1.0-illegal code points. encoding/xml.EncodeToken already
// entity-escapes &, <, >, ', " on CharData tokens; this only removes bytes
// the encoder would otherwise pass through unescaped and invalid.
func sanitize(s string) string {
	s = norm.NFC.String(s)
	out := make([]rune, 0, len(s))
	for _, r := range s {
		switch {
		case r == '\t' || r == '\n' || r == '\r':
			out = append(out, r)
		case r < 0x20:
			continue
		case r >= 0xD800 && r <= 0xDFFF:
			continue
		case r == 0xFFFE || r == 0xFFFF:
			continue
		default:
			out = append(out, r)
		}
	}
	return string(out)
}

// BuildNotaCredito is a deferred component: the v1.1.0 nota de crédito XSD
// shares access-key generation with factura but its remaining field
// semantics (motivo, docModificado) are not specified upstream. Left
// unimplemented per the Open Question decision rather than guessed.
func BuildNotaCredito(model.InvoiceRecord, keybuilder.AccessKey) ([]byte, error) {
	return nil, srierr.New(srierr.InvalidInput, "docType", fmt.Errorf("nota de crédito (04): componente diferido, no implementado"))
}
