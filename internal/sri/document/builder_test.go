package document

import (
	"encoding/xml"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sriemisor/core/internal/sri/keybuilder"
	"github.com/sriemisor/core/internal/sri/model"
)

func fixedClock(t time.Time) func() {
	prev := Clock
	Clock = func() time.Time { return t }
	return func() { Clock = prev }
}

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func baseInvoice() model.InvoiceRecord {
	return model.InvoiceRecord{
		Ambiente:    model.AmbientePruebas,
		TipoEmision: model.TipoEmisionNormal,
		Emitter: model.Emitter{
			RUC:                   "0918097783001",
			RazonSocial:           "ACME CIA LTDA",
			DirMatriz:             "AV SIEMPREVIVA 742",
			CodigoEstablecimiento: "001",
			PuntoEmision:          "001",
		},
		Secuencial:   "000000001",
		FechaEmision: time.Date(2025, time.August, 7, 10, 0, 0, 0, guayaquil),
		Buyer: model.Buyer{
			TipoIdentificacion: model.IdentificacionConsumidorFinal,
			Identificacion:     "9999999999",
			RazonSocial:        "CONSUMIDOR FINAL",
		},
	}
}

func testKey() keybuilder.AccessKey {
	k, err := keybuilder.Generate(keybuilder.Params{
		Date:            time.Date(2025, time.August, 7, 0, 0, 0, 0, time.UTC),
		DocType:         model.DocTipoFactura,
		RUC:             "0918097783001",
		Ambiente:        "1",
		Establecimiento: "001",
		PuntoEmision:    "001",
		Sequential:      "000000001",
		EmissionType:    "1",
		NumericCode:     "12345678",
	})
	if err != nil {
		panic(err)
	}
	return k
}

// S3 — Final-consumer factura.
func TestBuildFactura_FinalConsumerScenario(t *testing.T) {
	defer fixedClock(time.Date(2025, time.August, 7, 12, 0, 0, 0, guayaquil))()

	inv := baseInvoice()
	inv.Items = []model.Item{
		{
			CodigoPrincipal: "ITEM1",
			Descripcion:     "Producto de prueba",
			Cantidad:        dec("1"),
			PrecioUnitario:  dec("10.00"),
			Descuento:       dec("0"),
			Impuestos: []model.Tax{
				{Codigo: "2", CodigoPorcentaje: "2", BaseImponible: dec("10.00"), Valor: dec("1.20")},
			},
		},
	}

	out, err := BuildFactura(inv, testKey())
	require.NoError(t, err)

	var doc struct {
		XMLName xml.Name `xml:"factura"`
		ID      string   `xml:"id,attr"`
		Version string   `xml:"version,attr"`
		Info    struct {
			TotalSinImpuestos string `xml:"totalSinImpuestos"`
			ImporteTotal      string `xml:"importeTotal"`
			Pagos             struct {
				Pago []struct {
					FormaPago string `xml:"formaPago"`
					Total     string `xml:"total"`
				} `xml:"pago"`
			} `xml:"pagos"`
		} `xml:"infoFactura"`
		Detalles struct {
			Detalle []struct {
				Impuestos struct {
					Impuesto []struct {
						Tarifa string `xml:"tarifa"`
					} `xml:"impuesto"`
				} `xml:"impuestos"`
			} `xml:"detalle"`
		} `xml:"detalles"`
	}
	require.NoError(t, xml.Unmarshal(out, &doc))

	assert.Equal(t, "comprobante", doc.ID)
	assert.Equal(t, "1.1.0", doc.Version)
	assert.Equal(t, "10.00", doc.Info.TotalSinImpuestos)
	assert.Equal(t, "11.20", doc.Info.ImporteTotal)
	require.Len(t, doc.Info.Pagos.Pago, 1)
	assert.Equal(t, "01", doc.Info.Pagos.Pago[0].FormaPago)
	assert.Equal(t, "11.20", doc.Info.Pagos.Pago[0].Total)
	require.Len(t, doc.Detalles.Detalle, 1)
	require.Len(t, doc.Detalles.Detalle[0].Impuestos.Impuesto, 1)
	assert.Equal(t, "12.00", doc.Detalles.Detalle[0].Impuestos.Impuesto[0].Tarifa)
}

// Property 2: well-formed XML, root id=comprobante/version=1.1.0, claveAcceso present exactly once.
func TestBuildFactura_RootShapeAndAccessKeyOccursOnce(t *testing.T) {
	defer fixedClock(time.Date(2025, time.August, 7, 12, 0, 0, 0, guayaquil))()

	inv := baseInvoice()
	inv.Items = []model.Item{{
		CodigoPrincipal: "X", Descripcion: "d", Cantidad: dec("2"), PrecioUnitario: dec("5"),
		Impuestos: []model.Tax{{Codigo: "2", CodigoPorcentaje: "0", BaseImponible: dec("10"), Valor: dec("0")}},
	}}
	key := testKey()
	out, err := BuildFactura(inv, key)
	require.NoError(t, err)

	xd := xml.NewDecoder(strings.NewReader(string(out)))
	for {
		_, err := xd.Token()
		if err != nil {
			require.ErrorIs(t, err, io.EOF)
			break
		}
	}
	assert.Equal(t, 1, strings.Count(string(out), "<claveAcceso>"+string(key)+"</claveAcceso>"))
	assert.True(t, strings.HasPrefix(string(out), xmlHeader))
	assert.Contains(t, string(out), `<factura id="comprobante" version="1.1.0">`)
}

func TestBuildFactura_Determinism(t *testing.T) {
	defer fixedClock(time.Date(2025, time.August, 7, 12, 0, 0, 0, guayaquil))()

	inv := baseInvoice()
	inv.Items = []model.Item{{
		CodigoPrincipal: "X", Descripcion: "d", Cantidad: dec("1"), PrecioUnitario: dec("1"),
		Impuestos: []model.Tax{{Codigo: "2", CodigoPorcentaje: "0", BaseImponible: dec("1"), Valor: dec("0")}},
	}}
	key := testKey()

	out1, err := BuildFactura(inv, key)
	require.NoError(t, err)
	out2, err := BuildFactura(inv, key)
	require.NoError(t, err)
	assert.Equal(t, out1, out2)
}

func TestBuildFactura_AddressFallback(t *testing.T) {
	defer fixedClock(time.Date(2025, time.August, 7, 12, 0, 0, 0, guayaquil))()

	inv := baseInvoice()
	inv.Emitter.DirMatriz = ""
	inv.Items = []model.Item{{CodigoPrincipal: "X", Descripcion: "d", Cantidad: dec("1"), PrecioUnitario: dec("1")}}

	_, err := BuildFactura(inv, testKey())
	assert.Error(t, err, "both addresses blank must fail InvalidInput")
}

func TestBuildFactura_UsesEstablishmentAddressWhenPresent(t *testing.T) {
	defer fixedClock(time.Date(2025, time.August, 7, 12, 0, 0, 0, guayaquil))()

	inv := baseInvoice()
	inv.Emitter.DirEstablecimiento = "AV AMAZONAS 123"
	inv.Items = []model.Item{{CodigoPrincipal: "X", Descripcion: "d", Cantidad: dec("1"), PrecioUnitario: dec("1")}}

	out, err := BuildFactura(inv, testKey())
	require.NoError(t, err)
	assert.Contains(t, string(out), "<dirEstablecimiento>AV AMAZONAS 123</dirEstablecimiento>")
	assert.Contains(t, string(out), "<dirMatriz>AV SIEMPREVIVA 742</dirMatriz>")
}

func TestBuildFactura_FallsBackToMatrizAddressWhenEstablishmentBlank(t *testing.T) {
	defer fixedClock(time.Date(2025, time.August, 7, 12, 0, 0, 0, guayaquil))()

	inv := baseInvoice()
	inv.Items = []model.Item{{CodigoPrincipal: "X", Descripcion: "d", Cantidad: dec("1"), PrecioUnitario: dec("1")}}

	out, err := BuildFactura(inv, testKey())
	require.NoError(t, err)
	assert.Contains(t, string(out), "<dirEstablecimiento>AV SIEMPREVIVA 742</dirEstablecimiento>")
}

func TestBuildFactura_ClampsFutureDate(t *testing.T) {
	now := time.Date(2025, time.August, 7, 12, 0, 0, 0, guayaquil)
	defer fixedClock(now)()

	inv := baseInvoice()
	inv.FechaEmision = now.Add(48 * time.Hour)
	inv.Items = []model.Item{{CodigoPrincipal: "X", Descripcion: "d", Cantidad: dec("1"), PrecioUnitario: dec("1")}}

	out, err := BuildFactura(inv, testKey())
	require.NoError(t, err)
	assert.Contains(t, string(out), "<fechaEmision>07/08/2025</fechaEmision>")
}

func TestBuildFactura_InfoAdicionalOrderIsDeterministic(t *testing.T) {
	defer fixedClock(time.Date(2025, time.August, 7, 12, 0, 0, 0, guayaquil))()

	inv := baseInvoice()
	inv.Items = []model.Item{{CodigoPrincipal: "X", Descripcion: "d", Cantidad: dec("1"), PrecioUnitario: dec("1")}}
	inv.InfoAdicional = map[string]string{
		"zeta":  "1",
		"alfa":  "2",
		"mu":    "3",
		"beta":  "4",
		"omega": "5",
	}
	key := testKey()

	var outs [][]byte
	for i := 0; i < 10; i++ {
		out, err := BuildFactura(inv, key)
		require.NoError(t, err)
		outs = append(outs, out)
	}
	for i := 1; i < len(outs); i++ {
		assert.Equal(t, outs[0], outs[i], "infoAdicional ordering must be stable across calls")
	}

	zetaIdx := strings.Index(string(outs[0]), `nombre="zeta"`)
	alfaIdx := strings.Index(string(outs[0]), `nombre="alfa"`)
	require.NotEqual(t, -1, zetaIdx)
	require.NotEqual(t, -1, alfaIdx)
	assert.Less(t, alfaIdx, zetaIdx, "campoAdicional entries must be emitted in sorted-key order")
}

func TestBuildFactura_ExplicitZeroTarifaRoundTrips(t *testing.T) {
	defer fixedClock(time.Date(2025, time.August, 7, 12, 0, 0, 0, guayaquil))()

	zero := dec("0")
	inv := baseInvoice()
	inv.Items = []model.Item{{
		CodigoPrincipal: "X", Descripcion: "d", Cantidad: dec("1"), PrecioUnitario: dec("1"),
		Impuestos: []model.Tax{{Codigo: "2", CodigoPorcentaje: "2", Tarifa: &zero, BaseImponible: dec("1"), Valor: dec("0")}},
	}}

	out, err := BuildFactura(inv, testKey())
	require.NoError(t, err)
	assert.Contains(t, string(out), "<tarifa>0.00</tarifa>")
}

func TestSanitize_StripsControlsKeepsWhitespace(t *testing.T) {
	in := "A\x00B\tC\nD\x1fE"
	got := sanitize(in)
	assert.Equal(t, "AB\tC\nDE", got)
}
