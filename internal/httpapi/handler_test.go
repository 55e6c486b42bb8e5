package httpapi_test

import (
	"bytes"
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/json"
	"math/big"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sriemisor/core/internal/httpapi"
	"github.com/sriemisor/core/internal/sri/client"
	"github.com/sriemisor/core/internal/sri/credential"
	"github.com/sriemisor/core/internal/sri/document"
	"github.com/sriemisor/core/internal/sri/model"
	"github.com/sriemisor/core/internal/sri/pipeline"
	"github.com/sriemisor/core/pkg/jwt"
)

const testJWTSecret = "test-secret-key"

type fakeTransport struct {
	validar      *client.ReceptionResult
	autorizacion *client.AuthorizationRecord
}

func (f *fakeTransport) Validar(ctx context.Context, env client.Environment, signedXML []byte) (*client.ReceptionResult, error) {
	return f.validar, nil
}

func (f *fakeTransport) Autorizacion(ctx context.Context, env client.Environment, accessKey string) (*client.AuthorizationRecord, error) {
	return f.autorizacion, nil
}

func testCredential(t *testing.T) *credential.Credential {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	tmpl := &x509.Certificate{
		SerialNumber: big.NewInt(1),
		Subject:      pkix.Name{CommonName: "EMISOR DE PRUEBA", SerialNumber: "0918097783001"},
		NotBefore:    time.Now().Add(-24 * time.Hour),
		NotAfter:     time.Now().Add(365 * 24 * time.Hour),
		KeyUsage:     x509.KeyUsageDigitalSignature | x509.KeyUsageContentCommitment,
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &key.PublicKey, key)
	require.NoError(t, err)
	cert, err := x509.ParseCertificate(der)
	require.NoError(t, err)
	return &credential.Credential{PrivateKey: key, Cert: cert, CertDER: cert.Raw, ValidFrom: cert.NotBefore, ValidTo: cert.NotAfter, RUC: "0918097783001"}
}

func buildApp(t *testing.T, transport client.Transport) *fiber.App {
	t.Helper()
	document.Clock = func() time.Time { return time.Date(2025, time.August, 7, 12, 0, 0, 0, time.UTC) }
	t.Cleanup(func() { document.Clock = time.Now })

	c := client.New(transport, t.TempDir())
	p := pipeline.New(testCredential(t), c, client.AmbientePruebas, 0, nil)
	emitter := model.Emitter{RUC: "0918097783001", RazonSocial: "ACME", DirMatriz: "AV PRUEBA 1", CodigoEstablecimiento: "001", PuntoEmision: "001"}
	h := httpapi.NewHandler(p, model.AmbientePruebas, emitter)

	app := fiber.New()
	httpapi.Router(app, httpapi.RouterDeps{Handler: h, JWTSecret: testJWTSecret})
	return app
}

func bearerToken(t *testing.T) string {
	t.Helper()
	tok, err := jwt.Generate(testJWTSecret, "cli", "sriemisor-test", 60)
	require.NoError(t, err)
	return "Bearer " + tok
}

func emitBody() []byte {
	body := map[string]interface{}{
		"secuencial":   "000000001",
		"fechaEmision": "2025-08-07T10:00:00Z",
		"comprador": map[string]string{
			"tipoIdentificacion": "07",
			"identificacion":     "9999999999",
			"razonSocial":        "CONSUMIDOR FINAL",
		},
		"items": []map[string]interface{}{{
			"codigoPrincipal": "X", "descripcion": "d",
			"cantidad": "1", "precioUnitario": "10",
			"impuestos": []map[string]string{{"codigo": "2", "codigoPorcentaje": "2", "baseImponible": "10", "valor": "1.20"}},
		}},
	}
	raw, _ := json.Marshal(body)
	return raw
}

func TestEmit_RequiresBearerToken(t *testing.T) {
	app := buildApp(t, &fakeTransport{})
	req := httptest.NewRequest(http.MethodPost, "/emit", bytes.NewReader(emitBody()))
	req.Header.Set("Content-Type", "application/json")
	resp, err := app.Test(req, -1)
	require.NoError(t, err)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestEmit_AuthorizedFlow(t *testing.T) {
	transport := &fakeTransport{
		validar:      &client.ReceptionResult{Estado: client.EstadoRecibida},
		autorizacion: &client.AuthorizationRecord{Estado: client.EstadoAutorizado, AuthorizationNumber: "AUTH-1"},
	}
	app := buildApp(t, transport)

	req := httptest.NewRequest(http.MethodPost, "/emit", bytes.NewReader(emitBody()))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", bearerToken(t))
	resp, err := app.Test(req, -1)
	require.NoError(t, err)
	assert.Equal(t, http.StatusCreated, resp.StatusCode)

	var out httpapi.EmitResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	assert.True(t, out.Success)
	assert.Equal(t, client.StateAutorizado, out.State)
	assert.Len(t, out.AccessKey, 49)
}

func TestLookup_DelegatesToPipeline(t *testing.T) {
	transport := &fakeTransport{autorizacion: &client.AuthorizationRecord{Estado: client.EstadoAutorizado, AuthorizationNumber: "AUTH-9"}}
	app := buildApp(t, transport)

	key := "0708202501091809778300110010010000000011234567810"
	req := httptest.NewRequest(http.MethodGet, "/lookup/"+key, nil)
	req.Header.Set("Authorization", bearerToken(t))
	resp, err := app.Test(req, -1)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var out httpapi.LookupResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	assert.Equal(t, client.EstadoAutorizado, out.Estado)
	assert.Equal(t, "AUTH-9", out.AuthorizationNumber)
}
