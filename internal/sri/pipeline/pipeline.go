// Package pipeline wires the five core components (KeyBuilder, DocumentBuilder,
// CredentialStore, Signer, SriClient) into the single data flow the outer
// triggers (cmd/sricli, cmd/sriserver) call: normalize -> access key -> XML ->
// signature -> submit -> poll -> persist. Grounded on the teacher's
// DIANOrchestrator.process (internal/application/billing/dian_orchestrator.go),
// generalized from its DB-backed, single-invoice, goroutine-per-request shape
// to a synchronous call the caller parallelizes itself (§9's worker-pool
// caveat is a caller concern, satisfied by cmd/sricli's errgroup use, not by
// this package).
package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/sriemisor/core/internal/sri/client"
	"github.com/sriemisor/core/internal/sri/credential"
	"github.com/sriemisor/core/internal/sri/document"
	"github.com/sriemisor/core/internal/sri/keybuilder"
	"github.com/sriemisor/core/internal/sri/model"
	"github.com/sriemisor/core/internal/sri/signer"
	"github.com/sriemisor/core/internal/sri/srierr"
	"github.com/sriemisor/core/pkg/logger"
)

// Result is what Run reports for one InvoiceRecord: the access key assigned
// regardless of outcome (needed to look the comprobante up later) plus the
// SRI client's terminal result.
type Result struct {
	AccessKey keybuilder.AccessKey
	Final     *client.FinalResult
}

// Pipeline holds the long-lived collaborators a single process reuses across
// many invoices: one Credential (the signing identity doesn't change call to
// call) and one Client (carries the HTTP transport and the persistence root).
type Pipeline struct {
	Credential   *credential.Credential
	Client       *client.Client
	Environment  client.Environment
	TiempoEspera time.Duration
	Logger       *logger.Logger
}

// New builds a Pipeline from its already-constructed collaborators. Callers
// assemble the Credential (credential.Load) and Client (client.New with a
// client.NewSOAPTransport or a fake) once at startup. log may be nil, in
// which case the future-date clamp in Run happens silently.
func New(cred *credential.Credential, c *client.Client, env client.Environment, tiempoEspera time.Duration, log *logger.Logger) *Pipeline {
	return &Pipeline{Credential: cred, Client: c, Environment: env, TiempoEspera: tiempoEspera, Logger: log}
}

// Run carries one InvoiceRecord through the full chain: access key, XML
// build, signature, submission, polling and state persistence. Once the
// access key is assigned, the Result carrying it is returned even when a
// later step fails, so the caller can log or retry against a stable
// identifier; if the key itself cannot be generated, the Result is nil. Run
// always builds a factura (docType 01); no other document type is produced.
func (p *Pipeline) Run(ctx context.Context, inv model.InvoiceRecord) (*Result, error) {
	if now := document.Clock(); inv.FechaEmision.After(now) {
		if p.Logger != nil {
			p.Logger.Warn().
				Str("secuencial", inv.Secuencial).
				Time("fechaEmisionOriginal", inv.FechaEmision).
				Time("fechaEmisionUsada", now).
				Msg("fecha de emisión futura, se usa la fecha actual para clave de acceso y XML")
		}
		inv.FechaEmision = now
	}

	numericCode, err := keybuilder.RandomNumericCode()
	if err != nil {
		return nil, srierr.New(srierr.InvalidInput, "numericCode", err)
	}

	key, err := keybuilder.Generate(keybuilder.Params{
		Date:            inv.FechaEmision,
		DocType:         model.DocTipoFactura,
		RUC:             inv.Emitter.RUC,
		Ambiente:        inv.Ambiente.Code(),
		Establecimiento: inv.Emitter.CodigoEstablecimiento,
		PuntoEmision:    inv.Emitter.PuntoEmision,
		Sequential:      inv.Secuencial,
		EmissionType:    inv.TipoEmision.Code(),
		NumericCode:     numericCode,
	})
	if err != nil {
		return nil, err
	}

	result := &Result{AccessKey: key}

	xmlBytes, err := document.BuildFactura(inv, key)
	if err != nil {
		return result, err
	}

	signed, err := signer.Sign(xmlBytes, p.Credential)
	if err != nil {
		return result, err
	}
	if signed.ClaveAcceso != string(key) {
		return result, srierr.New(srierr.SchemaViolation, "claveAcceso", fmt.Errorf("clave de acceso en el XML (%s) no coincide con la generada (%s)", signed.ClaveAcceso, key))
	}

	final, err := p.Client.ProcessOneShot(ctx, p.Environment, signed.XML, string(key), p.TiempoEspera)
	if err != nil {
		return result, err
	}
	result.Final = final
	return result, nil
}

// Lookup re-queries the authorization state of a previously submitted
// comprobante, independent of any in-flight Run call.
func (p *Pipeline) Lookup(ctx context.Context, accessKey string) (*client.AuthorizationRecord, error) {
	return p.Client.Lookup(ctx, p.Environment, accessKey)
}
