package client

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/sriemisor/core/internal/sri/srierr"
)

// Client drives reception/authorization against a Transport, persisting
// each observed state transition under baseDir/comprobantes/<state>/.
type Client struct {
	transport Transport
	baseDir   string
	now       func() time.Time
	sleep     func(ctx context.Context, d time.Duration) error
}

// New builds a Client. baseDir is the root under which comprobantes/<state>/
// is created; it defaults to the current working directory's "comprobantes"
// if empty.
func New(transport Transport, baseDir string) *Client {
	return &Client{
		transport: transport,
		baseDir:   baseDir,
		now:       time.Now,
		sleep:     ctxSleep,
	}
}

func ctxSleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func isTransient(msgs []Message) bool {
	for _, m := range msgs {
		for _, marker := range transientMarkers {
			if strings.Contains(strings.ToUpper(m.Identificador), marker) || strings.Contains(strings.ToUpper(m.Mensaje), marker) {
				return true
			}
		}
	}
	return false
}

// Submit wraps the reception call with retry per policy: transport failures
// and identifiers/text classified as transient retry; RECIBIDA/DEVUELTA with
// ordinary business messages return immediately as a non-error result.
func (c *Client) Submit(ctx context.Context, env Environment, signedXML []byte, accessKey string, policy RetryPolicy) (*ReceptionResult, error) {
	var lastErr error
	attempt := 1
	for ; attempt <= policy.MaxAttempts; attempt++ {
		callCtx, cancel := context.WithTimeout(ctx, policy.PerCallTimeout)
		result, err := c.transport.Validar(callCtx, env, signedXML)
		cancel()
		if err == nil {
			if strings.EqualFold(result.Estado, EstadoDevuelta) && isTransient(result.Messages) && attempt < policy.MaxAttempts {
				lastErr = fmt.Errorf("devuelta transitoria: %v", result.Messages)
				if serr := c.sleep(ctx, policy.Backoff); serr != nil {
					return nil, srierr.New(srierr.TransportError, "submit", serr)
				}
				continue
			}
			return result, nil
		}
		lastErr = err
		if !retryable(err) || attempt == policy.MaxAttempts {
			break
		}
		if serr := c.sleep(ctx, policy.Backoff); serr != nil {
			return nil, srierr.New(srierr.TransportError, "submit", serr)
		}
	}
	return nil, srierr.New(classifyFinal(lastErr), "submit", fmt.Errorf("tras %d intento(s): %w", attempt, lastErr))
}

// Poll wraps the authorization call, treating EN_PROCESO as transient and
// retrying it regardless of the transport error classification.
func (c *Client) Poll(ctx context.Context, env Environment, accessKey string, policy RetryPolicy) (*AuthorizationRecord, error) {
	var lastErr error
	attempt := 1
	for ; attempt <= policy.MaxAttempts; attempt++ {
		callCtx, cancel := context.WithTimeout(ctx, policy.PerCallTimeout)
		rec, err := c.transport.Autorizacion(callCtx, env, accessKey)
		cancel()
		if err != nil {
			lastErr = err
			if !retryable(err) || attempt == policy.MaxAttempts {
				break
			}
			if serr := c.sleep(ctx, policy.Backoff); serr != nil {
				return nil, srierr.New(srierr.TransportError, "poll", serr)
			}
			continue
		}
		if strings.EqualFold(rec.Estado, EstadoEnProceso) {
			lastErr = fmt.Errorf("en proceso")
			if attempt == policy.MaxAttempts {
				break
			}
			if serr := c.sleep(ctx, policy.Backoff); serr != nil {
				return nil, srierr.New(srierr.TransportError, "poll", serr)
			}
			continue
		}
		return rec, nil
	}
	return nil, srierr.New(srierr.TransportError, "poll", fmt.Errorf("tras %d intento(s): %w", attempt, lastErr))
}

// Lookup is an independent, out-of-band query over a shorter retry budget.
func (c *Client) Lookup(ctx context.Context, env Environment, accessKey string) (*AuthorizationRecord, error) {
	if len(accessKey) != 49 {
		return nil, srierr.New(srierr.InvalidInput, "accessKey", fmt.Errorf("se esperaban 49 dígitos, recibido %d", len(accessKey)))
	}
	return c.Poll(ctx, env, accessKey, LookupPolicy)
}

// ProcessOneShot orchestrates submit -> (if RECIBIDA) wait -> poll -> persist
// each observed state, returning the final result rather than an exception
// for RECHAZADO/AUTORIZADO terminal outcomes.
func (c *Client) ProcessOneShot(ctx context.Context, env Environment, signedXML []byte, accessKey string, tiempoEspera time.Duration) (*FinalResult, error) {
	if len(accessKey) != 49 {
		return nil, srierr.New(srierr.InvalidInput, "accessKey", fmt.Errorf("se esperaban 49 dígitos, recibido %d", len(accessKey)))
	}
	if err := c.persist(StateFirmado, accessKey, signedXML); err != nil {
		return nil, err
	}

	reception, err := c.Submit(ctx, env, signedXML, accessKey, SubmitPolicy)
	if err != nil {
		return nil, err
	}

	if strings.EqualFold(reception.Estado, EstadoDevuelta) {
		if err := c.persist(StateRechazado, accessKey, signedXML); err != nil {
			return nil, err
		}
		return &FinalResult{Success: false, State: StateRechazado, Record: &AuthorizationRecord{Estado: reception.Estado, Messages: reception.Messages}}, nil
	}

	if err := c.persist(StateRecibido, accessKey, signedXML); err != nil {
		return nil, err
	}

	if tiempoEspera > 0 {
		if err := c.sleep(ctx, tiempoEspera); err != nil {
			return nil, srierr.New(srierr.TransportError, "tiempoEsperaMs", err)
		}
	}

	rec, err := c.Poll(ctx, env, accessKey, PollPolicy)
	if err != nil {
		return nil, err
	}

	switch {
	case strings.EqualFold(rec.Estado, EstadoAutorizado):
		artifact := signedXML
		if len(rec.AuthorizedXML) > 0 {
			artifact = rec.AuthorizedXML
		}
		if err := c.persist(StateAutorizado, accessKey, artifact); err != nil {
			return nil, err
		}
		return &FinalResult{Success: true, State: StateAutorizado, Record: rec}, nil
	case strings.EqualFold(rec.Estado, EstadoNoAutorizado), strings.EqualFold(rec.Estado, EstadoRechazada):
		if err := c.persist(StateRechazado, accessKey, signedXML); err != nil {
			return nil, err
		}
		return &FinalResult{Success: false, State: StateRechazado, Record: rec}, nil
	default:
		if err := c.persist(StateError, accessKey, signedXML); err != nil {
			return nil, err
		}
		return &FinalResult{Success: false, State: StateError, Record: rec}, nil
	}
}

// persist writes xmlBytes to comprobantes/<state>/<accessKey>_<ts>.xml via
// write-to-tmp-then-rename, so cancellation never leaves a half-written
// artifact (§5's no-half-written-file invariant).
func (c *Client) persist(state, accessKey string, xmlBytes []byte) error {
	dir := filepath.Join(c.baseDir, "comprobantes", strings.ToLower(state))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return srierr.New(srierr.TransportError, "persist", fmt.Errorf("crear directorio %s: %w", dir, err))
	}
	ts := c.now().Format("20060102-150405")
	finalPath := filepath.Join(dir, fmt.Sprintf("%s_%s.xml", accessKey, ts))

	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return srierr.New(srierr.TransportError, "persist", fmt.Errorf("crear temporal: %w", err))
	}
	tmpPath := tmp.Name()
	if _, err := tmp.Write(xmlBytes); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return srierr.New(srierr.TransportError, "persist", fmt.Errorf("escribir temporal: %w", err))
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return srierr.New(srierr.TransportError, "persist", fmt.Errorf("cerrar temporal: %w", err))
	}
	if err := os.Rename(tmpPath, finalPath); err != nil {
		os.Remove(tmpPath)
		return srierr.New(srierr.TransportError, "persist", fmt.Errorf("renombrar artefacto: %w", err))
	}
	return nil
}

func retryable(err error) bool {
	var serr *srierr.Error
	if se, ok := err.(*srierr.Error); ok {
		serr = se
	} else {
		return false
	}
	return serr.Kind.Retryable()
}

func classifyFinal(err error) srierr.Kind {
	if se, ok := err.(*srierr.Error); ok {
		if se.Kind == srierr.TemporalSriError {
			return srierr.TransportError
		}
		return se.Kind
	}
	return srierr.TransportError
}
