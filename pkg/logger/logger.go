// Package logger wraps zerolog, generalizing the teacher's single
// console/JSON logger into the three append-only daily streams spec.md §6
// requires: logs/<date>.log (general), logs/<date>_errors.log (WARN+),
// logs/<date>_sri.log (SRI protocol exchanges). No rotation library is added
// because the teacher never carried one (lumberjack does not appear anywhere
// in the example corpus); streams simply append across restarts within the
// same calendar day.
package logger

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Config opciones para el logger.
type Config struct {
	Env    string // development -> consola legible; production -> JSON
	Level  string // trace, debug, info, warn, error
	LogDir string // raíz de logs/<date>*.log; vacío desactiva los streams a disco
}

// Logger wrapper sobre zerolog para inyección y consistencia. General es el
// stream de propósito general; Errors recibe únicamente WARN y superior; SRI
// es el stream reservado a los intercambios con el servicio SOAP, aunque
// internal/sri/client no escribe en él.
type Logger struct {
	General *zerolog.Logger
	Errors  *zerolog.Logger
	SRI     *zerolog.Logger

	closers []io.Closer
}

// New crea un logger estructurado. En development usa salida legible en
// consola además de los tres streams a disco (si LogDir no está vacío); en
// production solo JSON. now produce la fecha (YYYY-MM-DD) usada para nombrar
// los archivos del día; se inyecta para mantener los streams testeables sin
// depender del reloj real.
func New(cfg Config, now func() string) *Logger {
	var console io.Writer = io.Discard
	if cfg.Env == "development" {
		console = zerolog.ConsoleWriter{Out: os.Stdout}
	}

	level := parseLevel(cfg.Level)
	l := &Logger{}

	generalWriters := []io.Writer{console}
	errorWriters := []io.Writer{console}
	sriWriters := []io.Writer{console}

	if cfg.LogDir != "" {
		date := now()
		if gw, err := l.appendWriter(cfg.LogDir, date+".log"); err == nil {
			generalWriters = append(generalWriters, gw)
		}
		if ew, err := l.appendWriter(cfg.LogDir, date+"_errors.log"); err == nil {
			errorWriters = append(errorWriters, ew)
		}
		if sw, err := l.appendWriter(cfg.LogDir, date+"_sri.log"); err == nil {
			sriWriters = append(sriWriters, sw)
		}
	}

	general := zerolog.New(io.MultiWriter(generalWriters...)).Level(level).With().Timestamp().Logger()
	errLogger := zerolog.New(io.MultiWriter(errorWriters...)).Level(zerolog.WarnLevel).With().Timestamp().Logger()
	sriLogger := zerolog.New(io.MultiWriter(sriWriters...)).Level(zerolog.InfoLevel).With().Timestamp().Logger()

	l.General = &general
	l.Errors = &errLogger
	l.SRI = &sriLogger

	log.Logger = general
	return l
}

func (l *Logger) appendWriter(dir, name string) (io.Writer, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("crear directorio de logs %s: %w", dir, err)
	}
	f, err := os.OpenFile(filepath.Join(dir, name), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("abrir log %s: %w", name, err)
	}
	l.closers = append(l.closers, f)
	return f, nil
}

// Close cierra los handles de archivo abiertos por New.
func (l *Logger) Close() error {
	var firstErr error
	for _, c := range l.closers {
		if err := c.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func parseLevel(s string) zerolog.Level {
	switch s {
	case "trace":
		return zerolog.TraceLevel
	case "debug":
		return zerolog.DebugLevel
	case "info":
		return zerolog.InfoLevel
	case "warn":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}

// Trace, Debug, Info, Warn, Error delegados al stream general.
func (l *Logger) Trace() *zerolog.Event { return l.General.Trace() }
func (l *Logger) Debug() *zerolog.Event { return l.General.Debug() }
func (l *Logger) Info() *zerolog.Event  { return l.General.Info() }
func (l *Logger) Warn() *zerolog.Event  { return l.General.Warn() }
func (l *Logger) Error() *zerolog.Event { return l.General.Error() }
func (l *Logger) Fatal() *zerolog.Event { return l.General.Fatal() }

// With crea un sublogger con campos fijos sobre el stream general.
func (l *Logger) With() zerolog.Context {
	return l.General.With()
}
