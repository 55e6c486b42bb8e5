package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/contrib/swagger"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/recover"

	"github.com/sriemisor/core/internal/httpapi"
	"github.com/sriemisor/core/internal/sri/client"
	"github.com/sriemisor/core/internal/sri/credential"
	"github.com/sriemisor/core/internal/sri/pipeline"
	"github.com/sriemisor/core/pkg/config"
	"github.com/sriemisor/core/pkg/logger"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic("cargar configuración: " + err.Error())
	}

	log := logger.New(logger.Config{
		Env:    cfg.App.Env,
		Level:  "info",
		LogDir: "logs",
	}, today)
	defer log.Close()
	log.Info().
		Str("env", cfg.App.Env).
		Str("app", cfg.App.Name).
		Msg("iniciando emisor SRI")

	source, isBase64 := cfg.Cert.Source()
	cred, err := credential.Load(source, cfg.Cert.CertPassword, isBase64)
	if err != nil {
		log.Fatal().Err(err).Msg("cargar credencial de firma")
	}

	sriClient := client.New(client.NewSOAPTransport(), "")
	p := pipeline.New(cred, sriClient, cfg.Environment(), 0, log)

	emitter := cfg.Empresa.ToEmitter()
	handler := httpapi.NewHandler(p, cfg.App.Ambiente, emitter)

	app := fiber.New(fiber.Config{
		AppName:      cfg.App.Name,
		ReadTimeout:  time.Second * 10,
		WriteTimeout: time.Second * 30,
		IdleTimeout:  time.Second * 60,
	})
	app.Use(recover.New())

	// Swagger UI en local: http://localhost:<port>/docs
	app.Use(swagger.New(swagger.Config{
		BasePath: "/",
		FilePath: "./docs/swagger.json",
		Path:     "docs",
		Title:    "SRI Emisor API",
	}))

	httpapi.Router(app, httpapi.RouterDeps{
		Handler:   handler,
		JWTSecret: cfg.JWT.Secret,
	})

	go func() {
		if err := app.Listen(cfg.HTTP.Addr()); err != nil {
			log.Error().Err(err).Msg("servidor HTTP finalizado")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("señal de apagado recibida, cerrando servidor...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := app.ShutdownWithContext(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("apagado del servidor")
	}

	log.Info().Msg("aplicación detenida")
}

func today() string {
	return time.Now().Format("2006-01-02")
}
