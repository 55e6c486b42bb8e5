// Command sricli is the CLI trigger for the SRI issuance engine, grounded on
// the pack's only example with a Cobra dependency (dharzan-VaultDrop's
// cmd/vaultdrop/main.go: one root command, subcommands via cobra.Command,
// ExecuteContext wired to a signal-aware context). Unlike its teacher, which
// shells out to docker/go, sricli wires Config/Logger straight into
// internal/sri/pipeline and contains no business logic itself.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/sriemisor/core/internal/sri/client"
	"github.com/sriemisor/core/internal/sri/credential"
	"github.com/sriemisor/core/internal/sri/model"
	"github.com/sriemisor/core/internal/sri/pipeline"
	"github.com/sriemisor/core/pkg/config"
	"github.com/sriemisor/core/pkg/logger"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := newRootCommand().ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "sricli: %v\n", err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:          "sricli",
		Short:        "Trigger for electronic invoice issuance against the SRI",
		SilenceUsage: true,
	}
	cmd.AddCommand(newEmitCmd(), newLookupCmd())
	return cmd
}

func newEmitCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "emit <invoice.json>",
		Short: "Build, sign and submit one or a batch of invoice records",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runEmit(cmd.Context(), args[0])
		},
	}
	return cmd
}

func runEmit(ctx context.Context, path string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("cargar configuración: %w", err)
	}
	log := logger.New(logger.Config{Env: cfg.App.Env, Level: "info", LogDir: "logs"}, today)
	defer log.Close()

	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("leer %s: %w", path, err)
	}

	var records []model.InvoiceRecord
	var single model.InvoiceRecord
	if err := json.Unmarshal(raw, &single); err == nil && len(single.Items) > 0 {
		records = []model.InvoiceRecord{single}
	} else {
		var batch struct {
			Invoices []model.InvoiceRecord `json:"invoices"`
		}
		if err := json.Unmarshal(raw, &batch); err != nil {
			return fmt.Errorf("parsear %s: %w", path, err)
		}
		records = batch.Invoices
	}
	if len(records) == 0 {
		return fmt.Errorf("%s no contiene ningún InvoiceRecord", path)
	}

	p, err := buildPipeline(cfg, log)
	if err != nil {
		return err
	}

	// One goroutine per InvoiceRecord, consistent with the no-ordering-across-
	// access-keys guarantee: a failure in one invoice never blocks the rest.
	g, gctx := errgroup.WithContext(ctx)
	results := make([]*pipeline.Result, len(records))
	for i, inv := range records {
		i, inv := i, inv
		g.Go(func() error {
			result, runErr := p.Run(gctx, inv)
			results[i] = result
			if runErr != nil {
				log.Errors.Warn().Err(runErr).Int("index", i).Msg("fallo al emitir comprobante")
				return nil
			}
			state := "?"
			if result.Final != nil {
				state = result.Final.State
			}
			log.Info().Str("claveAcceso", string(result.AccessKey)).Str("estado", state).Msg("comprobante procesado")
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	for _, r := range results {
		if r == nil {
			continue
		}
		state := "ERROR"
		if r.Final != nil {
			state = r.Final.State
		}
		fmt.Printf("%s\t%s\n", r.AccessKey, state)
	}
	return nil
}

func newLookupCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "lookup <claveAcceso>",
		Short: "Query the current authorization state of an already-submitted comprobante",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runLookup(cmd.Context(), args[0])
		},
	}
}

func runLookup(ctx context.Context, accessKey string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("cargar configuración: %w", err)
	}
	p, err := buildPipeline(cfg, nil)
	if err != nil {
		return err
	}
	rec, err := p.Lookup(ctx, accessKey)
	if err != nil {
		return err
	}
	fmt.Printf("estado=%s numeroAutorizacion=%s\n", rec.Estado, rec.AuthorizationNumber)
	return nil
}

func buildPipeline(cfg *config.Config, log *logger.Logger) (*pipeline.Pipeline, error) {
	source, isBase64 := cfg.Cert.Source()
	cred, err := credential.Load(source, cfg.Cert.CertPassword, isBase64)
	if err != nil {
		return nil, fmt.Errorf("cargar credencial: %w", err)
	}
	c := client.New(client.NewSOAPTransport(), "")
	return pipeline.New(cred, c, cfg.Environment(), 0, log), nil
}

func today() string {
	return time.Now().Format("2006-01-02")
}
