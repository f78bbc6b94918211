package cli

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/pagedock/pagedock/internal/config"
	"github.com/pagedock/pagedock/internal/dispatch"
	"github.com/pagedock/pagedock/internal/engine/pdfium"
	"github.com/pagedock/pagedock/internal/logger"
	"github.com/pagedock/pagedock/internal/metrics"
	"github.com/pagedock/pagedock/internal/registry"
	"github.com/pagedock/pagedock/internal/server"
	"github.com/pagedock/pagedock/internal/storage"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the pagedock HTTP service",
	RunE:  runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.NewLoader(cfgFile).Load()
	if err != nil {
		return err
	}
	if logLevel != "" {
		cfg.Logging.Level = logLevel
	}

	lg, err := logger.New(logger.Config{
		Level:  cfg.Logging.Level,
		File:   cfg.Logging.File,
		Pretty: cfg.Logging.Pretty,
	})
	if err != nil {
		return err
	}
	defer lg.Close()
	zl := lg.Zerolog()

	eng, err := pdfium.New()
	if err != nil {
		return err
	}
	defer func() {
		if err := eng.Shutdown(); err != nil {
			zl.Error().Err(err).Msg("shutting down engine")
		}
	}()

	store, err := storage.New(cfg.Storage.UploadDir, cfg.Storage.MergedDir, zl)
	if err != nil {
		return err
	}
	reg := registry.New(eng, store, zl)
	m := metrics.New()
	d := dispatch.New(reg, eng, store, m, zl)

	srv := server.New(server.Options{
		Host:        cfg.Server.Host,
		Port:        cfg.Server.Port,
		MaxUploadMB: cfg.Server.MaxUploadMB,
	}, d, m, zl)

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Start() }()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return err
	case sig := <-sigCh:
		zl.Info().Str("signal", sig.String()).Msg("shutting down")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	return srv.Stop(ctx)
}
