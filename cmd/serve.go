package cmd

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/abhisek/pathwise/internal/config"
	"github.com/abhisek/pathwise/internal/engine"
	"github.com/abhisek/pathwise/internal/logger"
	"github.com/abhisek/pathwise/internal/server"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		if addr, _ := cmd.Flags().GetString("addr"); addr != "" {
			cfg.Server.Addr = addr
		}
		return serve(cmd, cfg)
	},
}

func init() {
	serveCmd.Flags().String("addr", "", "Listen address (overrides PATHWISE_HTTP_ADDR env var)")
}

func serve(cmd *cobra.Command, cfg config.Config) error {
	log, err := logger.New(cfg.LogMode)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer log.Sync()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	e, err := engine.New(ctx, cfg, engine.Options{}, log)
	if err != nil {
		return err
	}
	defer func() {
		if err := e.Close(); err != nil {
			log.Error("close engine", "error", err)
		}
	}()

	log.Info("starting pathwise",
		"version", version,
		"catalog_version", e.Graph.Version(),
		"llm_provider", cfg.LLM.Provider)
	return server.New(e, log, !cfg.Production()).Run(ctx, cfg.Server.Addr, cfg.Server.ShutdownTimeout)
}
