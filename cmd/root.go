package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/abhisek/pathwise/internal/config"
	"github.com/abhisek/pathwise/internal/engine"
	"github.com/abhisek/pathwise/internal/logger"
	"github.com/abhisek/pathwise/internal/store"
)

var rootCmd = &cobra.Command{
	Use:   "pathwise",
	Short: "Adaptive learning path engine",
	Long: "Pathwise gates course content behind prerequisites, tracks what each student knows,\n" +
		"and plans personalized recommendations and roadmaps.",
	SilenceUsage: true,
}

func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().String("db", "", "Path to SQLite database file (overrides PATHWISE_DB env var)")
	rootCmd.PersistentFlags().String("catalog", "", "Path to a YAML content catalog (overrides PATHWISE_CATALOG env var)")
	rootCmd.PersistentFlags().String("log-mode", "", "Log mode: development or production (overrides LOG_MODE env var)")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(catalogCmd)
	rootCmd.AddCommand(enrollCmd)
	rootCmd.AddCommand(progressCmd)
	rootCmd.AddCommand(overviewCmd)
	rootCmd.AddCommand(gapsCmd)
	rootCmd.AddCommand(recommendCmd)
	rootCmd.AddCommand(roadmapCmd)
	rootCmd.AddCommand(analyzeCmd)
	rootCmd.AddCommand(llmCmd)
	rootCmd.AddCommand(versionCmd)
}

// resolveDBPath returns the database path using --db flag (highest priority),
// then PATHWISE_DB env var, then the default XDG path.
func resolveDBPath(cmd *cobra.Command) (string, error) {
	if p, _ := cmd.Flags().GetString("db"); p != "" {
		return p, store.EnsureDir(p)
	}
	return store.DefaultDBPath()
}

// loadConfig reads the environment (and .env) and applies flag overrides.
func loadConfig(cmd *cobra.Command) (config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return cfg, err
	}
	if p, _ := cmd.Flags().GetString("db"); p != "" {
		cfg.Database.Path = p
	}
	if p, _ := cmd.Flags().GetString("catalog"); p != "" {
		cfg.CatalogPath = p
	}
	if m, _ := cmd.Flags().GetString("log-mode"); m != "" {
		cfg.LogMode = m
	}
	return cfg, nil
}

// openEngine builds an engine from the command's configuration. The caller
// closes the engine and syncs the logger.
func openEngine(cmd *cobra.Command) (*engine.Engine, *logger.Logger, error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, nil, err
	}
	log, err := logger.New(cfg.LogMode)
	if err != nil {
		return nil, nil, fmt.Errorf("init logger: %w", err)
	}
	e, err := engine.New(cmd.Context(), cfg, engine.Options{}, log)
	if err != nil {
		log.Sync()
		return nil, nil, err
	}
	return e, log, nil
}
