package cmd

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/abhisek/drillsim/internal/config"
	"github.com/abhisek/drillsim/internal/logging"
	"github.com/abhisek/drillsim/internal/scenario"
	"github.com/abhisek/drillsim/internal/store"
)

var (
	cfg    *config.Config
	logger = zap.NewNop()
)

var rootCmd = &cobra.Command{
	Use:   "drillsim",
	Short: "Incident-response drill engine",
	Long: "drillsim runs timed incident-response drills: it tracks attempts through\n" +
		"investigation, diagnosis and resolution, scores them and keeps per-learner\n" +
		"mastery records.",
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return setup(cmd)
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		_ = logger.Sync()
	},
}

func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().String("config", "", "Path to YAML config file (default $XDG_CONFIG_HOME/drillsim/config.yaml)")
	rootCmd.PersistentFlags().String("db", "", "Path to SQLite database file (overrides DRILLSIM_DB env var)")
	rootCmd.PersistentFlags().StringSlice("catalog", nil, "Extra scenario directories (overrides DRILLSIM_CATALOG env var)")
	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "Enable debug logging")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(scenariosCmd)
	rootCmd.AddCommand(drillCmd)
	rootCmd.AddCommand(statsCmd)
	rootCmd.AddCommand(resetCmd)
	rootCmd.AddCommand(versionCmd)
}

// setup loads configuration with flag overrides and builds the logger.
// Precedence: flags, then env, then the config file, then defaults.
func setup(cmd *cobra.Command) error {
	path, _ := cmd.Flags().GetString("config")
	if path == "" {
		path = defaultConfigPath()
	}
	c, err := config.Load(path)
	if err != nil {
		return err
	}

	if p, _ := cmd.Flags().GetString("db"); p != "" {
		c.DBPath = p
	}
	if dirs, _ := cmd.Flags().GetStringSlice("catalog"); len(dirs) > 0 {
		c.CatalogDirs = dirs
	}
	if v, _ := cmd.Flags().GetBool("verbose"); v {
		c.Logging = logging.Verbose(c.Logging)
	}
	if err := c.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	l, err := logging.New(c.Logging)
	if err != nil {
		return err
	}
	cfg, logger = c, l
	return nil
}

func defaultConfigPath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return ""
	}
	return filepath.Join(dir, "drillsim", "config.yaml")
}

// openStore opens the configured database.
func openStore() (*store.Store, error) {
	dbPath, err := cfg.ResolveDBPath()
	if err != nil {
		return nil, fmt.Errorf("resolve DB path: %w", err)
	}
	st, err := store.Open(dbPath)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	logger.Debug("Opened store", zap.String("path", dbPath))
	return st, nil
}

// openCatalog loads the seed catalog plus configured directories.
func openCatalog(ctx context.Context) (*scenario.Catalog, error) {
	cat, err := scenario.Open(ctx, cfg.CatalogDirs...)
	if err != nil {
		return nil, fmt.Errorf("load catalog: %w", err)
	}
	logger.Debug("Loaded catalog",
		zap.Int("scenarios", cat.Len()),
		zap.Strings("dirs", cfg.CatalogDirs))
	return cat, nil
}
