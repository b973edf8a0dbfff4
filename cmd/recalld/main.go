// Recalld is a developer-memory daemon. It ingests source repositories,
// extracts navigation and usage documents, persists them to an embedded
// vector store, and answers natural-language queries through a hybrid
// retrieval pipeline exposed over MCP and HTTP.
//
// Usage:
//
//	# Start the daemon (HTTP API + MCP streamable transport)
//	recalld serve
//
//	# Serve MCP over stdio for clients that spawn the process
//	recalld stdio
//
//	# Inspect or apply pending schema migrations
//	recalld migrate --dry-run
//
// Configuration is read from ~/.config/recalld/config.yaml with
// environment overrides. See internal/config for the full schema.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/recalld/internal/config"
	"github.com/fyrsmithlabs/recalld/internal/embeddings"
	"github.com/fyrsmithlabs/recalld/internal/logging"
	"github.com/fyrsmithlabs/recalld/internal/migrate"
	"github.com/fyrsmithlabs/recalld/internal/services"
	"github.com/fyrsmithlabs/recalld/internal/version"
)

var (
	configPath string
	dryRun     bool
	withBackup bool
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "recalld",
	Short: "Developer-memory daemon with hybrid retrieval",
	Long: `recalld indexes source repositories and developer memory (notes,
insights, session summaries) into a local vector store, and serves
hybrid lexical+semantic search over MCP and HTTP.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE:          runServe,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the daemon (HTTP API and MCP streamable transport)",
	RunE:  runServe,
}

var stdioCmd = &cobra.Command{
	Use:   "stdio",
	Short: "Serve MCP over stdio",
	Long: `Serve the MCP protocol on stdin/stdout for clients that spawn
recalld as a subprocess. Logs go to stderr; the HTTP API is not started.`,
	RunE: runStdio,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Show version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println(version.String())
	},
}

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply pending schema migrations",
	RunE:  runMigrate,
}

var backupCmd = &cobra.Command{
	Use:   "backup",
	Short: "Snapshot the data directory",
	RunE:  runBackup,
}

var backupListCmd = &cobra.Command{
	Use:   "list",
	Short: "List available backups",
	RunE:  runBackupList,
}

var restoreCmd = &cobra.Command{
	Use:   "restore <name>",
	Short: "Restore the data directory from a backup",
	Args:  cobra.ExactArgs(1),
	RunE:  runRestore,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "path to config.yaml (default ~/.config/recalld/config.yaml)")
	migrateCmd.Flags().BoolVar(&dryRun, "dry-run", false, "report pending migrations without applying them")
	migrateCmd.Flags().BoolVar(&withBackup, "backup", false, "snapshot the data directory before migrating")
	backupCmd.AddCommand(backupListCmd)
	rootCmd.AddCommand(serveCmd, stdioCmd, versionCmd, migrateCmd, backupCmd, restoreCmd)
}

// runServe starts the full daemon: service graph, background capture
// workers, and the HTTP server. Blocks until SIGINT/SIGTERM.
func runServe(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.LoadWithFile(configPath)
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}

	logger, err := newLogger(cfg, "stdout")
	if err != nil {
		return fmt.Errorf("initializing logger: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	reg, err := services.Build(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer func() { _ = reg.Close() }()

	reg.Start(ctx)

	errCh := make(chan error, 1)
	go func() { errCh <- reg.HTTP().Start() }()

	logger.Info(ctx, "recalld started",
		zap.String("version", version.Version),
		zap.Int("http_port", cfg.Server.HTTPPort))

	select {
	case <-ctx.Done():
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := reg.HTTP().Shutdown(shutdownCtx); err != nil {
		logger.Warn(shutdownCtx, "http shutdown", zap.Error(err))
	}
	logger.Info(context.Background(), "recalld stopped")
	return nil
}

// runStdio serves MCP on stdin/stdout. Stdout carries the JSON-RPC
// stream, so logs are forced to stderr and the HTTP API stays off.
func runStdio(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.LoadWithFile(configPath)
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}

	logger, err := newLogger(cfg, "stderr")
	if err != nil {
		return fmt.Errorf("initializing logger: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	reg, err := services.Build(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer func() { _ = reg.Close() }()

	reg.Start(ctx)
	return reg.MCP().Run(ctx)
}

// runMigrate opens the store without the rest of the service graph and
// runs (or previews) pending migrations. The report is printed as JSON
// so scripts can consume it.
func runMigrate(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.LoadWithFile(configPath)
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}

	logger, err := newLogger(cfg, "stderr")
	if err != nil {
		return fmt.Errorf("initializing logger: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	dataDir, err := config.ExpandPath(cfg.Storage.DataDir)
	if err != nil {
		return fmt.Errorf("expanding data dir: %w", err)
	}

	if withBackup && !dryRun {
		info, err := migrate.Backup(dataDir)
		if err != nil {
			return fmt.Errorf("creating backup: %w", err)
		}
		fmt.Fprintf(os.Stderr, "backup created: %s\n", info.Name)
	}

	embedder, err := embeddings.NewProvider(embeddings.Config{
		Provider:  cfg.Embeddings.Provider,
		Model:     cfg.Embeddings.Model,
		BaseURL:   cfg.Embeddings.BaseURL,
		APIKey:    cfg.Embeddings.APIKey.Value(),
		CacheDir:  cfg.Embeddings.CacheDir,
		Dimension: cfg.Embeddings.Dimension,
	})
	if err != nil {
		return fmt.Errorf("initializing embedding provider: %w", err)
	}
	defer func() { _ = embedder.Close() }()

	store, err := services.OpenStore(cfg, dataDir, embedder, logger)
	if err != nil {
		return fmt.Errorf("opening vector store: %w", err)
	}
	defer func() { _ = store.Close() }()

	runner, err := migrate.NewRunner(store, dataDir, logger)
	if err != nil {
		return err
	}
	report, err := runner.Run(ctx, dryRun)
	if err != nil {
		return err
	}
	return printJSON(report)
}

func runBackup(cmd *cobra.Command, args []string) error {
	dataDir, err := resolveDataDir()
	if err != nil {
		return err
	}
	info, err := migrate.Backup(dataDir)
	if err != nil {
		return err
	}
	return printJSON(info)
}

func runBackupList(cmd *cobra.Command, args []string) error {
	dataDir, err := resolveDataDir()
	if err != nil {
		return err
	}
	backups, err := migrate.ListBackups(dataDir)
	if err != nil {
		return err
	}
	return printJSON(backups)
}

func runRestore(cmd *cobra.Command, args []string) error {
	dataDir, err := resolveDataDir()
	if err != nil {
		return err
	}
	if err := migrate.Restore(dataDir, args[0]); err != nil {
		return err
	}
	fmt.Printf("restored %s\n", args[0])
	return nil
}

func resolveDataDir() (string, error) {
	cfg, err := config.LoadWithFile(configPath)
	if err != nil {
		return "", fmt.Errorf("loading configuration: %w", err)
	}
	return config.ExpandPath(cfg.Storage.DataDir)
}

// newLogger builds the process logger from the daemon config. The
// output argument overrides the sink so stdio mode can keep stdout
// clean for the protocol stream.
func newLogger(cfg *config.Config, output string) (*logging.Logger, error) {
	lc := logging.NewDefaultConfig()
	lc.Format = cfg.Logging.Format
	lc.Output = output
	level, err := logging.LevelFromString(cfg.Logging.Level)
	if err != nil {
		return nil, err
	}
	lc.Level = level
	if cfg.Verbose {
		lc.Level = zap.DebugLevel
	}
	return logging.NewLogger(lc)
}

func printJSON(v any) error {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(out))
	return nil
}
