package cmd

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/clrke/claude-web/internal/agent"
	"github.com/clrke/claude-web/internal/config"
	"github.com/clrke/claude-web/internal/httpapi"
	"github.com/clrke/claude-web/internal/logging"
	"github.com/clrke/claude-web/internal/orchestrator"
	"github.com/clrke/claude-web/internal/queue"
	"github.com/clrke/claude-web/internal/store"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the session orchestrator server",
	Long: `Starts the HTTP server, the per-project admission queues and the stage
supervisor. Sessions created over the API are admitted, run through their
stages by the configured agent CLI, and persisted in the session store.`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().String("listen", "", "listen address (overrides http.listen_addr)")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	if listen, _ := cmd.Flags().GetString("listen"); listen != "" {
		cfg.HTTP.ListenAddr = listen
	}

	logger, err := buildLogger(cfg)
	if err != nil {
		return fmt.Errorf("creating logger: %w", err)
	}
	defer logger.Close()

	st, closeStore, err := openStore(cfg)
	if err != nil {
		return fmt.Errorf("opening store: %w", err)
	}
	defer closeStore()

	qm := queue.NewManager(st, logger)
	runner := agent.NewSupervisor(agent.NewStreamJSONParser(), cfg.Agent.StageTimeout(), logger)
	orc := orchestrator.New(st, qm, runner, logger, orchestrator.Options{
		AgentCommand: cfg.Agent.Command,
		ProjectRoot:  cfg.Projects.Root,
		QueueExpiry:  cfg.Queue.Expiry(),
	})

	srv := &http.Server{
		Addr:    cfg.HTTP.ListenAddr,
		Handler: httpapi.NewRouter(orc, logger),
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server listening", "addr", cfg.HTTP.ListenAddr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-errCh:
		orc.Shutdown()
		return fmt.Errorf("server failed: %w", err)
	case sig := <-sigCh:
		logger.Info("shutting down", "signal", sig.String())
	}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logger.Error("http shutdown failed", "error", err)
	}

	// Waits for in-flight stage runs to observe cancellation and settle.
	orc.Shutdown()
	logger.Info("shutdown complete")
	return nil
}

func buildLogger(cfg *config.Config) (*logging.Logger, error) {
	if cfg.Logging.File != "" && cfg.Logging.MaxSizeMB > 0 {
		return logging.NewLoggerWithRotation(cfg.Logging.File, cfg.Logging.Level, logging.RotationConfig{
			MaxSizeMB:  cfg.Logging.MaxSizeMB,
			MaxBackups: cfg.Logging.MaxBackups,
		})
	}
	return logging.NewLogger(cfg.Logging.File, cfg.Logging.Level)
}

func openStore(cfg *config.Config) (store.Store, func(), error) {
	switch cfg.Store.Backend {
	case "sqlite":
		db, err := store.OpenSQLite(cfg.Store.Path)
		if err != nil {
			return nil, nil, err
		}
		return db, func() { _ = db.Close() }, nil
	default:
		return store.NewMemoryStore(), func() {}, nil
	}
}
