package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"

	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/3leaps/goflash/internal/observability"
	"github.com/3leaps/goflash/internal/server"
	"github.com/3leaps/goflash/internal/server/handlers"
)

var (
	serveHost string
	servePort int
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the compile and flash agent over HTTP",
	Long: `Start the HTTP agent.

Endpoints:
  GET  /health, /health/live, /health/ready, /health/startup
  GET  /version
  POST /v1/compile   {"board": "uno", "code": "..."}
  POST /v1/upload    {"board": "uno", "code": "...", "port": "COM3"}
  POST /v1/flash     {"board": "uno", "image": "s3://bucket/fw.hex"}
  GET  /v1/port?board=uno
  GET  /v1/boards
  GET  /v1/jobs, /v1/jobs/{id}

The server stops gracefully on SIGINT or SIGTERM.`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().StringVar(&serveHost, "host", "", "Listen host (default from config)")
	serveCmd.Flags().IntVar(&servePort, "port", 0, "Listen port (default from config)")
}

func serveOverrides(cmd *cobra.Command) map[string]any {
	overrides := map[string]any{}
	if cmd.Flags().Changed("host") {
		overrides["server.host"] = serveHost
	}
	if cmd.Flags().Changed("port") {
		overrides["server.port"] = servePort
	}
	return overrides
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(cmd.Context(), serveOverrides(cmd))
	if err != nil {
		return exitError(foundry.ExitInvalidArgument, "Invalid configuration", err)
	}

	logger, err := observability.NewLogger(appIdentity.BinaryName, cfg.Logging.Level, cfg.Logging.Format)
	if err != nil {
		return exitError(foundry.ExitInvalidArgument, "Invalid logging configuration", err)
	}
	defer func() { _ = logger.Sync() }()
	observability.ServerLogger = logger

	a, err := newAgent(cfg, logger)
	if err != nil {
		return exitError(foundry.ExitInvalidArgument, "Failed to initialize agent", err)
	}

	var shuttingDown atomic.Bool
	health := handlers.InitHealthManager(versionInfo.Version)
	health.RegisterChecker("project", handlers.ProjectChecker(a.resolver))
	health.RegisterChecker("workspace", handlers.DirWritableChecker(cfg.Workspace.Root))
	health.RegisterChecker("identity", identityHealthChecker{
		binaryName: appIdentity.BinaryName,
		envPrefix:  appIdentity.EnvPrefix,
		configName: appIdentity.ConfigName,
	})
	health.RegisterChecker("signals", signalHealthChecker{shuttingDown: &shuttingDown})

	opts := []server.Option{
		server.WithLogger(logger),
		server.WithCompiler(a.registry, a.resolver),
		server.WithTimeouts(cfg.Server.ReadTimeout, cfg.Server.WriteTimeout, cfg.Server.IdleTimeout),
	}
	if a.jobs != nil {
		opts = append(opts, server.WithJobs(a.jobs.Store()))
	}
	srv := server.New(cfg.Server.Host, cfg.Server.Port, opts...)

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		logger.Info("Starting server",
			zap.String("addr", srv.Addr()),
			zap.String("version", versionInfo.Version),
			zap.String("project_dir", cfg.Project.Dir),
			zap.Int("workspace_capacity", cfg.Workspace.Capacity))
		errCh <- srv.Start()
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return exitError(foundry.ExitExternalServiceUnavailable, "Server failed", err)
		}
		return nil
	case <-ctx.Done():
	}

	shuttingDown.Store(true)
	logger.Info("Shutting down server", zap.Duration("timeout", cfg.Server.ShutdownTimeout))

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return exitError(foundry.ExitExternalServiceUnavailable, "Graceful shutdown failed", err)
	}
	if err := <-errCh; err != nil {
		return exitError(foundry.ExitExternalServiceUnavailable, "Server failed", err)
	}
	logger.Info("Server stopped")
	return nil
}

// signalHealthChecker reports unhealthy once shutdown has begun, so load
// balancers stop routing new jobs to a draining agent.
type signalHealthChecker struct {
	shuttingDown *atomic.Bool
}

func (c signalHealthChecker) CheckHealth(ctx context.Context) error {
	if c.shuttingDown != nil && c.shuttingDown.Load() {
		return errors.New("shutdown in progress")
	}
	return nil
}

// identityHealthChecker verifies the application identity is complete.
type identityHealthChecker struct {
	binaryName string
	envPrefix  string
	configName string
}

func (c identityHealthChecker) CheckHealth(ctx context.Context) error {
	switch {
	case c.binaryName == "":
		return fmt.Errorf("identity invalid: missing binary name")
	case c.envPrefix == "":
		return fmt.Errorf("identity invalid: missing env prefix")
	case c.configName == "":
		return fmt.Errorf("identity invalid: missing config name")
	}
	return nil
}
