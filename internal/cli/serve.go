package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"chatroute/internal/gateway"
	"chatroute/internal/profiles"
)

// NewServeCmd creates the serve command.
func NewServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the chat routing gateway",
		Long: `Start the chat routing gateway.

This command starts the HTTP gateway that provides:
- POST /api/v1/chat            streamed chat with route failover
- GET  /api/v1/health          liveness and configured targets
- GET  /api/v1/routes/{id}     effective route plan for a conversation

The server listens on the configured host and port (default: 127.0.0.1:8787).`,
		Example: `  # Start with the default configuration
  chatroute serve

  # Start on a custom port
  chatroute serve --port 9000

  # Keep conversation routes in memory only
  chatroute serve --routes-driver memory`,
		RunE: runServe,
	}

	cmd.Flags().IntP("port", "p", 0, "port to listen on (overrides config)")
	cmd.Flags().String("host", "", "host to bind to (overrides config)")
	cmd.Flags().String("routes-driver", "", "conversation route store: memory, sqlite or config (overrides config)")

	return cmd
}

func runServe(cmd *cobra.Command, args []string) error {
	cliCtx := GetCLIContext(cmd)
	if cliCtx == nil {
		return fmt.Errorf("CLI context not initialized")
	}

	cfg := cliCtx.Config
	log := cliCtx.Log()

	// Override config with flags if provided
	if port, _ := cmd.Flags().GetInt("port"); port > 0 {
		cfg.Gateway.Port = port
	}
	if host, _ := cmd.Flags().GetString("host"); host != "" {
		cfg.Gateway.Host = host
	}
	if driver, _ := cmd.Flags().GetString("routes-driver"); driver != "" {
		cfg.Store.RoutesDriver = driver
	}

	rt, err := BuildRuntime(cliCtx)
	if err != nil {
		return fmt.Errorf("failed to build runtime: %w", err)
	}

	srv := gateway.NewServer(cfg, rt.Deps(cliCtx))

	if cfg.Gateway.WatchConfig {
		watcher, err := profiles.NewWatcher(rt.Profiles, cfg.Gateway.WatchDebounce)
		if err != nil {
			log.Warn().Err(err).Msg("Profile watcher unavailable")
		} else if err := watcher.Start(); err != nil {
			log.Warn().Err(err).Msg("Profile watcher failed to start")
		} else {
			srv.OnShutdown(watcher.Stop)
			log.Info().Str("path", rt.Profiles.Path()).Msg("Watching profile document")
		}
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	log.Info().
		Str("address", "http://"+srv.Addr()).
		Str("profiles", rt.Profiles.Path()).
		Str("routes_driver", cfg.Store.RoutesDriver).
		Msg("Server started")

	// Wait for interrupt signal
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	select {
	case <-sigCh:
		log.Info().Msg("Shutting down server...")
	case err := <-errCh:
		if err != nil {
			log.Error().Err(err).Msg("Server error")
			return err
		}
		return nil
	}

	// Graceful shutdown
	if err := srv.Shutdown(context.Background()); err != nil {
		log.Error().Err(err).Msg("Error during shutdown")
		return err
	}

	log.Info().Msg("Server stopped")
	return nil
}
