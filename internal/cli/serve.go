package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"chorus/internal/server"
)

// NewServeCmd creates the serve command.
func NewServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the chorus server",
		Long: `Start the chorus server.

This command starts:
- the REST API and the WebSocket endpoint
- the conversation engine with every configured character
- the background compression sweeper (unless cron.enabled is false)

Notifications go to the log, WebSocket subscribers and, when nats.url is
set, to NATS.`,
		Example: `  # Start server with default configuration
  chorus serve

  # Start server with custom port
  chorus serve --port 9090`,
		RunE: runServe,
	}

	cmd.Flags().IntP("port", "p", 0, "port to listen on (overrides config)")
	cmd.Flags().String("host", "", "host to bind to (overrides config)")
	cmd.Flags().Bool("no-cron", false, "disable the background sweeper")

	return cmd
}

func runServe(cmd *cobra.Command, args []string) error {
	cliCtx := GetCLIContext(cmd)
	if cliCtx == nil {
		return fmt.Errorf("CLI context not initialized")
	}

	cfg := cliCtx.Config
	log := cliCtx.Log()

	if port, _ := cmd.Flags().GetInt("port"); port > 0 {
		cfg.Gateway.Port = port
	}
	if host, _ := cmd.Flags().GetString("host"); host != "" {
		cfg.Gateway.Host = host
	}
	if noCron, _ := cmd.Flags().GetBool("no-cron"); noCron {
		cfg.Cron.Enabled = false
	}

	srv, err := server.NewServer(server.ServerConfig{
		Config:  cfg,
		Logger:  *log,
		Version: Version,
	})
	if err != nil {
		return fmt.Errorf("failed to create server: %w", err)
	}
	if err := srv.Start(); err != nil {
		return fmt.Errorf("failed to start server: %w", err)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	var runErr error
	select {
	case <-sigCh:
		log.Info().Msg("Shutting down server...")
	case runErr = <-srv.ErrorChan():
		log.Error().Err(runErr).Msg("Server error")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Stop(ctx); err != nil {
		log.Error().Err(err).Msg("Error during shutdown")
		if runErr == nil {
			runErr = err
		}
	}
	return runErr
}
