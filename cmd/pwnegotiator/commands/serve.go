package commands

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/bryanchriswhite/pwnegotiator/internal/api"
	"github.com/bryanchriswhite/pwnegotiator/internal/capture/pipewire"
	"github.com/bryanchriswhite/pwnegotiator/internal/logger"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var serveCapture bool

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the diagnostic HTTP API",
	Long: `Start the pwnegotiator HTTP API.

The API serves offers for every profile, decodes posted Format objects and
streams accepted formats over a websocket. With --capture it also opens a
ScreenCast session and exposes the live stream format and latest frame.`,
	Example: `  # Start server on default port (8080)
  pwnegotiator serve

  # Start server on custom port
  pwnegotiator serve --port 9090

  # Capture the desktop while serving
  pwnegotiator serve --capture --profile desktop`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().BoolVar(&serveCapture, "capture", false, "start a PipeWire capture session")
}

func runServe(cmd *cobra.Command, args []string) error {
	log := logger.WithComponent("serve")

	configMgr, err := loadConfig()
	if err != nil {
		return err
	}
	cfg := configMgr.Get()

	// Flag/env overrides apply to this run only
	port := cfg.ServerPort
	if p := viper.GetInt("server_port"); p > 0 {
		port = p
	}

	log.Info().
		Str("config", configMgr.GetConfigPath()).
		Str("log_level", cfg.LogLevel).
		Str("active_profile", cfg.ActiveProfile).
		Msg("Configuration loaded")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	feed := api.NewFeed()
	server := api.NewServer(configMgr, feed)

	if serveCapture {
		profile, err := configMgr.Profile(profileName())
		if err != nil {
			return err
		}
		capturer, err := pipewire.NewCapturer(profile, configMgr.Sources(profile.Name), feed.Publish)
		if err != nil {
			return fmt.Errorf("failed to create capturer: %w", err)
		}
		startCtx, cancel := context.WithTimeout(ctx, 2*time.Minute)
		err = capturer.Start(startCtx)
		cancel()
		if err != nil {
			return fmt.Errorf("failed to start capture: %w", err)
		}
		defer capturer.Stop()
		server.SetCapturer(capturer)
	}

	errChan := make(chan error, 1)
	go func() {
		errChan <- server.Start(port)
	}()

	log.Info().
		Int("port", port).
		Msgf("pwnegotiator is running: http://localhost:%d/api (Ctrl+C to stop)", port)

	select {
	case err := <-errChan:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	log.Info().Msg("Shutting down gracefully...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}
