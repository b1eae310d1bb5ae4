package commands

import (
	"context"
	"fmt"
	"image/png"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/bryanchriswhite/pwnegotiator/internal/capture/pipewire"
	"github.com/bryanchriswhite/pwnegotiator/internal/logger"
	"github.com/spf13/cobra"
)

var (
	captureOut     string
	captureTimeout time.Duration
)

var captureCmd = &cobra.Command{
	Use:   "capture",
	Short: "Capture one frame through the ScreenCast portal",
	Long: `Open a ScreenCast session, negotiate a video format with PipeWire using
the selected profile, and save the first converted frame as PNG.

The portal may show a dialog to pick the screen or window to share.`,
	Example: `  # Capture the desktop
  pwnegotiator capture --profile desktop --out frame.png`,
	Args: cobra.NoArgs,
	RunE: runCapture,
}

func init() {
	rootCmd.AddCommand(captureCmd)
	captureCmd.Flags().StringVarP(&captureOut, "out", "o", "frame.png", "PNG file to write")
	captureCmd.Flags().DurationVar(&captureTimeout, "timeout", 2*time.Minute, "how long to wait for the portal and the first frame")
}

func runCapture(cmd *cobra.Command, args []string) error {
	log := logger.WithComponent("capture")

	configMgr, err := loadConfig()
	if err != nil {
		return err
	}
	profile, err := configMgr.Profile(profileName())
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithTimeout(ctx, captureTimeout)
	defer cancel()

	capturer, err := pipewire.NewCapturer(profile, configMgr.Sources(profile.Name), nil)
	if err != nil {
		return err
	}
	if err := capturer.Start(ctx); err != nil {
		return err
	}
	defer capturer.Stop()

	sf, _ := capturer.Format()
	log.Info().
		Stringer("pixel_format", sf.PixelFormat).
		Uint32("width", sf.Width).
		Uint32("height", sf.Height).
		Msg("Waiting for first frame")

	ticker := time.NewTicker(20 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return fmt.Errorf("no frame captured: %w", ctx.Err())
		case <-ticker.C:
		}

		frame := capturer.LatestFrame()
		if frame == nil {
			continue
		}

		f, err := os.Create(captureOut)
		if err != nil {
			return fmt.Errorf("failed to create %s: %w", captureOut, err)
		}
		if err := png.Encode(f, frame); err != nil {
			f.Close()
			return fmt.Errorf("failed to encode frame: %w", err)
		}
		if err := f.Close(); err != nil {
			return err
		}

		fmt.Fprintf(cmd.OutOrStdout(), "Wrote %dx%d %s frame to %s\n", sf.Width, sf.Height, sf.PixelFormat, captureOut)
		return nil
	}
}
