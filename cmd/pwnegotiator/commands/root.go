package commands

import (
	"fmt"
	"os"
	"strings"

	"github.com/bryanchriswhite/pwnegotiator/internal/config"
	"github.com/bryanchriswhite/pwnegotiator/internal/logger"
	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	cfgFile string
	rootCmd = &cobra.Command{
		Use:   "pwnegotiator",
		Short: "pwnegotiator - PipeWire screen-capture format negotiation",
		Long: `pwnegotiator builds the video format offer a screen-capture client sends
to PipeWire, decodes the format the server picks, and maps it onto the pixel
formats the capture pipeline can consume.

Features:
  • EnumFormat offers built from named capability profiles
  • Decoding of server Format objects with typed rejections
  • Injective server-to-pixel format tables
  • xdg-desktop-portal ScreenCast capture through GStreamer
  • HTTP diagnostic API with a live feed of accepted formats`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			initLogger()
			return nil
		},
	}
)

func init() {
	cobra.OnInitialize(initConfig)

	// Global flags
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.config/pwnegotiator/config.yaml)")
	rootCmd.PersistentFlags().Int("port", 0, "server port (default is 8080)")
	rootCmd.PersistentFlags().String("log-level", "", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringP("profile", "p", "", "negotiation profile (default is the configured active profile)")

	// Bind flags to viper
	viper.BindPFlag("server_port", rootCmd.PersistentFlags().Lookup("port"))
	viper.BindPFlag("log_level", rootCmd.PersistentFlags().Lookup("log-level"))
	viper.BindPFlag("profile", rootCmd.PersistentFlags().Lookup("profile"))

	// PWNEGOTIATOR_LOG_LEVEL, PWNEGOTIATOR_SERVER_PORT, PWNEGOTIATOR_PROFILE
	viper.SetEnvPrefix("pwnegotiator")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_", ".", "_"))
	viper.AutomaticEnv()
}

func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	}
}

// initLogger applies the flag/env level before the config is read, so config
// loading itself can be traced.
func initLogger() {
	logger.Init(viper.GetString("log_level"), prettyLogs())
}

// prettyLogs selects console output when stderr is a terminal
func prettyLogs() bool {
	return isatty.IsTerminal(os.Stderr.Fd())
}

// Execute runs the root command
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// GetConfigFile returns the config file path
func GetConfigFile() string {
	return cfgFile
}

// loadConfig opens the config manager and re-initializes logging with the
// configured level unless a flag or env var overrides it.
func loadConfig() (*config.Manager, error) {
	configMgr, err := config.NewManager(GetConfigFile())
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if viper.GetString("log_level") == "" {
		logger.Init(configMgr.Get().LogLevel, prettyLogs())
	}
	return configMgr, nil
}

// profileName returns the --profile flag or PWNEGOTIATOR_PROFILE value.
func profileName() string {
	return viper.GetString("profile")
}
