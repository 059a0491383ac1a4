package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/TheChickenIsOnFire/Openrouter-AI-Chat-Extension/internal/config"
	"github.com/TheChickenIsOnFire/Openrouter-AI-Chat-Extension/internal/logging"
)

var (
	configPath string
	logLevel   string
	serverURL  string
	version    = "dev"

	cfg *config.Config
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "orchat",
	Short: "Local OpenRouter chat companion service",
	Long: `orchat runs the background service behind the OpenRouter chat widget.

It keeps the API key encrypted at rest, attaches it to outgoing OpenRouter
requests, and holds every tab's chat sessions.

Quick Start:
  orchat serve                       # Start the service
  orchat key set sk-or-v1-...        # Store the API key
  orchat models --provider openai    # List models
  orchat command toggle-extension    # Show or hide the widget`,
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		loaded, err := config.Load(configPath)
		if err != nil {
			return err
		}
		if logLevel != "" {
			loaded.Log.Level = logLevel
		}
		if err := logging.Setup(loaded.Log.Level, loaded.Log.Format, cmd.ErrOrStderr()); err != nil {
			return err
		}
		cfg = loaded
		return nil
	},
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Config file (default $XDG_CONFIG_HOME/orchat/config.toml)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&serverURL, "server", "", "URL of a running service (default http://<server.addr>)")

	rootCmd.SetVersionTemplate(`{{printf "%s\n" .Version}}`)
}

// baseURL is where client commands reach the running service.
func baseURL() string {
	if serverURL != "" {
		return serverURL
	}
	return "http://" + cfg.Server.Addr
}
