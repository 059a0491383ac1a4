package cmd

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/TheChickenIsOnFire/Openrouter-AI-Chat-Extension/internal/server"
)

var serveAddr string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the service",
	Long:  `Run the background service until interrupted.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if serveAddr != "" {
			cfg.Server.Addr = serveAddr
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		st, err := server.OpenStorage(cfg)
		if err != nil {
			return err
		}
		defer st.Close()

		srv, err := server.New(ctx, cfg, st)
		if err != nil {
			return err
		}
		logrus.WithFields(logrus.Fields{
			"storage":     cfg.Storage.Driver,
			"secret":      cfg.Secret.Backend,
			"interceptor": cfg.Interceptor.Mode,
		}).Info("service configured")
		return srv.Run(ctx)
	},
}

func init() {
	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "Listen address (overrides server.addr)")
	rootCmd.AddCommand(serveCmd)
}
