package cli

import (
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/ppiankov/veritas/internal/pipeline"
	"github.com/ppiankov/veritas/internal/server"
)

var serveAddr string

// serveCmd represents the serve command
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the verification API over HTTP",
	Long: `Serve exposes POST /verify and GET /healthz.

Example:
  veritas serve
  veritas serve --addr :9090
  curl -s localhost:8080/verify -d '{"claim":"The Moon orbits the Earth","explain":true}'`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		applyLLMFlags(cmd, cfg)
		if cmd.Flags().Changed("addr") {
			cfg.Server.Addr = serveAddr
		}

		p, err := pipeline.NewFromConfig(cfg)
		if err != nil {
			return fmt.Errorf("create pipeline: %w", err)
		}
		return server.New(p, cfg.Server).ListenAndServe(ctx)
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "listen address (default: server.addr)")
	addLLMFlags(serveCmd)
}
