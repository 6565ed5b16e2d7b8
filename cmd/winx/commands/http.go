package commands

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/rokytory/winx-code-agent/internal/logging"
	"github.com/rokytory/winx-code-agent/internal/server"
)

var httpAddr string

var httpCmd = &cobra.Command{
	Use:   "http",
	Short: "Serve the tools as a JSON HTTP API",
	Long: `Serve the tools over HTTP.

GET /tools lists the tools, POST /tools/{name} runs one with the JSON body
as input, and GET /events streams workspace events.`,
	RunE: runHTTP,
}

func init() {
	httpCmd.Flags().StringVar(&httpAddr, "addr", "", "Listen address (default from config, 127.0.0.1:7878)")
}

func runHTTP(cmd *cobra.Command, args []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.Close()

	cfg := server.DefaultConfig()
	cfg.Addr = a.config.HTTP.Addr
	if httpAddr != "" {
		cfg.Addr = httpAddr
	}
	cfg.CORSOrigins = a.config.HTTP.CORSOrigins
	cfg.Version = Version

	srv := server.New(cfg, a.dispatcher, a.tools, a.bus)

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logging.Info().Msg("Shutting down HTTP server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
