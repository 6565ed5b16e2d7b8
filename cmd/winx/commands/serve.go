package commands

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/rokytory/winx-code-agent/internal/logging"
	"github.com/rokytory/winx-code-agent/pkg/mcpserver"
)

var (
	serveTransport string
	serveAddr      string
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the tools over MCP",
	Long: `Serve the tools as an MCP server.

With the default stdio transport, stdin and stdout carry MCP messages; point
an MCP client's command at 'winx serve'. Logs never go to stdout.
The sse transport listens on --addr instead.`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().StringVar(&serveTransport, "transport", "stdio", "Transport (stdio|sse)")
	serveCmd.Flags().StringVar(&serveAddr, "addr", "127.0.0.1:7879", "Listen address for the sse transport")
}

func runServe(cmd *cobra.Command, args []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	s := mcpserver.NewServer(a.tools, Version)

	switch serveTransport {
	case "stdio":
		logging.Info().Msg("Serving MCP on stdio")
		err := mcpserver.ServeStdio(ctx, s, os.Stdin, os.Stdout)
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err

	case "sse":
		sse := mcpserver.NewSSEServer(s, "http://"+serveAddr)
		errCh := make(chan error, 1)
		go func() {
			logging.Info().Str("addr", serveAddr).Msg("Serving MCP over SSE")
			errCh <- sse.Start(serveAddr)
		}()

		select {
		case err := <-errCh:
			if errors.Is(err, http.ErrServerClosed) {
				return nil
			}
			return err
		case <-ctx.Done():
		}

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return sse.Shutdown(shutdownCtx)

	default:
		return fmt.Errorf("unknown transport %q (want stdio or sse)", serveTransport)
	}
}
