package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/fjacquet/archer_ops/internal/logging"
	"github.com/fjacquet/archer_ops/internal/models"
	"github.com/gorilla/mux"
	"github.com/spf13/cobra"
)

func newMCPCmd(a *app) *cobra.Command {
	var transport, listen string
	cmd := &cobra.Command{
		Use:   "mcp",
		Short: "Run the MCP server",
		Long:  "Run the MCP server over stdio for a local assistant, or over streamable HTTP on --listen",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := a.config()
			if !cmd.Flags().Changed("transport") {
				transport = cfg.MCP.Transport
			}
			if !cmd.Flags().Changed("listen") {
				listen = cfg.MCP.Listen
			}

			srv, err := a.mcpServer()
			if err != nil {
				return err
			}
			switch transport {
			case "", models.TransportStdio:
				return srv.Run(cmd.Context())
			case models.TransportHTTP:
				defer srv.Close()
				return serveMCP(cmd.Context(), listen, srv.Handler())
			default:
				return fmt.Errorf("unknown transport %q (use stdio or http)", transport)
			}
		},
	}
	cmd.Flags().StringVar(&transport, "transport", models.TransportStdio, "stdio or http (default: mcp.transport)")
	cmd.Flags().StringVar(&listen, "listen", "127.0.0.1:8080", "HTTP listen address (default: mcp.listen)")
	return cmd
}

// serveMCP serves h on addr until ctx ends.
func serveMCP(ctx context.Context, addr string, h http.Handler) error {
	access := accessLog()
	defer func() { _ = access.Close() }()
	r := mux.NewRouter()
	mountMCP(r, baseChain(access), h)
	srv := &http.Server{Addr: addr, Handler: r, ReadHeaderTimeout: readHeaderTimeout}

	errc := make(chan error, 1)
	go func() {
		logging.Component("mcp").Infof("Serving MCP on http://%s%s", addr, mcpPath)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errc <- err
		}
	}()
	if err := waitForShutdown(ctx, errc); err != nil {
		return fmt.Errorf("mcp http server: %w", err)
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
