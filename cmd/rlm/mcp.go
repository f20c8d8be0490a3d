package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/spf13/cobra"

	"github.com/nevindra/rlm/mcp"
)

// version is reported to MCP clients. Release builds set it with -ldflags.
var version = "dev"

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Run the Model Context Protocol (MCP) server",
	Long: `Serves the completion tool over MCP, so assistants can delegate questions
about large documents. With a trace store configured, list_sessions and the
rlm://sessions/{id} resource are exposed too.

Supported Transports:
- stdio (default): Uses Standard Input/Output. Ideal for local process integration.
- sse: Uses Server-Sent Events over HTTP.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		transport, _ := cmd.Flags().GetString("transport")
		port, _ := cmd.Flags().GetInt("port")
		if transport != "stdio" && transport != "sse" {
			return fmt.Errorf("unknown transport %q: supported are stdio and sse", transport)
		}

		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		log := newLogger(cfg)
		a, err := newApp(cmd.Context(), cfg, log)
		if err != nil {
			return err
		}
		defer a.Close(context.Background())

		opts := []mcp.Option{mcp.WithLogger(log)}
		if a.store != nil {
			opts = append(opts, mcp.WithStore(a.store))
		}
		srv := mcp.NewServer(a.completer, version, opts...)

		switch transport {
		case "sse":
			addr := fmt.Sprintf(":%d", port)
			err := srv.ServeSSE(cmd.Context(), addr, fmt.Sprintf("http://localhost:%d", port))
			if err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			log.Info("mcp server stopped")
			return nil
		default:
			log.Info("starting mcp server", "transport", "stdio")
			return srv.ServeStdio()
		}
	},
}

func init() {
	rootCmd.AddCommand(mcpCmd)

	mcpCmd.Flags().String("transport", "stdio", "Transport protocol to use: 'stdio' or 'sse'")
	mcpCmd.Flags().Int("port", 8080, "Port to listen on (only for SSE)")
}
