package main

import (
	"context"
	"fmt"

	sdkmcp "github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/spf13/cobra"

	"impactloop/internal/logging"
	mcpserver "impactloop/internal/mcp"
	"impactloop/internal/store"
)

func newServeCmd() *cobra.Command {
	var dbPath string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the MCP server over stdio",
		Long: `Starts an MCP server over stdin/stdout exposing run_pipeline,
list_components, get_run and list_runs. Runs are recorded in --db.

The server exits when its parent process goes away.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			st, err := store.Open(dbPath)
			if err != nil {
				return fmt.Errorf("open store: %w", err)
			}
			defer st.Close()

			srv := mcpserver.NewServer(version, nil, st)

			ctx, cancel := context.WithCancel(cmd.Context())
			defer cancel()
			mcpserver.WatchParent(ctx, mcpserver.DefaultParentPollInterval, cancel)

			logging.New("mcp").Info("starting impactloop MCP server over stdio", "db", dbPath)
			return srv.MCPServer.Run(ctx, &sdkmcp.StdioTransport{})
		},
	}
	cmd.Flags().StringVar(&dbPath, "db", store.DefaultDBPath, "SQLite database for run history")
	return cmd
}
