package main

import (
	"github.com/spf13/cobra"

	"github.com/parakeet-labs/parakeet/internal/mcp"
)

func mcpCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "mcp",
		Short: "Serve vault tools to agents over stdio",
		Long: `Runs the Model Context Protocol server on stdin/stdout. Agents get
read-only tools: vault_status, search_similar, plan_simulate, and
learning_status. Applying moves stays with the CLI.

Example client registration:
  { "command": "parakeet", "args": ["mcp", "--vault", "/path/to/vault"] }`,
		Args: exactArgs(0),
		RunE: func(cmd *cobra.Command, args []string) error {
			sess, log, err := openSession(cmd)
			if err != nil {
				return err
			}
			defer sess.Close()
			return mcp.Serve(cmd.Context(), sess, Version, log)
		},
	}
}
