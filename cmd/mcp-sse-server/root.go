package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newRootCommand(version, commit, date string) *cobra.Command {
	root := &cobra.Command{
		Use:   "mcp-sse-server",
		Short: "MCP server over Server-Sent Events and HTTP POST",
		Long: `mcp-sse-server holds one Server-Sent Events connection per client session and
answers JSON-RPC request calls posted to the message endpoint.

Settings come from MCP_SSE_* environment variables and an optional TOML file.`,
		Version:       fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
		SilenceUsage:  true,
		SilenceErrors: true,
		CompletionOptions: cobra.CompletionOptions{
			DisableDefaultCmd: true,
		},
	}
	root.AddCommand(newServeCommand())
	return root
}
