package commands

import (
	sdkmcp "github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/roasbeef/deckview/internal/mcp"
	"github.com/spf13/cobra"
)

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Serve the presentation tools over MCP on stdio",
	Long: `Run an MCP server on stdin/stdout exposing list, get, generate, update
and delete tools for the signed in user's presentations. Sign in with
deckctl login first; logs go to stderr and the log file.`,
	Args: cobra.NoArgs,
	RunE: runMCP,
}

func runMCP(cmd *cobra.Command, args []string) error {
	ctx, cancel := commandContext()
	defer cancel()

	rt, err := newRuntime(ctx)
	if err != nil {
		return err
	}
	defer rt.Close()

	// Fail early rather than on every tool call.
	if _, err := rt.app.WhoAmI(); err != nil {
		return err
	}

	server := mcp.NewServer(mcp.Config{
		Presentations: rt.app.Presentations(),
	})

	return server.Run(ctx, &sdkmcp.StdioTransport{})
}
