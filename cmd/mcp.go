package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/denysvitali/sharedfiles-go/pkg/config"
	"github.com/denysvitali/sharedfiles-go/pkg/mcp"
	"github.com/denysvitali/sharedfiles-go/pkg/store"
)

// mcpCmd serves the shared root as MCP tools over stdio
var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Serve the shared folder as MCP tools over stdio",
	RunE:  runMCP,
}

func init() {
	rootCmd.AddCommand(mcpCmd)
}

func runMCP(cmd *cobra.Command, args []string) error {
	logger := GetLogger()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	st, err := store.New(cfg, logger)
	if err != nil {
		return err
	}

	return mcp.NewServer(logger, st, Version).ServeStdio()
}
