package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "codecamp",
		Short: "An MCP server that teaches programming through interactive lessons",
		Long: `codecamp serves programming courses over the Model Context Protocol.
Clients browse courses, start lessons and submit code for guided feedback
through MCP tools, over either an SSE stream or stdio.`,
		SilenceUsage: true,
	}
	rootCmd.AddCommand(serveCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
