package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// serverName is reported by GET /api/stats.
const serverName = "RUBIS TV Viewer Tracker"

// version is overridden at build time with -ldflags "-X main.version=…".
var version = "1.0.0"

func main() {
	if err := newRootCmd().ExecuteContext(context.Background()); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "viewertrack-server",
		Short:         "Live viewer counts per channel over WebSocket",
		SilenceUsage: true,
	}
	root.AddCommand(newServeCmd(), newVersionCmd())
	return root
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the server version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", serverName, version)
		},
	}
}
