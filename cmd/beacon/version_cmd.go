package main

import (
	"fmt"
	"runtime"

	"github.com/fentz26/beacon/internal/protocol"
	"github.com/spf13/cobra"
)

// version is set at build time via -ldflags "-X main.version=...".
var version = "dev"

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("beacon %s (wire schema v%d, %s %s/%s)\n",
			version, protocol.SchemaVersion, runtime.Version(), runtime.GOOS, runtime.GOARCH)
	},
}
