package commands

import (
	"fmt"
	"runtime/debug"

	"github.com/spf13/cobra"
)

// Version is set at build time via -ldflags
var Version = "dev"

// VersionCmd prints the build version
var VersionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the signalpress version",
	Run: func(cmd *cobra.Command, args []string) {
		version := Version
		if version == "dev" {
			if info, ok := debug.ReadBuildInfo(); ok && info.Main.Version != "" {
				version = info.Main.Version
			}
		}
		fmt.Printf("signalpress %s\n", version)
	},
}
