package cmd

import (
	"fmt"
	"runtime/debug"

	"github.com/Simenb123/saft"
	"github.com/spf13/cobra"
)

// versionCmd represents the version command
var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print parser version",
	Run: func(_ *cobra.Command, _ []string) {
		fmt.Println("saft", saft.ParserVersion)
		if info, ok := debug.ReadBuildInfo(); ok {
			fmt.Println("built with", info.GoVersion)
		}
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}
