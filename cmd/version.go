package cmd

import (
	"fmt"
	"runtime/debug"

	"github.com/spf13/cobra"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Prints the skein version",
	Run: func(cmd *cobra.Command, args []string) {
		info, ok := debug.ReadBuildInfo()
		if !ok {
			fmt.Println("skein (unknown version)")
			return
		}
		fmt.Printf("skein %s (%s)\n", info.Main.Version, info.GoVersion)
	},
	GroupID: "tools",
}

func init() {
	rootCmd.AddCommand(versionCmd)
}
