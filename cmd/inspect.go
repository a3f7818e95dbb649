package cmd

import (
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/spf13/cobra"
)

var inspectCmd = &cobra.Command{
	Use:     "inspect <debug-addr>",
	Aliases: []string{"i"},
	Short:   "Inspects the state of a node started with --debug-addr",
	Run: func(cmd *cobra.Command, args []string) {
		if len(args) != 1 {
			fmt.Println("Usage: skein inspect <debug-addr>")
			return
		}
		url := args[0]
		if !strings.Contains(url, "://") {
			url = "http://" + url
		}
		res, err := http.Get(strings.TrimSuffix(url, "/") + "/debug/skein/inspect")
		if err != nil {
			fmt.Println("Error:", err.Error())
			return
		}
		defer res.Body.Close()
		body, err := io.ReadAll(res.Body)
		if err != nil {
			fmt.Println("Error:", err.Error())
			return
		}
		fmt.Print(string(body))
	},
	GroupID: "node",
}

func init() {
	rootCmd.AddCommand(inspectCmd)
}
