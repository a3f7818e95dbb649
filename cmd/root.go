package cmd

import (
	"log"
	"net/http"
	"os"

	"github.com/encodeous/skein/state"
	"github.com/spf13/cobra"
)

var (
	configPath string
	verbose    bool
	logPath    string
	debugAddr  string
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "skein",
	Short: "skein decentralized message broker",
	Long: `skein is a decentralized message broker.
Nodes discover each other by gossip, and route pushes, requests and subscriptions over whatever links they share, without a central server.`,
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	err := rootCmd.Execute()
	if err != nil {
		os.Exit(1)
	}
}

// applyFlags overrides config values with the persistent flags
func applyFlags(cfg *state.LocalCfg) {
	if verbose {
		cfg.LogLevel = "debug"
	}
	if logPath != "" {
		cfg.LogPath = logPath
	}
}

// serveDebug exposes expvar metrics and the handlers registered by the commands
func serveDebug() {
	if debugAddr == "" {
		return
	}
	go func() {
		log.Println(http.ListenAndServe(debugAddr, nil))
	}()
}

func init() {
	rootCmd.AddGroup(&cobra.Group{
		ID:    "node",
		Title: "Node Commands",
	})
	rootCmd.AddGroup(&cobra.Group{
		ID:    "tools",
		Title: "Tools",
	})
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "config file (yaml, json or jsonc)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Verbose output")
	rootCmd.PersistentFlags().StringVar(&logPath, "log", "", "also write logs to this file")
	rootCmd.PersistentFlags().StringVar(&debugAddr, "debug-addr", "", "serve /debug/metrics, /debug/vars and /debug/skein/inspect on this address")
}
