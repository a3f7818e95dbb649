package cmd

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/encodeous/skein/core"
	"github.com/encodeous/skein/link"
	"github.com/encodeous/skein/state"
	"github.com/spf13/cobra"
)

var echoKey string

// runCmd represents the run command
var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run a skein node",
	Long:  `This binds a single node with the links from the config, and runs it until SIGINT or SIGTERM.`,
	Run: func(cmd *cobra.Command, args []string) {
		cfg := &state.LocalCfg{}
		if configPath != "" {
			var err error
			cfg, err = state.ReadLocalConfig(configPath)
			if err != nil {
				panic(err)
			}
		}
		applyFlags(cfg)
		state.ExpandLocalConfig(cfg)
		err := state.LocalConfigValidator(cfg)
		if err != nil {
			panic(err)
		}

		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		logger, closeLog, err := core.NewLogger(cfg)
		if err != nil {
			panic(err)
		}
		defer closeLog()

		reg := core.NewRegistry()
		sk, err := reg.BindWithLogger(ctx, *cfg, logger, link.FromConfig(cfg, link.NewBusSet(), logger)...)
		if err != nil {
			panic(err)
		}
		defer sk.Close()

		if echoKey != "" {
			if err = registerEcho(sk, echoKey); err != nil {
				panic(err)
			}
		}

		http.HandleFunc("/debug/skein/inspect", func(w http.ResponseWriter, r *http.Request) {
			res, err := sk.Inspect()
			if err != nil {
				http.Error(w, err.Error(), http.StatusServiceUnavailable)
				return
			}
			_, _ = fmt.Fprint(w, res)
		})
		serveDebug()

		logger.Info("skein is running. To gracefully exit, send SIGINT or Ctrl+C.", "address", sk.Address())
		<-sk.Done()
		if err := sk.Err(); err != nil && ctx.Err() == nil {
			fmt.Fprintln(os.Stderr, "node stopped:", err)
			os.Exit(1)
		}
	},
	GroupID: "node",
}

// registerEcho answers requests and subscriptions on key with their own payload
func registerEcho(sk *core.Socket, key string) error {
	echo := func(ctx context.Context, req *state.AppPacket, emit core.Emitter) error {
		return emit(req.Body)
	}
	if err := sk.HandleRequests(key, echo); err != nil {
		return err
	}
	return sk.HandleSubscriptions(key, echo)
}

func init() {
	rootCmd.AddCommand(runCmd)
	runCmd.Flags().StringVar(&echoKey, "echo", "", "answer requests and subscriptions on this key with their payload")
}
