package cmd

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/encodeous/skein/core"
	"github.com/encodeous/skein/link"
	"github.com/encodeous/skein/state"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

var (
	simPing    string
	simInspect bool
)

var simCmd = &cobra.Command{
	Use:   "sim",
	Short: "Simulates a mesh in-process",
	Long: `Starts every node of the sim config in this process, with one in-process bus per graph edge.
It waits for discovery to converge, then prints the graph each node learned.`,
	Run: func(cmd *cobra.Command, args []string) {
		if configPath == "" {
			fmt.Fprintln(os.Stderr, "sim requires --config")
			os.Exit(1)
		}
		cfg, err := state.ReadSimConfig(configPath)
		if err != nil {
			panic(err)
		}
		if err = state.SimConfigValidator(cfg); err != nil {
			panic(err)
		}
		if cfg.Settle == 0 {
			cfg.Settle = state.DefaultSimSettle
		}
		pairs, err := state.ParseGraph(cfg.Graph, cfg.Nodes)
		if err != nil {
			panic(err)
		}

		nodes := make([]state.Address, 0, len(cfg.Nodes))
		buses := make(map[state.Address][]string)
		for _, n := range cfg.Nodes {
			nodes = append(nodes, state.Address(n))
		}
		for _, p := range pairs {
			name := fmt.Sprintf("%s~%s", p.V1, p.V2)
			buses[p.V1] = append(buses[p.V1], name)
			buses[p.V2] = append(buses[p.V2], name)
		}

		ctx := context.Background()
		set := link.NewBusSet()
		reg := core.NewRegistry()
		defer reg.CloseAll()
		for _, n := range nodes {
			ncfg := cfg.Node
			ncfg.Address = n
			ncfg.Links = state.LinksCfg{Bus: buses[n]}
			applyFlags(&ncfg)
			logger, closeLog, err := core.NewLogger(&ncfg)
			if err != nil {
				panic(err)
			}
			defer closeLog()
			_, err = reg.BindWithLogger(ctx, ncfg, logger, link.FromConfig(&ncfg, set, logger)...)
			if err != nil {
				panic(err)
			}
		}
		serveDebug()

		expected := state.FromPairs(nodes, pairs)
		start := time.Now()
		if converged(reg, expected, cfg.Settle) {
			fmt.Printf("converged in %s\n", time.Since(start).Round(time.Millisecond))
		} else {
			fmt.Printf("did not converge within %s\n", cfg.Settle)
		}

		graphs := make(map[string]map[string][]string)
		for _, sk := range reg.Sockets() {
			graphs[string(sk.Address())] = printable(sk.Graph())
		}
		out, err := yaml.Marshal(graphs)
		if err != nil {
			panic(err)
		}
		fmt.Print(string(out))

		if simInspect {
			for _, sk := range reg.Sockets() {
				res, err := sk.Inspect()
				if err != nil {
					panic(err)
				}
				fmt.Println(res)
			}
		}

		if simPing != "" {
			if err := ping(ctx, reg, simPing); err != nil {
				fmt.Fprintln(os.Stderr, "ping failed:", err)
				os.Exit(1)
			}
		}
	},
	GroupID: "tools",
}

func converged(reg *core.Registry, expected state.Graph, limit time.Duration) bool {
	deadline := time.Now().Add(limit)
	for time.Now().Before(deadline) {
		done := true
		for _, sk := range reg.Sockets() {
			if !sk.Graph().Equal(expected) {
				done = false
				break
			}
		}
		if done {
			return true
		}
		time.Sleep(50 * time.Millisecond)
	}
	return false
}

func printable(g state.Graph) map[string][]string {
	out := make(map[string][]string, len(g))
	for node, lst := range g {
		nb := make([]string, 0, len(lst))
		for _, n := range lst {
			nb = append(nb, string(n))
		}
		out[string(node)] = nb
	}
	return out
}

// ping sends a request from one simulated node to another, given as "from,to"
func ping(ctx context.Context, reg *core.Registry, spec string) error {
	from, to, ok := strings.Cut(spec, ",")
	if !ok {
		return fmt.Errorf("expected from,to but got %q", spec)
	}
	src, ok := reg.Lookup(state.Address(strings.TrimSpace(from)))
	if !ok {
		return fmt.Errorf("unknown node %s", from)
	}
	dst, ok := reg.Lookup(state.Address(strings.TrimSpace(to)))
	if !ok {
		return fmt.Errorf("unknown node %s", to)
	}
	if err := registerEcho(dst, "ping"); err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	start := time.Now()
	res, err := src.Call(ctx, dst.Address(), "ping", fmt.Sprintf("hello from %s", src.Address()))
	if err != nil {
		return err
	}
	fmt.Printf("%s -> %s: %v (%s)\n", src.Address(), dst.Address(), res, time.Since(start).Round(time.Microsecond))
	return nil
}

func init() {
	rootCmd.AddCommand(simCmd)
	simCmd.Flags().StringVar(&simPing, "ping", "", "after converging, request from,to")
	simCmd.Flags().BoolVar(&simInspect, "inspect", false, "print the inspect dump of every node")
}
