package cmd

import (
	"fmt"
	"os"
	"strings"

	"github.com/encodeous/skein/state"
	"github.com/spf13/cobra"
)

var pathGraph []string

var pathCmd = &cobra.Command{
	Use:   "path <from> <to>",
	Short: "Prints the route a packet would take through a graph",
	Long: `Builds a graph from -g lines written in the sim graph syntax, and prints the shortest path between two nodes.
Nodes are every name that appears in a line and is not a group.`,
	Args: cobra.ExactArgs(2),
	Run: func(cmd *cobra.Command, args []string) {
		nodes := graphNodes(pathGraph)
		pairs, err := state.ParseGraph(pathGraph, nodes)
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
		addrs := make([]state.Address, 0, len(nodes))
		for _, n := range nodes {
			addrs = append(addrs, state.Address(n))
		}
		g := state.FromPairs(addrs, pairs)
		p := state.ShortestPath(g, state.Address(args[0]), state.Address(args[1]))
		if p == nil {
			fmt.Println("unreachable")
			os.Exit(1)
		}
		hops := make([]string, 0, len(p))
		for _, h := range p {
			hops = append(hops, string(h))
		}
		fmt.Println(strings.Join(hops, " -> "))
	},
	GroupID: "tools",
}

// graphNodes collects every name used in graph lines that is not defined as a group
func graphNodes(lines []string) []string {
	groups := make(map[string]struct{})
	for _, line := range lines {
		if grp, _, ok := strings.Cut(line, "="); ok {
			groups[strings.TrimSpace(grp)] = struct{}{}
		}
	}
	seen := make(map[string]struct{})
	nodes := make([]string, 0)
	for _, line := range lines {
		if _, members, ok := strings.Cut(line, "="); ok {
			line = members
		}
		for _, s := range strings.Split(line, ",") {
			s = strings.TrimSpace(s)
			if s == "" {
				continue
			}
			if _, ok := groups[s]; ok {
				continue
			}
			if _, ok := seen[s]; !ok {
				seen[s] = struct{}{}
				nodes = append(nodes, s)
			}
		}
	}
	return nodes
}

func init() {
	rootCmd.AddCommand(pathCmd)
	pathCmd.Flags().StringArrayVarP(&pathGraph, "graph", "g", nil, "graph line, may be repeated")
}
