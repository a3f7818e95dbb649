package state

import (
	"fmt"
	"log/slog"
	"maps"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/goccy/go-yaml"
	"github.com/google/uuid"
	"github.com/tidwall/jsonc"
)

// LocalCfg configures a single bound node
type LocalCfg struct {
	// Address of this node, a random one is minted when empty
	Address Address `yaml:"address,omitempty"`
	// TrustedOrigins lists the remote identities packets are accepted from. "*" trusts everyone.
	TrustedOrigins []string `yaml:"trusted,omitempty"`
	// Debug publishes dispatch trace events
	Debug    bool   `yaml:"debug,omitempty"`
	LogPath  string `yaml:"logPath,omitempty"`
	LogLevel string `yaml:"logLevel,omitempty"`

	StartingTTL       uint8         `yaml:"ttl,omitempty"`
	DedupTTL          time.Duration `yaml:"dedupTtl,omitempty"`
	DiscoveryInterval time.Duration `yaml:"discoveryInterval,omitempty"`
	// InboundBufferLimit bounds each (protocol, key) queue awaiting a handler. 0 is unbounded.
	InboundBufferLimit int `yaml:"inboundBufferLimit,omitempty"`
	// OutboundBufferLimit bounds each queue of packets awaiting a route. 0 is unbounded.
	OutboundBufferLimit int `yaml:"outboundBufferLimit,omitempty"`

	Links LinksCfg `yaml:"links,omitempty"`
}

type LinksCfg struct {
	// Bus names the in-process buses to join
	Bus       []string      `yaml:"bus,omitempty"`
	Quic      *QuicCfg      `yaml:"quic,omitempty"`
	GossipSub *GossipSubCfg `yaml:"gossipsub,omitempty"`
}

type QuicCfg struct {
	Listen    string        `yaml:"listen,omitempty"`
	Peers     []string      `yaml:"peers,omitempty"`
	DialRetry time.Duration `yaml:"dialRetry,omitempty"`
}

type GossipSubCfg struct {
	Listen    []string `yaml:"listen,omitempty"`
	Bootstrap []string `yaml:"bootstrap,omitempty"`
	Topic     string   `yaml:"topic,omitempty"`
	MDNS      bool     `yaml:"mdns,omitempty"`
}

// SimCfg describes an in-process mesh where every edge of Graph is its own bus
type SimCfg struct {
	Nodes  []string      `yaml:"nodes"`
	Graph  []string      `yaml:"graph"`
	Settle time.Duration `yaml:"settle,omitempty"`
	// Node is applied to every simulated node
	Node LocalCfg `yaml:"node,omitempty"`
}

func readConfig(path string, out any) error {
	file, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	if filepath.Ext(path) == ".jsonc" {
		file = jsonc.ToJSON(file)
	}
	if err = yaml.Unmarshal(file, out); err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}
	return nil
}

func ReadLocalConfig(path string) (*LocalCfg, error) {
	var cfg LocalCfg
	if err := readConfig(path, &cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func ReadSimConfig(path string) (*SimCfg, error) {
	var cfg SimCfg
	if err := readConfig(path, &cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// ExpandLocalConfig fills unset fields with defaults
func ExpandLocalConfig(cfg *LocalCfg) {
	if cfg.Address == "" {
		cfg.Address = Address(uuid.NewString())
	}
	if cfg.StartingTTL == 0 {
		cfg.StartingTTL = StartingTTL
	}
	if cfg.DedupTTL == 0 {
		cfg.DedupTTL = DedupTTL
	}
	if cfg.DiscoveryInterval == 0 {
		cfg.DiscoveryInterval = DiscoveryInterval
	}
	if q := cfg.Links.Quic; q != nil && q.DialRetry == 0 {
		q.DialRetry = QuicDialRetry
	}
	if g := cfg.Links.GossipSub; g != nil && g.Topic == "" {
		g.Topic = DefaultGossipTopic
	}
}

func ParseLogLevel(s string) (slog.Level, error) {
	var level slog.Level
	if s == "" {
		return slog.LevelInfo, nil
	}
	err := level.UnmarshalText([]byte(s))
	return level, err
}

/*
ParseGraph Graph syntax is something like this:

Group1 = node1, node2, node3

Group2 = node4, node5

Group1, Group2, OtherNode // Group1, Group2, OtherNode will all be interconnected, but not within Group1 or Group2

Group1, Group1 // every node is connected to every other node

node8, node9 // node8 and node9 will be connected

nodes is the set of terminal addresses the groups expand down to
*/
func ParseGraph(graph []string, nodes []string) ([]Pair[Address, Address], error) {
	symbols := slices.Clone(nodes)
	defs := make(map[string][]string)

	// collect group names first, so lines may reference groups defined later
	for _, line := range graph {
		line = strings.TrimSpace(line)
		if !strings.Contains(line, "=") {
			continue
		}
		spl := strings.Split(line, "=")
		if len(spl) != 2 {
			return nil, fmt.Errorf("invalid graph: %s. group definition must contain one '='", line)
		}
		grp := strings.TrimSpace(spl[0])
		if slices.Contains(nodes, grp) {
			return nil, fmt.Errorf("group name must not be a node name: %s", grp)
		}
		if _, ok := defs[grp]; ok {
			return nil, fmt.Errorf("duplicate group name: %s", grp)
		}
		defs[grp] = nil
		symbols = append(symbols, grp)
	}

	links := make([][]string, 0)
	for _, line := range graph {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if grp, members, ok := strings.Cut(line, "="); ok {
			lst, err := parseSymbolList(members, symbols)
			if err != nil {
				return nil, err
			}
			defs[strings.TrimSpace(grp)] = lst
			continue
		}
		names, err := parseSymbolList(line, symbols)
		if err != nil {
			return nil, err
		}
		if len(names) < 2 {
			return nil, fmt.Errorf("invalid pairing, %v", names)
		}
		links = append(links, names)
	}

	expanded, err := expandGroups(defs, nodes)
	if err != nil {
		return nil, err
	}
	resolve := func(sym string) []string {
		if slices.Contains(nodes, sym) {
			return []string{sym}
		}
		return expanded[sym]
	}

	pairings := make([]Pair[Address, Address], 0)
	for _, names := range links {
		for i := range names {
			for j := i + 1; j < len(names); j++ {
				for _, x := range resolve(names[i]) {
					for _, y := range resolve(names[j]) {
						if x != y {
							pairings = append(pairings, MakeSortedPair(Address(x), Address(y)))
						}
					}
				}
			}
		}
	}
	SortPairs(pairings)
	return slices.Compact(pairings), nil
}

// expandGroups resolves every group to its terminal nodes, peeling off groups whose dependencies are resolved.
func expandGroups(defs map[string][]string, nodes []string) (map[string][]string, error) {
	pending := make(map[string][]string, len(defs))
	for grp, members := range defs {
		pending[grp] = members
	}
	expanded := make(map[string][]string, len(defs))
	for len(pending) > 0 {
		progressed := false
		for _, grp := range slices.Sorted(maps.Keys(pending)) {
			members := pending[grp]
			ready := true
			out := make([]string, 0)
			for _, m := range members {
				if slices.Contains(nodes, m) {
					out = append(out, m)
				} else if exp, ok := expanded[m]; ok {
					out = append(out, exp...)
				} else {
					ready = false
					break
				}
			}
			if !ready {
				continue
			}
			slices.Sort(out)
			expanded[grp] = slices.Compact(out)
			delete(pending, grp)
			progressed = true
		}
		if !progressed {
			return nil, fmt.Errorf("cycle detected in graph: %v", slices.Sorted(maps.Keys(pending)))
		}
	}
	return expanded, nil
}

func parseSymbolList(s string, validSymbols []string) ([]string, error) {
	spl := strings.Split(strings.TrimSpace(s), ",")
	line := make([]string, 0)
	for _, s := range spl {
		x := strings.TrimSpace(s)
		if x == "" {
			continue
		}
		if !slices.Contains(validSymbols, x) {
			return nil, fmt.Errorf(`%s is not a valid node/group`, x)
		}
		line = append(line, x)
	}
	if len(line) == 0 {
		return nil, fmt.Errorf(`node/group list must not be empty`)
	}
	slices.Sort(line)
	return line, nil
}
