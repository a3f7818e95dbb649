package core

import (
	"fmt"
	"maps"
	"slices"
	"strings"

	"github.com/encodeous/skein/state"
)

func inspect(s *state.State) string {
	r := Get[*Router](s)
	b := Get[*Broker](s)
	sb := strings.Builder{}

	sb.WriteString(fmt.Sprintf("Node: %s\n", s.Self()))

	// print neighbours
	sb.WriteString("\nNeighbours:\n")
	if len(r.peers) == 0 {
		sb.WriteString(" (none)\n")
	}
	for _, peer := range slices.Sorted(maps.Keys(r.peers)) {
		sb.WriteString(fmt.Sprintf(" - %s\n", peer))
		for _, edge := range slices.Sorted(maps.Keys(r.peers[peer])) {
			sb.WriteString(fmt.Sprintf("   - %s\n", edge))
		}
	}

	sb.WriteString("\nGraph:\n")
	for _, node := range r.graph.Nodes() {
		nb := make([]string, 0, len(r.graph[node]))
		for _, n := range r.graph[node] {
			nb = append(nb, string(n))
		}
		sb.WriteString(fmt.Sprintf(" - %s: [%s]\n", node, strings.Join(nb, ", ")))
	}

	sb.WriteString("\nOutbound:\n")
	if len(r.outbound) == 0 {
		sb.WriteString(" (empty)\n")
	}
	for _, target := range slices.Sorted(maps.Keys(r.outbound)) {
		sb.WriteString(fmt.Sprintf(" - %s: %d queued\n", target, len(r.outbound[target])))
	}

	sb.WriteString("\nInbound:\n")
	rt := make([]string, 0)
	for k, q := range b.inbound {
		rt = append(rt, fmt.Sprintf(" - %s %s: %d queued", k.proto, k.key, len(q)))
	}
	if len(rt) == 0 {
		rt = append(rt, " (empty)")
	}
	slices.Sort(rt)
	sb.WriteString(strings.Join(rt, "\n") + "\n")

	sb.WriteString("\nTransactions:\n")
	rt = rt[:0]
	for tx, c := range b.pending {
		rt = append(rt, fmt.Sprintf(" - pending %s %s -> %s", tx, c.key, c.remote))
	}
	for tx, p := range b.producers {
		rt = append(rt, fmt.Sprintf(" - producer %s %s <- %s", tx, p.req.Header.Key, p.caller))
	}
	if len(rt) == 0 {
		rt = append(rt, " (none)")
	}
	slices.Sort(rt)
	sb.WriteString(strings.Join(rt, "\n") + "\n")

	sb.WriteString(fmt.Sprintf("\nSeen: %d\n", r.seen.Len()))
	return sb.String()
}
