package state

import (
	"maps"
	"slices"
)

// Graph is an adjacency list. Once normalized it is symmetric, has no self edges,
// and every neighbour list is sorted without duplicates.
type Graph map[Address][]Address

// Normalize returns a normalized copy of g. Nodes that only appear as neighbours get an entry.
func Normalize(g Graph) Graph {
	sets := make(map[Address]map[Address]struct{}, len(g))
	get := func(a Address) map[Address]struct{} {
		set, ok := sets[a]
		if !ok {
			set = make(map[Address]struct{})
			sets[a] = set
		}
		return set
	}
	for node, neighbours := range g {
		get(node)
		for _, n := range neighbours {
			if n == node {
				continue
			}
			get(node)[n] = struct{}{}
			get(n)[node] = struct{}{}
		}
	}
	out := make(Graph, len(sets))
	for node, set := range sets {
		lst := make([]Address, 0, len(set))
		for n := range set {
			lst = append(lst, n)
		}
		slices.Sort(lst)
		out[node] = lst
	}
	return out
}

// Merge unions the neighbour sets of both graphs, then normalizes. Merge is commutative and associative.
func Merge(a, b Graph) Graph {
	u := make(Graph, len(a)+len(b))
	for node, lst := range a {
		u[node] = append(u[node], lst...)
	}
	for node, lst := range b {
		u[node] = append(u[node], lst...)
	}
	return Normalize(u)
}

// Equal compares the normalized forms of g and o.
func (g Graph) Equal(o Graph) bool {
	return maps.EqualFunc(Normalize(g), Normalize(o), slices.Equal[[]Address])
}

func (g Graph) Clone() Graph {
	out := make(Graph, len(g))
	for node, lst := range g {
		out[node] = slices.Clone(lst)
	}
	return out
}

// Nodes returns every node with an entry, sorted.
func (g Graph) Nodes() []Address {
	return slices.Sorted(maps.Keys(g))
}

// Link adds the symmetric edge a<->b and reports whether the graph changed.
// g must be normalized.
func (g Graph) Link(a, b Address) bool {
	if a == b {
		if _, ok := g[a]; ok {
			return false
		}
		g[a] = []Address{}
		return true
	}
	changed := insertSorted(g, a, b)
	if insertSorted(g, b, a) {
		changed = true
	}
	return changed
}

func insertSorted(g Graph, node, n Address) bool {
	lst := g[node]
	idx, found := slices.BinarySearch(lst, n)
	if found {
		return false
	}
	g[node] = slices.Insert(slices.Clone(lst), idx, n)
	return true
}

// ShortestPath runs a breadth first search over a normalized graph. It returns the full
// sequence [from, ..., to], [from] when from == to, and nil if to is unreachable.
// Neighbours are explored in list order, so ties always resolve to the same path.
func ShortestPath(g Graph, from, to Address) []Address {
	if from == to {
		return []Address{from}
	}
	prev := map[Address]Address{from: from}
	queue := []Address{from}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		for _, n := range g[cur] {
			if _, seen := prev[n]; seen {
				continue
			}
			prev[n] = cur
			if n == to {
				path := []Address{to}
				for at := cur; at != from; at = prev[at] {
					path = append(path, at)
				}
				path = append(path, from)
				slices.Reverse(path)
				return path
			}
			queue = append(queue, n)
		}
	}
	return nil
}

// FromPairs builds a normalized graph containing every node and every pair as an edge.
func FromPairs(nodes []Address, pairs []Pair[Address, Address]) Graph {
	g := make(Graph, len(nodes))
	for _, n := range nodes {
		g[n] = nil
	}
	for _, p := range pairs {
		g[p.V1] = append(g[p.V1], p.V2)
	}
	return Normalize(g)
}
