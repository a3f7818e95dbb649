package state

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
)

func lattice() Graph {
	return Graph{
		"a": {"b", "d"},
		"b": {"a", "c", "e"},
		"c": {"b", "f"},
		"d": {"a", "e", "g"},
		"e": {"b", "d", "f", "h"},
		"f": {"c", "e", "i"},
		"g": {"d", "h"},
		"h": {"e", "g", "i"},
		"i": {"f", "h"},
	}
}

func TestNormalize(t *testing.T) {
	g := Graph{
		"a": {"c", "b", "a", "b"},
		"d": {},
	}
	want := Graph{
		"a": {"b", "c"},
		"b": {"a"},
		"c": {"a"},
		"d": {},
	}
	if diff := cmp.Diff(want, Normalize(g)); diff != "" {
		t.Errorf("Normalize() mismatch (-want +got):\n%s", diff)
	}
	// input untouched
	assert.Equal(t, []Address{"c", "b", "a", "b"}, g["a"])
}

func TestNormalizeIdempotent(t *testing.T) {
	for _, g := range []Graph{lattice(), {"x": {"y"}}, {}, {"s": {"s"}}} {
		once := Normalize(g)
		assert.True(t, cmp.Equal(once, Normalize(once)))
	}
}

func TestMergeLaws(t *testing.T) {
	g1 := Graph{"a": {"b"}, "c": {"d"}}
	g2 := Graph{"b": {"c"}, "e": {}}
	g3 := Graph{"d": {"a", "e"}}

	assert.True(t, cmp.Equal(Merge(g1, g2), Merge(g2, g1)), "commutative")
	assert.True(t, cmp.Equal(Merge(Merge(g1, g2), g3), Merge(g1, Merge(g2, g3))), "associative")

	n := Normalize(lattice())
	assert.True(t, cmp.Equal(Merge(n, n), n), "idempotent")

	want := Graph{
		"a": {"b"},
		"b": {"a", "c"},
		"c": {"b", "d"},
		"d": {"c"},
		"e": {},
	}
	if diff := cmp.Diff(want, Merge(g1, g2)); diff != "" {
		t.Errorf("Merge() mismatch (-want +got):\n%s", diff)
	}
}

func TestMergeAnyOrderConverges(t *testing.T) {
	views := []Graph{
		{"a": {"b"}},
		{"b": {"c"}},
		{"c": {"d"}},
		{"d": {"a"}},
	}
	forward := Graph{}
	for _, v := range views {
		forward = Merge(forward, v)
	}
	backward := Graph{}
	for i := len(views) - 1; i >= 0; i-- {
		backward = Merge(views[i], backward)
	}
	assert.True(t, forward.Equal(backward))
}

func TestGraphEqual(t *testing.T) {
	assert.True(t, Graph{"a": {"b"}}.Equal(Graph{"b": {"a"}}))
	assert.True(t, Graph{"a": nil}.Equal(Graph{"a": {}}))
	assert.False(t, Graph{"a": {"b"}}.Equal(Graph{"a": {"c"}}))
}

func TestGraphLink(t *testing.T) {
	g := Normalize(Graph{"a": {"b"}})
	snapshot := g.Clone()
	assert.True(t, g.Link("a", "c"))
	assert.False(t, g.Link("c", "a"))
	assert.True(t, g.Link("z", "z"))
	assert.False(t, g.Link("z", "z"))
	assert.Equal(t, Graph{"a": {"b", "c"}, "b": {"a"}, "c": {"a"}, "z": {}}, g)
	assert.Equal(t, Graph{"a": {"b"}, "b": {"a"}}, snapshot)
}

func TestShortestPath(t *testing.T) {
	g := Normalize(lattice())
	path := ShortestPath(g, "a", "i")
	assert.Len(t, path, 5)
	assert.Equal(t, []Address{"a", "b", "c", "f", "i"}, path)

	// deterministic on repeated calls
	for range 10 {
		assert.Equal(t, path, ShortestPath(g, "a", "i"))
	}

	assert.Equal(t, []Address{"a"}, ShortestPath(g, "a", "a"))
	assert.Equal(t, []Address{"e", "f"}, ShortestPath(g, "e", "f"))
	assert.Equal(t, []Address{"g", "d", "a"}, ShortestPath(g, "g", "a"))
}

func TestShortestPath_Disconnected(t *testing.T) {
	g := Normalize(Graph{"a": {"b"}, "c": {"d"}})
	assert.Empty(t, ShortestPath(g, "a", "d"))
	assert.Empty(t, ShortestPath(g, "a", "unknown"))
	assert.Equal(t, []Address{"x"}, ShortestPath(g, "x", "x"))
}

func TestShortestPath_BFSDistance(t *testing.T) {
	g := Normalize(lattice())
	// corner to corner is 4 hops in every direction
	for _, p := range []Pair[Address, Address]{{"a", "i"}, {"i", "a"}, {"c", "g"}, {"g", "c"}} {
		assert.Len(t, ShortestPath(g, p.V1, p.V2), 5, "%s -> %s", p.V1, p.V2)
	}
	assert.Len(t, ShortestPath(g, "a", "e"), 3)
}

func TestFromPairs(t *testing.T) {
	pairs, err := ParseGraph([]string{"a, b, c", "c, d"}, []string{"a", "b", "c", "d", "e"})
	assert.NoError(t, err)
	g := FromPairs([]Address{"a", "b", "c", "d", "e"}, pairs)
	want := Graph{
		"a": {"b", "c"},
		"b": {"a", "c"},
		"c": {"a", "b", "d"},
		"d": {"c"},
		"e": {},
	}
	if diff := cmp.Diff(want, g); diff != "" {
		t.Errorf("FromPairs() mismatch (-want +got):\n%s", diff)
	}
}
