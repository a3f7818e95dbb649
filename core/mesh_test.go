package core

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/encodeous/skein/link"
	"github.com/encodeous/skein/state"
	"github.com/stretchr/testify/require"
)

// mesh binds nodes onto in-process buses, one bus per edge
type mesh struct {
	t     *testing.T
	reg   *Registry
	buses *link.BusSet
	cfg   func(cfg *state.LocalCfg)
}

func newMesh(t *testing.T) *mesh {
	return &mesh{
		t:     t,
		reg:   NewRegistry(),
		buses: link.NewBusSet(),
	}
}

func testCfg(addr string) state.LocalCfg {
	return state.LocalCfg{
		Address:           state.Address(addr),
		LogLevel:          "error",
		DiscoveryInterval: 100 * time.Millisecond,
	}
}

// node binds addr onto the named buses
func (m *mesh) node(addr string, buses ...string) *Socket {
	cfg := testCfg(addr)
	cfg.Links.Bus = buses
	if m.cfg != nil {
		m.cfg(&cfg)
	}
	transports := make([]state.Transport, 0, len(buses))
	for _, b := range buses {
		transports = append(transports, m.buses.Get(b).Join())
	}
	sk, err := m.reg.Bind(context.Background(), cfg, transports...)
	require.NoError(m.t, err)
	return sk
}

// graph binds every node with one bus per edge of the graph lines, and waits for discovery to converge
func (m *mesh) graph(nodes []string, lines ...string) map[state.Address]*Socket {
	pairs, err := state.ParseGraph(lines, nodes)
	require.NoError(m.t, err)
	buses := make(map[string][]string)
	for _, p := range pairs {
		name := fmt.Sprintf("%s~%s", p.V1, p.V2)
		buses[string(p.V1)] = append(buses[string(p.V1)], name)
		buses[string(p.V2)] = append(buses[string(p.V2)], name)
	}
	out := make(map[state.Address]*Socket)
	addrs := make([]state.Address, 0, len(nodes))
	for _, n := range nodes {
		out[state.Address(n)] = m.node(n, buses[n]...)
		addrs = append(addrs, state.Address(n))
	}
	m.converge(state.FromPairs(addrs, pairs))
	return out
}

func (m *mesh) converge(expected state.Graph) {
	require.Eventually(m.t, func() bool {
		for _, sk := range m.reg.Sockets() {
			if !sk.Graph().Equal(expected) {
				return false
			}
		}
		return true
	}, 10*time.Second, 10*time.Millisecond, "graph did not converge to %v", expected)
}

func (m *mesh) close() {
	m.reg.CloseAll()
}

func inspectContains(t *testing.T, sk *Socket, substr string) bool {
	res, err := sk.Inspect()
	require.NoError(t, err)
	return strings.Contains(res, substr)
}

func testCtx(t *testing.T) context.Context {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func echo(ctx context.Context, req *state.AppPacket, emit Emitter) error {
	return emit(req.Body)
}

// standalone builds the modules of a node without starting its loop or any transport,
// so a test can drive them from its own goroutine
func standalone(t *testing.T, addr string) *state.State {
	cfg := testCfg(addr)
	state.ExpandLocalConfig(&cfg)
	ctx, cancel := context.WithCancelCause(context.Background())
	s := &state.State{
		Modules: make(map[string]state.Module),
		Env: &state.Env{
			Mailbox:  state.NewMailbox(),
			LocalCfg: cfg,
			Context:  ctx,
			Cancel:   cancel,
			Log:      slog.New(slog.DiscardHandler),
		},
	}
	require.NoError(t, initModules(s, &Tracer{}, &Router{}, &Broker{}, &Links{}))
	t.Cleanup(func() {
		Stop(s)
		Get[*Broker](s).responders.Wait()
	})
	return s
}

// fakePeer links peer to s over a single edge and records what s writes to it
func fakePeer(s *state.State, peer state.Address) *[]*state.NetPacket {
	sent := new([]*state.NetPacket)
	Get[*Router](s).registerPeer(s, peer, "fake/"+string(peer), func(pkt *state.NetPacket) error {
		*sent = append(*sent, pkt)
		return nil
	})
	return sent
}
