package link

import (
	"sync"

	"github.com/encodeous/skein/state"
)

type received struct {
	pkt   *state.NetPacket
	edge  string
	reply state.Edge
}

// recorder is a LinkSink that remembers everything handed to it
type recorder struct {
	mu        sync.Mutex
	packets   []received
	connected []string
	deny      map[string]bool
	arrived   chan struct{}
}

func newRecorder() *recorder {
	return &recorder{
		deny:    make(map[string]bool),
		arrived: make(chan struct{}, 64),
	}
}

func (r *recorder) Receive(pkt *state.NetPacket, edgeId string, reply state.Edge) {
	r.mu.Lock()
	r.packets = append(r.packets, received{pkt, edgeId, reply})
	r.mu.Unlock()
	select {
	case r.arrived <- struct{}{}:
	default:
	}
}

func (r *recorder) Connected(edgeId string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.connected = append(r.connected, edgeId)
}

func (r *recorder) Trusted(identity string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return !r.deny[identity]
}

func (r *recorder) got() []received {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]received(nil), r.packets...)
}

func (r *recorder) edges() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.connected...)
}

func testPacket(key string) *state.NetPacket {
	return &state.NetPacket{
		Header: state.NetHeader{
			Id:       "id-" + key,
			Source:   "a",
			Protocol: state.Broadcast,
			TTL:      state.StartingTTL,
		},
		Body: state.AppPacket{
			Header: state.AppHeader{
				Protocol:    state.Push,
				Source:      "a",
				Transaction: "tx-" + key,
				Key:         key,
			},
			Body: "hi",
		},
	}
}
