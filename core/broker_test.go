package core

import (
	"context"
	"io"
	"testing"

	"github.com/encodeous/skein/state"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func call(proto state.AppProto, from state.Address, tx, key string, body any) *state.AppPacket {
	return &state.AppPacket{
		Header: state.AppHeader{
			Protocol:    proto,
			Source:      from,
			Target:      "a",
			Transaction: tx,
			Key:         key,
		},
		Body: body,
	}
}

func unsubscribe(from state.Address, tx string) *state.AppPacket {
	return call(state.Push, from, newId(), state.KeyUnsubscribe, state.UnsubscribeMsg{Transaction: tx})
}

func quiet(ctx context.Context, req *state.AppPacket, emit Emitter) error {
	return nil
}

func TestInboundLimit_DropsOldest(t *testing.T) {
	s := standalone(t, "a")
	s.InboundBufferLimit = 2
	b := Get[*Broker](s)

	for i := range 3 {
		b.deliverLocal(s, call(state.Push, "b", newId(), "k", i))
	}
	assert.Len(t, b.inbound[handlerKey{state.Push, "k"}], 2)

	var got []any
	b.handlePushes(s, "k", func(pkt *state.AppPacket) {
		got = append(got, pkt.Body)
	})
	assert.Equal(t, []any{1, 2}, got)
	assert.Empty(t, b.inbound)
}

func TestUnsubscribe_Buffered(t *testing.T) {
	s := standalone(t, "a")
	b := Get[*Broker](s)

	b.deliverLocal(s, call(state.Subscription, "b", "tx1", "later", nil))
	b.deliverLocal(s, call(state.Subscription, "b", "tx2", "later", nil))
	// only the caller may cancel its call
	b.handleUnsubscribe(s, unsubscribe("c", "tx1"))
	assert.Len(t, b.inbound[handlerKey{state.Subscription, "later"}], 2)

	b.handleUnsubscribe(s, unsubscribe("b", "tx1"))
	q := b.inbound[handlerKey{state.Subscription, "later"}]
	require.Len(t, q, 1)
	assert.Equal(t, "tx2", q[0].Header.Transaction)

	b.handleResponder(s, state.Subscription, "later", quiet)
	assert.NotContains(t, b.producers, "tx1")
	assert.Contains(t, b.producers, "tx2")
	assert.Empty(t, b.inbound)
}

func TestUnsubscribe_BeforeCall(t *testing.T) {
	s := standalone(t, "a")
	b := Get[*Broker](s)
	b.handleResponder(s, state.Request, "k", quiet)

	// the unsubscribe overtook its call
	b.handleUnsubscribe(s, unsubscribe("b", "tx1"))
	b.deliverLocal(s, call(state.Request, "b", "tx1", "k", nil))
	assert.Empty(t, b.producers)

	// another caller reusing the transaction id is unaffected
	b.handleUnsubscribe(s, unsubscribe("b", "tx2"))
	b.deliverLocal(s, call(state.Request, "c", "tx2", "k", nil))
	assert.Contains(t, b.producers, "tx2")
}

func TestConsume_EagerUnsubscribe(t *testing.T) {
	s := standalone(t, "a")
	b := Get[*Broker](s)
	sent := fakePeer(s, "b")

	req := call(state.Request, "a", "tx1", "k", nil)
	req.Header.Target = "b"
	st := newStream("tx1", s.Context, nil)
	b.open(s, req, st, singleConsumer)
	require.NotEmpty(t, *sent)
	assert.Equal(t, "tx1", (*sent)[len(*sent)-1].Body.Header.Transaction)

	// a frame that does not complete the request
	b.deliverLocal(s, &state.AppPacket{
		Header: state.AppHeader{
			Protocol:    state.Request,
			Source:      "b",
			Target:      "a",
			Transaction: "tx1",
			Key:         "k",
			Next:        true,
		},
		Body: 7,
	})
	assert.Empty(t, b.pending)

	ctx := testCtx(t)
	v, err := st.Value(ctx)
	require.NoError(t, err)
	assert.Equal(t, 7, v)
	_, err = st.Recv(ctx)
	assert.ErrorIs(t, err, io.EOF)

	last := (*sent)[len(*sent)-1].Body
	assert.Equal(t, state.KeyUnsubscribe, last.Header.Key)
	assert.Equal(t, state.Address("b"), last.Header.Target)
	msg, err := state.DecodeBody[state.UnsubscribeMsg](last.Body)
	require.NoError(t, err)
	assert.Equal(t, "tx1", msg.Transaction)
}

func TestConsume_CompleteNoUnsubscribe(t *testing.T) {
	s := standalone(t, "a")
	b := Get[*Broker](s)
	sent := fakePeer(s, "b")

	req := call(state.Request, "a", "tx1", "k", nil)
	req.Header.Target = "b"
	st := newStream("tx1", s.Context, nil)
	b.open(s, req, st, singleConsumer)
	before := len(*sent)

	b.deliverLocal(s, &state.AppPacket{
		Header: state.AppHeader{
			Protocol:    state.Request,
			Source:      "b",
			Target:      "a",
			Transaction: "tx1",
			Key:         "k",
			Next:        true,
			Complete:    true,
		},
		Body: 7,
	})
	v, err := st.Value(testCtx(t))
	require.NoError(t, err)
	assert.Equal(t, 7, v)
	assert.Len(t, *sent, before)
}
