package state

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func samplePacket() *NetPacket {
	return &NetPacket{
		Header: NetHeader{
			Id:       "n1",
			Source:   "a",
			Target:   "b",
			Protocol: PointToPoint,
			TTL:      StartingTTL,
		},
		Body: AppPacket{
			Header: AppHeader{
				Protocol:    Request,
				Source:      "a",
				Target:      "c",
				Transaction: "tx1",
				Key:         "echo",
			},
			Body: map[string]any{"msg": "hi", "n": 3},
		},
	}
}

func TestValidate(t *testing.T) {
	assert.NoError(t, samplePacket().Validate())

	bc := samplePacket()
	bc.Header.Protocol = Broadcast
	bc.Header.Target = ""
	bc.Body.Header.Target = ""
	assert.NoError(t, bc.Validate())

	cases := map[string]func(p *NetPacket){
		"net protocol": func(p *NetPacket) { p.Header.Protocol = "FLOOD" },
		"id":           func(p *NetPacket) { p.Header.Id = "" },
		"source":       func(p *NetPacket) { p.Header.Source = "" },
		"hop target":   func(p *NetPacket) { p.Header.Target = "" },
		"app protocol": func(p *NetPacket) { p.Body.Header.Protocol = "" },
		"app source":   func(p *NetPacket) { p.Body.Header.Source = "" },
		"transaction":  func(p *NetPacket) { p.Body.Header.Transaction = "" },
		"key":          func(p *NetPacket) { p.Body.Header.Key = "" },
		"app target":   func(p *NetPacket) { p.Body.Header.Target = "" },
	}
	for name, mutate := range cases {
		p := samplePacket()
		mutate(p)
		assert.ErrorIs(t, p.Validate(), ErrMalformedPacket, name)
	}
	var nilPkt *NetPacket
	assert.ErrorIs(t, nilPkt.Validate(), ErrMalformedPacket)
}

func TestReply(t *testing.T) {
	req := samplePacket().Body.Header
	rep := req.Reply(42)
	assert.Equal(t, Address("c"), rep.Header.Source)
	assert.Equal(t, Address("a"), rep.Header.Target)
	assert.Equal(t, "tx1", rep.Header.Transaction)
	assert.Equal(t, Request, rep.Header.Protocol)
	assert.False(t, rep.Header.IsResponse())
	rep.Header.Complete = true
	assert.True(t, rep.Header.IsResponse())
}

func TestPacketCodec(t *testing.T) {
	data, err := EncodePacket(samplePacket())
	require.NoError(t, err)

	pkt, err := DecodePacket(data)
	require.NoError(t, err)
	assert.Equal(t, samplePacket().Header, pkt.Header)
	assert.Equal(t, samplePacket().Body.Header, pkt.Body.Header)
	body, ok := pkt.Body.Body.(map[string]any)
	require.True(t, ok, "got %T", pkt.Body.Body)
	assert.Equal(t, "hi", body["msg"])
	assert.EqualValues(t, 3, body["n"])
}

func TestDecodePacket_Rejects(t *testing.T) {
	_, err := DecodePacket([]byte{0xff, 0x00})
	assert.ErrorIs(t, err, ErrMalformedPacket)

	bad := samplePacket()
	bad.Body.Header.Key = ""
	data, err := EncodePacket(bad)
	require.NoError(t, err)
	_, err = DecodePacket(data)
	assert.ErrorIs(t, err, ErrMalformedPacket)

	data, err = Marshal(map[string]any{"hello": "world"})
	require.NoError(t, err)
	_, err = DecodePacket(data)
	assert.ErrorIs(t, err, ErrMalformedPacket)
}

func TestDecodeBody(t *testing.T) {
	msg := DiscoveryMsg{Graph: Graph{"a": {"b"}, "b": {"a"}}}

	// in-process, no conversion
	got, err := DecodeBody[DiscoveryMsg](msg)
	require.NoError(t, err)
	assert.Equal(t, msg, got)

	got, err = DecodeBody[DiscoveryMsg](&msg)
	require.NoError(t, err)
	assert.Equal(t, msg, got)

	// after a trip over the wire the body is a generic map
	data, err := Marshal(msg)
	require.NoError(t, err)
	var generic any
	require.NoError(t, Unmarshal(data, &generic))
	got, err = DecodeBody[DiscoveryMsg](generic)
	require.NoError(t, err)
	assert.True(t, msg.Graph.Equal(got.Graph))

	unsub, err := DecodeBody[UnsubscribeMsg](map[string]any{"transaction": "tx9"})
	require.NoError(t, err)
	assert.Equal(t, "tx9", unsub.Transaction)

	_, err = DecodeBody[UnsubscribeMsg]("not a struct")
	assert.Error(t, err)
}
