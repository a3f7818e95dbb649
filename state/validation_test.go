package state

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAddressValidator_Valid(t *testing.T) {
	assert.NoError(t, AddressValidator("1"))
	assert.NoError(t, AddressValidator("ab_cd"))
	assert.NoError(t, AddressValidator("Node-A.example.com"))
	assert.NoError(t, AddressValidator("1b4e28ba-2fa1-11d2-883f-0016d3cca427"))
	assert.NoError(t, AddressValidator("tab@host:9/x"))
}

func TestAddressValidator_Invalid(t *testing.T) {
	assert.Error(t, AddressValidator(""))
	assert.Error(t, AddressValidator("node name"))
	assert.Error(t, AddressValidator("\t"))
	assert.Error(t, AddressValidator("abcd-a.com\\hi"))
	assert.Error(t, AddressValidator(Address(strings.Repeat("a", 300))))
}

func TestLocalConfigValidator(t *testing.T) {
	cfg := &LocalCfg{Address: "a"}
	assert.NoError(t, LocalConfigValidator(cfg))

	cfg.OutboundBufferLimit = -1
	assert.ErrorIs(t, LocalConfigValidator(cfg), ErrInvalidConfig)

	cfg = &LocalCfg{Address: "a", Links: LinksCfg{Bus: []string{"x", "x"}}}
	assert.ErrorContains(t, LocalConfigValidator(cfg), "duplicate bus")

	cfg = &LocalCfg{Address: "a", Links: LinksCfg{Quic: &QuicCfg{Listen: "nope"}}}
	assert.ErrorIs(t, LocalConfigValidator(cfg), ErrInvalidConfig)

	cfg = &LocalCfg{Address: "a", LogLevel: "chatty"}
	assert.ErrorIs(t, LocalConfigValidator(cfg), ErrInvalidConfig)
}

func TestSimConfigValidator(t *testing.T) {
	assert.ErrorIs(t, SimConfigValidator(&SimCfg{}), ErrInvalidConfig)
	assert.ErrorContains(t, SimConfigValidator(&SimCfg{Nodes: []string{"a", "a"}}), "duplicate node")
	assert.Error(t, SimConfigValidator(&SimCfg{Nodes: []string{"a"}, Graph: []string{"a, b"}}))
	assert.NoError(t, SimConfigValidator(&SimCfg{Nodes: []string{"a", "b"}, Graph: []string{"a, b"}}))
}

func TestTrustSet(t *testing.T) {
	trusted := TrustSet([]string{"10.0.0.1", "peer-x"})
	assert.True(t, trusted("10.0.0.1"))
	assert.True(t, trusted("peer-x"))
	assert.False(t, trusted("10.0.0.2"))

	assert.True(t, TrustSet([]string{"*"})("anything"))
	assert.False(t, TrustSet(nil)("anything"))
}
