package zt

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAddressPackUnpack(t *testing.T) {
	a := NewAddress(0x1122334455, 0x00ABCD)
	assert.Equal(t, uint64(0x1122334455), a.NodeID())
	assert.Equal(t, uint32(0x00ABCD), a.Port())
	assert.False(t, a.Unbound())
}

func TestAddressUnboundAndEphemeral(t *testing.T) {
	assert.True(t, NewAddress(1, 0).Unbound())
	assert.True(t, NewAddress(1, PortEphemeralLo).Ephemeral())
	assert.True(t, NewAddress(1, PortEphemeralHi).Ephemeral())
	assert.False(t, NewAddress(1, PortStaticLo).Ephemeral())
}

func TestRegistryBindRejectsOutOfRange(t *testing.T) {
	r := newAddressRegistry()
	assert.ErrorIs(t, r.Bind(0, "x"), ErrAddrInvalid)
	assert.ErrorIs(t, r.Bind(PortEphemeralLo, "x"), ErrAddrInvalid)
}

func TestRegistryBindDuplicateRejected(t *testing.T) {
	r := newAddressRegistry()
	require.NoError(t, r.Bind(100, "first"))
	assert.ErrorIs(t, r.Bind(100, "second"), ErrAddrInUse)
}

func TestRegistryBindEphemeralAllocatesAndWraps(t *testing.T) {
	r := newAddressRegistry()
	r.nextEph = PortEphemeralHi // start at the top so the probe must wrap
	seen := make(map[uint32]bool)
	for i := 0; i < 10; i++ {
		p, err := r.BindEphemeral("owner")
		require.NoError(t, err)
		assert.GreaterOrEqual(t, p, PortEphemeralLo)
		assert.LessOrEqual(t, p, PortEphemeralHi)
		assert.False(t, seen[p], "ephemeral port reused while free ports remain")
		seen[p] = true
	}
	assert.True(t, seen[PortEphemeralLo], "allocation must wrap from the top of the range to the bottom")
}

func TestRegistryReleaseFreesPort(t *testing.T) {
	r := newAddressRegistry()
	require.NoError(t, r.Bind(200, "a"))
	r.Release(200)
	assert.NoError(t, r.Bind(200, "b"))
}

func TestRegistryLookup(t *testing.T) {
	r := newAddressRegistry()
	require.NoError(t, r.Bind(300, "owner"))
	owner, ok := r.Lookup(300)
	require.True(t, ok)
	assert.Equal(t, "owner", owner)

	_, ok = r.Lookup(301)
	assert.False(t, ok)
}
