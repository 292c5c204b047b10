package zt

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseDialURLValid(t *testing.T) {
	u, err := ParseDialURL("zt://8056c2e21c000001/1122334455:9000")
	require.NoError(t, err)
	assert.Equal(t, uint64(0x8056c2e21c000001), u.NWID)
	assert.Equal(t, uint64(0x1122334455), u.NodeID)
	assert.False(t, u.Wildcard)
	assert.Equal(t, uint32(9000), u.Port)
}

func TestParseDialURLRoundTrip(t *testing.T) {
	u, err := ParseDialURL("zt://2/1:3")
	require.NoError(t, err)
	assert.Equal(t, "zt://0000000000000002/0000000001:3", u.String())
}

func TestParseDialURLRejectsMissingScheme(t *testing.T) {
	_, err := ParseDialURL("2/1:3")
	assert.ErrorIs(t, err, ErrAddrInvalid)
}

func TestParseDialURLRejectsMissingPort(t *testing.T) {
	_, err := ParseDialURL("zt://2/1")
	assert.ErrorIs(t, err, ErrAddrInvalid)
}

func TestParseDialURLRejectsMissingNode(t *testing.T) {
	_, err := ParseDialURL("zt://2:3")
	assert.ErrorIs(t, err, ErrAddrInvalid)
}

func TestParseDialURLRejectsWildcardNode(t *testing.T) {
	_, err := ParseDialURL("zt://2/*:3")
	assert.ErrorIs(t, err, ErrAddrInvalid)
}

func TestParseDialURLRejectsZeroPort(t *testing.T) {
	_, err := ParseDialURL("zt://2/1:0")
	assert.ErrorIs(t, err, ErrAddrInvalid)
}

func TestParseDialURLRejectsNonHexNode(t *testing.T) {
	_, err := ParseDialURL("zt://2/zzzz:3")
	assert.ErrorIs(t, err, ErrAddrInvalid)
}

func TestParseListenURLWildcardNode(t *testing.T) {
	u, err := ParseListenURL("zt://a09acf0233/*:9001")
	require.NoError(t, err)
	assert.Equal(t, uint64(0xa09acf0233), u.NWID)
	assert.True(t, u.Wildcard)
	assert.Equal(t, uint32(9001), u.Port)
}

func TestParseListenURLExplicitNode(t *testing.T) {
	u, err := ParseListenURL("zt://a09acf0233/1122334455:9001")
	require.NoError(t, err)
	assert.False(t, u.Wildcard)
	assert.Equal(t, uint64(0x1122334455), u.NodeID)
}

func TestParseListenURLOmittedNode(t *testing.T) {
	u, err := ParseListenURL("zt://a09acf0233:9001")
	require.NoError(t, err)
	assert.True(t, u.Wildcard)
	assert.Equal(t, uint32(9001), u.Port)
}

func TestParseListenURLEphemeralPort(t *testing.T) {
	u, err := ParseListenURL("zt://a09acf0233/*:0")
	require.NoError(t, err)
	assert.Equal(t, uint32(0), u.Port)
}

func TestParseListenURLRejectsMissingNetwork(t *testing.T) {
	_, err := ParseListenURL("zt://:9001")
	assert.ErrorIs(t, err, ErrAddrInvalid)
}

func TestParseListenURLRejectsMissingPort(t *testing.T) {
	_, err := ParseListenURL("zt://a09acf0233/*")
	assert.ErrorIs(t, err, ErrAddrInvalid)
}
