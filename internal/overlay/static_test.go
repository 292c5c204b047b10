package overlay

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zt-overlay/ztpipe/internal/zt"
)

func TestStaticSendDeliversEnvelopeToPeer(t *testing.T) {
	const nwid = 0x8056c2e21c000001
	const nodeA = 0x1111111111
	const nodeB = 0x2222222222
	peerEP := zt.UDPEndpoint{Port: 9000}

	var delivered struct {
		nwid               uint64
		src, dst           [6]byte
		ethertype          uint16
		payload            []byte
	}
	var sentTo zt.UDPEndpoint
	var sentBytes []byte

	var b *Static
	cbA := zt.OverlayCallbacks{
		WirePacketSend: func(localSocket int64, ep zt.UDPEndpoint, data []byte) int {
			sentTo = ep
			sentBytes = append([]byte(nil), data...)
			// simulate physical delivery straight to B's ProcessWirePacket
			b.ProcessWirePacket(localSocket, zt.UDPEndpoint{Port: 9001}, data)
			return len(data)
		},
	}
	cbB := zt.OverlayCallbacks{
		VirtualNetworkFrame: func(nwid uint64, src, dst [6]byte, ethertype uint16, payload []byte) {
			delivered.nwid = nwid
			delivered.src = src
			delivered.dst = dst
			delivered.ethertype = ethertype
			delivered.payload = append([]byte(nil), payload...)
		},
	}

	newA := New(nodeA, PeerTable{nodeB: peerEP})
	a, err := newA(cbA)
	require.NoError(t, err)
	aStatic := a.(*Static)
	require.NoError(t, aStatic.Join(context.Background(), nwid))

	newB := New(nodeB, nil)
	bOverlay, err := newB(cbB)
	require.NoError(t, err)
	b = bOverlay.(*Static)
	require.NoError(t, b.Join(context.Background(), nwid))

	dstMAC := zt.DeriveMAC(nwid, nodeB)
	payload := []byte{0x68, 0x69}
	require.NoError(t, aStatic.Send(nwid, dstMAC, 0x0901, payload))

	assert.Equal(t, peerEP, sentTo)
	assert.NotEmpty(t, sentBytes)

	assert.Equal(t, uint64(nwid), delivered.nwid)
	assert.Equal(t, zt.DeriveMAC(nwid, nodeA), delivered.src)
	assert.Equal(t, dstMAC, delivered.dst)
	assert.Equal(t, uint16(0x0901), delivered.ethertype)
	assert.Equal(t, payload, delivered.payload)
}

func TestStaticSendUnknownPeerFails(t *testing.T) {
	newA := New(0x1, nil)
	a, err := newA(zt.OverlayCallbacks{})
	require.NoError(t, err)
	err = a.Send(0x2, zt.DeriveMAC(0x2, 0x99), 0x0901, []byte("x"))
	assert.Error(t, err)
}

func TestStaticProcessWirePacketLearnsPeerEndpoint(t *testing.T) {
	const nwid = 42
	s, err := New(0x1, nil)(zt.OverlayCallbacks{})
	require.NoError(t, err)
	st := s.(*Static)
	require.NoError(t, st.Join(context.Background(), nwid))

	env := make([]byte, envelopeHeaderSize+1)
	env[0] = envelopeVersion
	// srcNodeID = 0x2, nwid = 42, ethertype = 0x0901
	env[8] = 0x2
	env[16] = 42
	env[17], env[18] = 0x09, 0x01
	env[envelopeHeaderSize] = 0xAA

	st.ProcessWirePacket(0, zt.UDPEndpoint{Port: 1234}, env)

	st.mu.RLock()
	ep, ok := st.peers[0x2]
	st.mu.RUnlock()
	require.True(t, ok)
	assert.Equal(t, uint16(1234), ep.Port)
}
