package zt

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// noopOverlay is a minimal Overlay stub for tests that only need to
// drive Node's VirtualNetworkConfig callback directly, without any real
// wire traffic.
type noopOverlay struct {
	addr uint64
}

func (o *noopOverlay) Join(ctx context.Context, nwid uint64) error { return nil }
func (o *noopOverlay) Leave(nwid uint64) error                     { return nil }
func (o *noopOverlay) Send(nwid uint64, dstMAC [6]byte, ethertype uint16, payload []byte) error {
	return nil
}
func (o *noopOverlay) LocalMAC(nwid uint64) ([6]byte, error)              { return [6]byte{}, nil }
func (o *noopOverlay) ProcessWirePacket(localSocket int64, from UDPEndpoint, data []byte) {}
func (o *noopOverlay) Address() uint64                                   { return o.addr }
func (o *noopOverlay) Close() error                                      { return nil }

func TestFragSzFallsBackToConfiguredDefaultBeforeMTUKnown(t *testing.T) {
	home := "node-mtu-test-fallback"
	pipeCfg := PipeConfig{FragmentSize: 1400, RecvQ: 2, RecvMaxSize: 65536}

	n, err := OpenNode(home, 0, pipeCfg, func(c OverlayCallbacks) (Overlay, error) {
		return &noopOverlay{addr: 0x1234567890}, nil
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = CloseNode(home) })

	n.mu.Lock()
	defer n.mu.Unlock()
	assert.Equal(t, uint16(1400), n.fragSzLocked())
}

func TestOnVirtualNetworkConfigUpdatesFragSzFromReportedMTU(t *testing.T) {
	home := "node-mtu-test-reported"
	pipeCfg := PipeConfig{FragmentSize: 1400, RecvQ: 2, RecvMaxSize: 65536}

	var cb OverlayCallbacks
	n, err := OpenNode(home, 0, pipeCfg, func(c OverlayCallbacks) (Overlay, error) {
		cb = c
		return &noopOverlay{addr: 0x1234567890}, nil
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = CloseNode(home) })

	cb.VirtualNetworkConfig(0x42, NetworkConfigUp, NetworkConfig{MaxMTU: 1000, PhyMTU: 1000})

	n.mu.Lock()
	defer n.mu.Unlock()
	assert.Equal(t, uint16(1000-FrameHeaderSize-DataHeaderSize), n.fragSzLocked(),
		"fragSz must derive from the overlay's reported MTU once one is known")
}

func TestOnVirtualNetworkConfigKicksWaitingDialer(t *testing.T) {
	home := "node-mtu-test-kick"

	var cb OverlayCallbacks
	n, err := OpenNode(home, 0, DefaultPipeConfig(), func(c OverlayCallbacks) (Overlay, error) {
		cb = c
		return &noopOverlay{addr: 0x1111111111}, nil
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = CloseNode(home) })

	remote := NewAddress(0x2222222222, 100)

	n.mu.Lock()
	local, err := n.AllocatePort(n.overlay.Address(), 0, nil)
	require.NoError(t, err)
	d := NewDialer(local, remote, 1)
	n.dialers[local.Port()] = d
	n.mu.Unlock()

	require.Zero(t, d.attempts)
	cb.VirtualNetworkConfig(0x42, NetworkConfigUp, NetworkConfig{})

	assert.Equal(t, 1, d.attempts, "network-up must kick a waiting dialer into an immediate CONN_REQ")
}
