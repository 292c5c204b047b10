package zt_test

import (
	"context"
	"fmt"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zt-overlay/ztpipe/internal/overlay"
	"github.com/zt-overlay/ztpipe/internal/zt"
)

// openPairedNodes opens a dialer Node and a listener Node, each backed
// by internal/overlay.Static over real loopback UDP sockets, and joins
// both to nwid. The dialer's peer table is seeded with the listener's
// physical endpoint up front (Static has no discovery of its own); the
// listener learns the dialer's endpoint opportunistically from the
// first inbound packet, exactly as the CLI's dial/listen commands do.
func openPairedNodes(t *testing.T, nwid uint64) (dialer, listener *zt.Node, dialerID, listenerID uint64) {
	t.Helper()

	dialerID = 0x1111111111
	listenerID = 0x2222222222
	dialerHome := fmt.Sprintf("node-test-dialer-%d", time.Now().UnixNano())
	listenerHome := fmt.Sprintf("node-test-listener-%d", time.Now().UnixNano())

	listenerPort := freeUDPPort(t)
	listenerEP := loopbackEndpoint(listenerPort)

	dialerPeers := overlay.PeerTable{listenerID: listenerEP}

	var err error
	dialer, err = zt.OpenNode(dialerHome, 0, zt.DefaultPipeConfig(), overlay.New(dialerID, dialerPeers))
	require.NoError(t, err)
	t.Cleanup(func() { _ = zt.CloseNode(dialerHome) })

	listener, err = zt.OpenNode(listenerHome, int(listenerPort), zt.DefaultPipeConfig(), overlay.New(listenerID, nil))
	require.NoError(t, err)
	t.Cleanup(func() { _ = zt.CloseNode(listenerHome) })

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, dialer.JoinNetwork(ctx, nwid))
	require.NoError(t, listener.JoinNetwork(ctx, nwid))

	return dialer, listener, dialerID, listenerID
}

func TestLoopbackDialListenEcho(t *testing.T) {
	const nwid = 0xa09acf0233

	dialer, listener, dialerID, listenerID := openPairedNodes(t, nwid)

	lAddr := zt.NewAddress(listenerID, 9001)
	l, bound, err := listener.Listen(lAddr)
	require.NoError(t, err)
	assert.Equal(t, uint32(9001), bound.Port())

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	dialLocal := zt.NewAddress(dialerID, 0)
	dialRemote := zt.NewAddress(listenerID, 9001)

	type dialResult struct {
		pipe *zt.Pipe
		err  error
	}
	dialCh := make(chan dialResult, 1)
	go func() {
		p, err := dialer.Dial(ctx, dialLocal, dialRemote, 7)
		dialCh <- dialResult{p, err}
	}()

	var serverPipe *zt.Pipe
	deadline := time.Now().Add(3 * time.Second)
	for serverPipe == nil && time.Now().Before(deadline) {
		if p, ok := listener.Accept(l, bound, 7); ok {
			serverPipe = p
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	require.NotNil(t, serverPipe, "listener never accepted a connection")

	res := <-dialCh
	require.NoError(t, res.err)
	clientPipe := res.pipe
	require.NotNil(t, clientPipe)

	require.NoError(t, clientPipe.Send([]byte{0x68, 0x69}))

	var got []byte
	deadline = time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if msg, ok := serverPipe.Receive(); ok {
			got = msg
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	assert.Equal(t, []byte{0x68, 0x69}, got)
}

func TestDisconnectPropagation(t *testing.T) {
	const nwid = 0xa09acf0235

	dialer, listener, dialerID, listenerID := openPairedNodes(t, nwid)

	lAddr := zt.NewAddress(listenerID, 9002)
	l, bound, err := listener.Listen(lAddr)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	dialLocal := zt.NewAddress(dialerID, 0)
	dialRemote := zt.NewAddress(listenerID, 9002)

	type dialResult struct {
		pipe *zt.Pipe
		err  error
	}
	dialCh := make(chan dialResult, 1)
	go func() {
		p, err := dialer.Dial(ctx, dialLocal, dialRemote, 1)
		dialCh <- dialResult{p, err}
	}()

	var serverPipe *zt.Pipe
	deadline := time.Now().Add(3 * time.Second)
	for serverPipe == nil && time.Now().Before(deadline) {
		if p, ok := listener.Accept(l, bound, 1); ok {
			serverPipe = p
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	require.NotNil(t, serverPipe)

	res := <-dialCh
	require.NoError(t, res.err)
	clientPipe := res.pipe

	require.NoError(t, clientPipe.Close())

	deadline = time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) && !serverPipe.Closed() {
		time.Sleep(10 * time.Millisecond)
	}
	assert.True(t, serverPipe.Closed(), "peer close must propagate via DISC_REQ")
}

func TestDistinctPortsForConcurrentAccepts(t *testing.T) {
	const nwid = 0xa09acf0234

	_, listener, _, listenerID := openPairedNodes(t, nwid)

	lAddr := zt.NewAddress(listenerID, 9101)
	l, bound, err := listener.Listen(lAddr)
	require.NoError(t, err)

	peerA := zt.NewAddress(0x3333333333, 100)
	peerB := zt.NewAddress(0x4444444444, 100)

	now := time.Now()
	require.True(t, l.OnConnReq(peerA, 1, now))
	require.True(t, l.OnConnReq(peerB, 1, now))

	p1, ok := listener.Accept(l, bound, 1)
	require.True(t, ok)
	p2, ok := listener.Accept(l, bound, 1)
	require.True(t, ok)

	assert.NotEqual(t, p1.Local(), p2.Local(), "concurrent accepts must not collide on the same local address")
	assert.NotEqual(t, p1.Local().Port(), bound.Port(), "accepted pipe must not keep squatting the listener's well-known port")
}

func freeUDPPort(t *testing.T) uint32 {
	t.Helper()
	conn, err := net.ListenUDP("udp4", &net.UDPAddr{})
	require.NoError(t, err)
	port := uint32(conn.LocalAddr().(*net.UDPAddr).Port)
	require.NoError(t, conn.Close())
	return port
}

func loopbackEndpoint(port uint32) zt.UDPEndpoint {
	var ep zt.UDPEndpoint
	ip := net.ParseIP("127.0.0.1").To16()
	copy(ep.IP[:], ip)
	ep.Port = uint16(port)
	return ep
}
