package zt

import (
	"fmt"
	"net"
	"sync"

	"golang.org/x/net/ipv4"
	"golang.org/x/net/ipv6"
	"golang.org/x/sys/unix"
)

// udpSocketBuf is the kernel socket buffer size requested on each
// direction; large messages fragment into many datagrams so the kernel
// queue needs headroom beyond the Go default.
const udpSocketBuf = 1 << 20 // 1 MiB

// wirePacketHandler receives every inbound datagram read off either
// stack. localSocket distinguishes which underlying fd it arrived on,
// matching the overlay library's wire_packet_send/receive convention
// (spec §4.6).
type wirePacketHandler func(localSocket int64, from UDPEndpoint, data []byte)

// udpTransport owns the node's physical sockets: one v4, one v6 (best
// effort). Adapted from the teacher's raw-socket-tuning lineage
// (reaching past the stdlib net package to set buffer sizes via
// golang.org/x/sys/unix), retargeted from AF_PACKET capture to UDP.
type udpTransport struct {
	v4 *ipv4.PacketConn
	v6 *ipv6.PacketConn // nil if the v6 listen failed

	v4Raw *net.UDPConn
	v6Raw *net.UDPConn

	mu      sync.Mutex
	closed  bool
	handler wirePacketHandler
}

// newUDPTransport opens dual-stack listening sockets on port (0 =
// ephemeral). A v6 failure is not fatal and is not reported — the node
// simply runs v4-only.
func newUDPTransport(port int, handler wirePacketHandler) (*udpTransport, error) {
	t := &udpTransport{handler: handler}

	v4conn, err := net.ListenUDP("udp4", &net.UDPAddr{Port: port})
	if err != nil {
		return nil, fmt.Errorf("ztpipe: open v4 socket: %w", err)
	}
	tuneSocketBuffers(v4conn)
	t.v4Raw = v4conn
	t.v4 = ipv4.NewPacketConn(v4conn)

	v6conn, err := net.ListenUDP("udp6", &net.UDPAddr{Port: v4conn.LocalAddr().(*net.UDPAddr).Port})
	if err == nil {
		tuneSocketBuffers(v6conn)
		t.v6Raw = v6conn
		t.v6 = ipv6.NewPacketConn(v6conn)
	}

	return t, nil
}

// tuneSocketBuffers requests larger kernel send/receive buffers via
// SO_RCVBUF/SO_SNDBUF, best effort (a tuning failure never aborts
// startup).
func tuneSocketBuffers(conn *net.UDPConn) {
	raw, err := conn.SyscallConn()
	if err != nil {
		return
	}
	_ = raw.Control(func(fd uintptr) {
		_ = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_RCVBUF, udpSocketBuf)
		_ = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_SNDBUF, udpSocketBuf)
	})
}

// Run starts one blocking receive loop per open stack and waits for
// them; callers run it in its own goroutine. It returns once every
// open socket has been closed.
func (t *udpTransport) Run() {
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		t.readLoop(1, t.v4Raw)
	}()
	if t.v6Raw != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			t.readLoop(2, t.v6Raw)
		}()
	}
	wg.Wait()
}

func (t *udpTransport) readLoop(localSocket int64, conn *net.UDPConn) {
	buf := make([]byte, 16384)
	for {
		n, addr, err := conn.ReadFromUDP(buf)
		if err != nil {
			t.mu.Lock()
			closed := t.closed
			t.mu.Unlock()
			if closed {
				return
			}
			continue
		}
		data := make([]byte, n)
		copy(data, buf[:n])
		ep := udpEndpointFromAddr(addr)
		if t.handler != nil {
			t.handler(localSocket, ep, data)
		}
	}
}

// Send writes data to ep over whichever stack matches its address
// family, returning ErrTranErr if that stack isn't open.
func (t *udpTransport) Send(ep UDPEndpoint, data []byte) error {
	addr := ep.toUDPAddr()
	if addr.IP.To4() != nil {
		if t.v4Raw == nil {
			return ErrTranErr
		}
		_, err := t.v4Raw.WriteToUDP(data, addr)
		return err
	}
	if t.v6Raw == nil {
		return ErrTranErr
	}
	_, err := t.v6Raw.WriteToUDP(data, addr)
	return err
}

// Close shuts both sockets down, unblocking the read loops.
func (t *udpTransport) Close() error {
	t.mu.Lock()
	t.closed = true
	t.mu.Unlock()

	var firstErr error
	if t.v4Raw != nil {
		if err := t.v4Raw.Close(); err != nil {
			firstErr = err
		}
	}
	if t.v6Raw != nil {
		if err := t.v6Raw.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func udpEndpointFromAddr(addr *net.UDPAddr) UDPEndpoint {
	var ep UDPEndpoint
	ip16 := addr.IP.To16()
	copy(ep.IP[:], ip16)
	ep.Port = uint16(addr.Port)
	ep.Zone = addr.Zone
	return ep
}

func (ep UDPEndpoint) toUDPAddr() *net.UDPAddr {
	ip := net.IP(ep.IP[:])
	return &net.UDPAddr{IP: ip, Port: int(ep.Port), Zone: ep.Zone}
}
