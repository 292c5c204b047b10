package zt

import (
	"context"
	"fmt"
	"sync"
	"time"
)

var (
	registryMu sync.Mutex
	registry   = map[string]*nodeEntry{}
)

type nodeEntry struct {
	node     *Node
	refcount int
}

// PipeConfig tunes the per-pipe transport behavior a Node applies to
// every pipe it establishes: the reassembler sizing (RecvQ,
// RecvMaxSize) and the fallback fragment size used before the overlay
// has reported a virtual-network MTU (spec §6 recv-max-size; §4.5
// fragsz selection). Threaded down from config.GlobalConfig.Pipe by the
// daemon/CLI, or from DefaultPipeConfig by library/test callers that
// bypass internal/config entirely.
type PipeConfig struct {
	FragmentSize uint16
	RecvQ        int
	RecvMaxSize  uint32
}

// DefaultPipeConfig returns the same pipe tuning internal/config seeds
// as its defaults, for callers that open a Node without going through
// that package.
func DefaultPipeConfig() PipeConfig {
	return PipeConfig{
		FragmentSize: defaultFragSz,
		RecvQ:        DefaultRecvQ,
		RecvMaxSize:  defaultRecvMax,
	}
}

// OpenNode returns the shared Node for home, creating it on first use
// and bumping a refcount on subsequent calls (spec §4.6: "a process may
// open the same home directory more than once; share one overlay
// instance"). newOverlay is only invoked the first time home is opened.
// port is the local UDP port to bind (0 picks an ephemeral one); it and
// pipeCfg are only honored on the creating call, same as newOverlay.
func OpenNode(home string, port int, pipeCfg PipeConfig, newOverlay func(cb OverlayCallbacks) (Overlay, error)) (*Node, error) {
	registryMu.Lock()
	defer registryMu.Unlock()

	if e, ok := registry[home]; ok {
		e.refcount++
		return e.node, nil
	}

	n := &Node{
		home:         home,
		pipeCfg:      pipeCfg,
		addrs:        newAddressRegistry(),
		pipes:        make(map[pipeKey]*Pipe),
		peersByRaddr: make(map[Address]*Pipe),
		dialers:      make(map[uint32]*Dialer),
		dialWaiters:  make(map[uint32]*Aio),
		listeners:    make(map[uint32]*Listener),
		state:        NewStateStore(home),
		closeCh:      make(chan struct{}),
	}

	overlay, err := newOverlay(n.callbacks())
	if err != nil {
		return nil, fmt.Errorf("ztpipe: open overlay for %q: %w", home, err)
	}
	n.overlay = overlay

	udp, err := newUDPTransport(port, n.onUDPPacket)
	if err != nil {
		_ = overlay.Close()
		return nil, fmt.Errorf("ztpipe: open UDP transport for %q: %w", home, err)
	}
	n.udp = udp
	go udp.Run()

	registry[home] = &nodeEntry{node: n, refcount: 1}
	go n.scheduleLoop()
	return n, nil
}

// CloseNode drops this caller's reference; the Node and its overlay are
// torn down once the refcount reaches zero.
func CloseNode(home string) error {
	registryMu.Lock()
	defer registryMu.Unlock()

	e, ok := registry[home]
	if !ok {
		return nil
	}
	e.refcount--
	if e.refcount > 0 {
		return nil
	}
	delete(registry, home)
	return e.node.shutdown()
}

type pipeKey struct {
	local, remote Address
}

// Node is the shared per-home-directory manager: one Overlay instance,
// the address registry, in-flight dialers, listen backlogs, and
// established pipes, all behind a single lock (spec §9 Open Question:
// one lock over per-resource locks, since the overlay library itself is
// non-reentrant and every callback already serializes through it).
// Grounded on internal/daemon/daemon.go's single shared instance with an
// ordered Start/Stop lifecycle, and internal/scheduler/scheduler.go's
// singleton registry shape for the refcounted OpenNode/CloseNode pair
// above.
type Node struct {
	mu sync.Mutex

	home    string
	overlay Overlay
	udp     *udpTransport
	nwid    uint64
	pipeCfg PipeConfig
	maxMTU  uint16 // last overlay-reported virtual-network MTU; 0 = unknown

	addrs        *addressRegistry
	pipes        map[pipeKey]*Pipe
	peersByRaddr map[Address]*Pipe // established peers, for idempotent CONN_REQ (spec §4.4.2)
	dialers      map[uint32]*Dialer // keyed by local ephemeral port
	dialWaiters  map[uint32]*Aio    // one Aio per in-flight Dial, same key
	listeners    map[uint32]*Listener

	state *StateStore

	closeCh chan struct{}
	closed  bool

	eventListener func(EventType, []byte)
}

// SetEventListener registers the sink for this Node's lifecycle events
// (spec §4.6 item 5). Only one listener is kept; the daemon wiring
// layer fans it out further (internal/eventbus) to diagnostics,
// metrics, and structured logging subscribers. Safe to call before or
// after the overlay starts delivering events.
func (n *Node) SetEventListener(fn func(EventType, []byte)) {
	n.mu.Lock()
	n.eventListener = fn
	n.mu.Unlock()
}

// callbacks builds the six-function OverlayCallbacks struct the overlay
// library invokes (spec §4.6).
func (n *Node) callbacks() OverlayCallbacks {
	return OverlayCallbacks{
		WirePacketSend:      n.onWirePacketSend,
		VirtualNetworkFrame: n.onVirtualNetworkFrame,
		VirtualNetworkConfig: n.onVirtualNetworkConfig,
		StatePut:            n.state.Put,
		StateGet:            n.state.Get,
		Event:               n.onEvent,
	}
}

// onWirePacketSend is invoked by the overlay library when it needs a
// raw UDP datagram transmitted to a peer's physical endpoint.
func (n *Node) onWirePacketSend(localSocket int64, addr UDPEndpoint, data []byte) int {
	if n.udp == nil {
		return -1
	}
	if err := n.udp.Send(addr, data); err != nil {
		return -1
	}
	return len(data)
}

// onUDPPacket is udpTransport's inbound handler; it feeds raw datagrams
// back into the overlay library. The overlay library, in turn, calls
// onVirtualNetworkFrame once it has decrypted/decoded an L2 frame
// destined for our ethertype.
func (n *Node) onUDPPacket(localSocket int64, from UDPEndpoint, data []byte) {
	n.mu.Lock()
	overlay := n.overlay
	n.mu.Unlock()
	if overlay == nil {
		return
	}
	overlay.ProcessWirePacket(localSocket, from, data)
}

// onVirtualNetworkFrame handles one inbound L2 frame carrying our
// ethertype: decode the 12-byte header, resolve src/dst Address from
// the MAC/port pair, and dispatch by opcode.
func (n *Node) onVirtualNetworkFrame(nwid uint64, srcMAC, dstMAC [6]byte, ethertype uint16, payload []byte) {
	if ethertype != Ethertype {
		return
	}
	hdr, body, err := decodeFrameHeader(payload)
	if err != nil {
		return
	}

	srcNode := macToNodeID(nwid, srcMAC)
	src := NewAddress(srcNode, hdr.srcPort)
	dstNode := macToNodeID(nwid, dstMAC)
	dst := NewAddress(dstNode, hdr.dstPort)

	n.mu.Lock()
	defer n.mu.Unlock()

	switch hdr.op {
	case OpData, OpDataMF:
		n.handleDataLocked(src, dst, hdr.op, body)
	case OpConnReq:
		n.handleConnReqLocked(src, dst, body)
	case OpConnAck:
		n.handleConnAckLocked(src, dst, body)
	case OpDiscReq:
		n.handleDiscReqLocked(src, dst)
	case OpPingReq:
		n.handlePingReqLocked(src, dst)
	case OpPingAck:
		n.handlePingAckLocked(src, dst)
	case OpError:
		n.handleErrorLocked(src, dst, body)
	default:
		n.sendErrorLocked(dst, src, ErrCodeProto)
	}
}

// pipeSend builds a Pipe's sendFunc. It takes the Node lock itself
// since Pipe.Send is called directly by user code, outside any
// handleXLocked call path, but transmit still must only ever touch
// n.overlay/n.nwid under n.mu (spec §9 Open Question: single lock).
func (n *Node) pipeSend(local, remote Address) sendFunc {
	return func(op Opcode, body []byte) error {
		frame := encodeFrame(op, remote.Port(), local.Port(), body)
		n.mu.Lock()
		defer n.mu.Unlock()
		return n.transmit(remote, frame)
	}
}

// transmit wraps the local frame bytes as a virtual-L2 frame addressed
// to remote's derived MAC and asks the overlay to send it.
func (n *Node) transmit(remote Address, frame []byte) error {
	if n.overlay == nil {
		return ErrTranErr
	}
	dstMAC := deriveMAC(n.nwid, remote.NodeID())
	return n.overlay.Send(n.nwid, dstMAC, Ethertype, frame)
}

// registerPipeLocked indexes a newly-established pipe under both of the
// Node's pipe-keyed and peer-keyed maps, and arms its fini callback so
// Close/CloseNoNotify remove it from both and release its local port
// back to the address registry (spec §3 "Ownership": removal from the
// Node's indexes is the fini contract).
func (n *Node) registerPipeLocked(p *Pipe) {
	key := pipeKey{local: p.Local(), remote: p.Remote()}
	n.pipes[key] = p
	n.peersByRaddr[p.Remote()] = p
	p.setCloseNotify(func() {
		n.mu.Lock()
		defer n.mu.Unlock()
		n.unregisterPipeLocked(key)
	})
}

// unregisterPipeLocked removes a pipe from every Node index and frees
// its local port. Must be called with n.mu held.
func (n *Node) unregisterPipeLocked(key pipeKey) {
	p, ok := n.pipes[key]
	if !ok {
		return
	}
	delete(n.pipes, key)
	if n.peersByRaddr[key.remote] == p {
		delete(n.peersByRaddr, key.remote)
	}
	n.addrs.Release(key.local.Port())
}

func (n *Node) sendErrorLocked(local, remote Address, code ErrorCode) {
	body := encodeErrorBody(nil, errorBody{code: code})
	frame := encodeFrame(OpError, remote.Port(), local.Port(), body)
	_ = n.transmit(remote, frame)
}

func (n *Node) handleDataLocked(src, dst Address, op Opcode, body []byte) {
	p, ok := n.pipes[pipeKey{local: dst, remote: src}]
	if !ok {
		n.sendErrorLocked(dst, src, ErrCodeNotConn)
		return
	}
	db, err := decodeDataBody(op, body)
	if err != nil {
		n.sendErrorLocked(dst, src, ErrCodeProto)
		return
	}
	outcome := p.OnData(op, db)
	if outcome.protoErr {
		n.sendErrorLocked(dst, src, ErrCodeProto)
	} else if outcome.msgSizeErr {
		n.sendErrorLocked(dst, src, ErrCodeMsgSize)
	}
}

func (n *Node) handleConnReqLocked(src, dst Address, body []byte) {
	cb, err := decodeConnBody(body)
	if err != nil {
		n.sendErrorLocked(dst, src, ErrCodeProto)
		return
	}

	// Idempotence (spec §4.4.2): a retransmitted CONN_REQ from a raddr
	// that already has an established pipe gets another CONN_ACK, never
	// a second pipe or a fresh backlog entry.
	if p, ok := n.peersByRaddr[src]; ok {
		body := encodeConnBody(nil, connBody{spProto: p.Stats(time.Now()).SPProto})
		frame := encodeFrame(OpConnAck, p.Remote().Port(), p.Local().Port(), body)
		_ = n.transmit(p.Remote(), frame)
		return
	}

	l, ok := n.listeners[dst.Port()]
	if !ok {
		n.sendErrorLocked(dst, src, ErrCodeRefused)
		return
	}
	l.OnConnReq(src, cb.spProto, time.Now())
}

func (n *Node) handleConnAckLocked(src, dst Address, body []byte) {
	d, ok := n.dialers[dst.Port()]
	if !ok {
		return
	}
	cb, err := decodeConnBody(body)
	if err != nil {
		n.sendErrorLocked(dst, src, ErrCodeProto)
		return
	}
	if err := d.OnConnAck(cb.spProto); err == nil {
		p := NewPipe(dst, src, cb.spProto, n.fragSzLocked(), n.pipeCfg.RecvQ, n.pipeCfg.RecvMaxSize, n.pipeSend(dst, src))
		n.registerPipeLocked(p)
		n.resolveDialLocked(dst, p, nil)
	} else {
		n.resolveDialLocked(dst, nil, err)
	}
}

func (n *Node) handleDiscReqLocked(src, dst Address) {
	key := pipeKey{local: dst, remote: src}
	if p, ok := n.pipes[key]; ok {
		p.CloseNoNotify()
		n.unregisterPipeLocked(key)
	}
}

func (n *Node) handlePingReqLocked(src, dst Address) {
	if p, ok := n.pipes[pipeKey{local: dst, remote: src}]; ok {
		p.MarkAlive()
		frame := encodeFrame(OpPingAck, src.Port(), dst.Port(), nil)
		_ = n.transmit(src, frame)
	}
}

func (n *Node) handlePingAckLocked(src, dst Address) {
	if p, ok := n.pipes[pipeKey{local: dst, remote: src}]; ok {
		p.OnPingAck()
	}
}

func (n *Node) handleErrorLocked(src, dst Address, body []byte) {
	eb, err := decodeErrorBody(body)
	if err != nil {
		return
	}
	if d, ok := n.dialers[dst.Port()]; ok {
		d.OnError(eb.code)
		n.resolveDialLocked(dst, nil, d.Err())
	}
}

// JoinNetwork brings network nwid up on this node's overlay instance,
// blocking until the overlay reports a config (via
// onVirtualNetworkConfig) or ctx is canceled. Node itself never joins a
// network on its own: the caller (daemon startup, or a one-shot CLI
// dial/listen command) decides which network to ride on.
func (n *Node) JoinNetwork(ctx context.Context, nwid uint64) error {
	n.mu.Lock()
	overlay := n.overlay
	n.mu.Unlock()
	if overlay == nil {
		return ErrClosed
	}
	return overlay.Join(ctx, nwid)
}

// LeaveNetwork tears network nwid down.
func (n *Node) LeaveNetwork(nwid uint64) error {
	n.mu.Lock()
	overlay := n.overlay
	n.mu.Unlock()
	if overlay == nil {
		return ErrClosed
	}
	return overlay.Leave(nwid)
}

// onVirtualNetworkConfig implements spec §4.6 item 3: distinguish why
// the overlay fired (up/update/down/destroy), cache its reported MTU
// for the next pipe's fragSz selection (spec §4.5), and, on up/update,
// give any dialer still waiting on this network an immediate CONN_REQ
// instead of leaving it to the next 500ms scheduler tick.
func (n *Node) onVirtualNetworkConfig(nwid uint64, op NetworkConfigOp, config NetworkConfig) {
	n.mu.Lock()
	n.nwid = nwid

	var dialers []*Dialer
	switch op {
	case NetworkConfigUp, NetworkConfigUpdate:
		if config.MaxMTU > 0 {
			n.maxMTU = config.MaxMTU
		}
		dialers = make([]*Dialer, 0, len(n.dialers))
		for _, d := range n.dialers {
			dialers = append(dialers, d)
		}
	case NetworkConfigDown, NetworkConfigDestroy:
		// No dialer-side action: an in-flight Dial keeps retrying on
		// its own schedule and eventually times out if the network
		// never comes back.
	}
	n.mu.Unlock()

	for _, d := range dialers {
		n.kickDialer(d)
	}
}

// fragSzLocked picks the per-pipe fragment size for a pipe being
// created right now: the overlay's last-reported network MTU minus the
// fixed per-fragment wire overhead, when known (spec §4.5 "select
// fragsz = peer_mtu − DATA_HEADER_SIZE"), else the configured fallback.
// Callers must hold n.mu.
func (n *Node) fragSzLocked() uint16 {
	const overhead = FrameHeaderSize + DataHeaderSize
	if n.maxMTU > overhead {
		return n.maxMTU - overhead
	}
	return n.pipeCfg.FragmentSize
}

func (n *Node) onEvent(ev EventType, data []byte) {
	n.mu.Lock()
	listener := n.eventListener
	n.mu.Unlock()
	if listener != nil {
		listener(ev, data)
	}
}

const (
	defaultFragSz  = 1400
	defaultRecvMax = 65536
)

// AllocatePort reserves a local port for this node's node id: port 0
// draws the next free ephemeral port, a nonzero port is bound as a
// static address. owner is an opaque tag (a *Dialer or *Listener)
// recorded only for registry bookkeeping (spec §4.1 C1).
func (n *Node) AllocatePort(nodeID uint64, port uint32, owner any) (Address, error) {
	if port == 0 {
		p, err := n.addrs.BindEphemeral(owner)
		if err != nil {
			return 0, err
		}
		return NewAddress(nodeID, p), nil
	}
	if err := n.addrs.Bind(port, owner); err != nil {
		return 0, err
	}
	return NewAddress(nodeID, port), nil
}

// Dial allocates a local ephemeral port (if local.Port() is 0) and
// starts an outbound connect to remote, submitting an Aio that the
// background scheduler (retry/timeout) or an inbound CONN_ACK/ERROR
// frame resolves (spec §4.4.1, §9 "submit-then-complete"). Canceling
// ctx before resolution cancels the underlying connect and releases
// the ephemeral port it bound (spec.md's supplemented ep_fini-style
// cleanup — see SPEC_FULL.md).
func (n *Node) Dial(ctx context.Context, local, remote Address, spProto uint16) (*Pipe, error) {
	n.mu.Lock()
	ephemeral := local.Unbound()
	if ephemeral {
		addr, err := n.AllocatePort(local.NodeID(), 0, nil)
		if err != nil {
			n.mu.Unlock()
			return nil, err
		}
		local = addr
	}
	aio := NewAio()
	n.dialers[local.Port()] = NewDialer(local, remote, spProto)
	n.dialWaiters[local.Port()] = aio
	n.mu.Unlock()

	v, err := aio.Wait(ctx)
	if err != nil {
		aio.Cancel()
		n.mu.Lock()
		delete(n.dialers, local.Port())
		delete(n.dialWaiters, local.Port())
		if ephemeral {
			n.addrs.Release(local.Port())
		}
		n.mu.Unlock()
		return nil, err
	}
	return v.(*Pipe), nil
}

// resolveDialLocked completes (and clears) the Aio waiting on local's
// Dial, if any. Callers must already hold n.mu.
func (n *Node) resolveDialLocked(local Address, pipe *Pipe, err error) {
	if aio, ok := n.dialWaiters[local.Port()]; ok {
		aio.Complete(pipe, err)
		delete(n.dialWaiters, local.Port())
	}
	delete(n.dialers, local.Port())
}

// Listen registers a listener on local's port, allocating an ephemeral
// one if local.Port() is 0.
func (n *Node) Listen(local Address) (*Listener, Address, error) {
	n.mu.Lock()
	defer n.mu.Unlock()

	l := NewListener(local)
	if local.Unbound() {
		addr, err := n.AllocatePort(local.NodeID(), 0, l)
		if err != nil {
			return nil, 0, err
		}
		local = addr
		l.local = local
	} else if _, exists := n.listeners[local.Port()]; exists {
		return nil, 0, ErrAddrInUse
	} else if err := n.addrs.Bind(local.Port(), l); err != nil {
		return nil, 0, err
	}

	n.listeners[local.Port()] = l
	return l, local, nil
}

// Accept completes a pending inbound connection on l into an
// established Pipe, replying CONN_ACK to the peer. Per spec §4.4.2,
// the new pipe gets its own freshly allocated local port rather than
// reusing the listener's well-known one, so the listener keeps serving
// new connections on local and two concurrent accepts never collide on
// the same laddr (spec §8 testable property 4).
func (n *Node) Accept(l *Listener, local Address, spProto uint16) (*Pipe, bool) {
	n.mu.Lock()
	defer n.mu.Unlock()

	remote, _, ok := l.Accept(time.Now())
	if !ok {
		return nil, false
	}
	pipeLocal, err := n.AllocatePort(local.NodeID(), 0, nil)
	if err != nil {
		return nil, false
	}
	p := NewPipe(pipeLocal, remote, spProto, n.fragSzLocked(), n.pipeCfg.RecvQ, n.pipeCfg.RecvMaxSize, n.pipeSend(pipeLocal, remote))
	n.registerPipeLocked(p)

	body := encodeConnBody(nil, connBody{spProto: spProto})
	frame := encodeFrame(OpConnAck, remote.Port(), pipeLocal.Port(), body)
	_ = n.transmit(remote, frame)

	return p, true
}

// scheduleLoop is the background scheduler (spec §4.6): ticks dialers'
// retransmit timers and pipes' keepalive pings.
func (n *Node) scheduleLoop() {
	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-n.closeCh:
			return
		case now := <-ticker.C:
			n.tick(now)
		}
	}
}

// tick advances dialer retransmit timers and pipe keepalives. Both the
// dialer send callback and Pipe.Ping end up in n.transmit, which needs
// n.mu — so the dialer/pipe snapshot is taken under lock and then
// iterated unlocked, rather than nesting a second n.mu.Lock() inside
// this one (spec §9 Open Question: a single non-reentrant lock).
func (n *Node) tick(now time.Time) {
	n.mu.Lock()
	dialers := make([]*Dialer, 0, len(n.dialers))
	for _, d := range n.dialers {
		dialers = append(dialers, d)
	}
	pipes := make([]*Pipe, 0, len(n.pipes))
	for _, p := range n.pipes {
		pipes = append(pipes, p)
	}
	n.mu.Unlock()

	for _, d := range dialers {
		n.tickDialer(d, now)
	}
	for _, p := range pipes {
		_ = p.Ping(now, 10*time.Second)
	}
}

// tickDialer advances one dialer's retransmit timer and resolves its
// waiting Dial if this tick finishes it off (established or given up).
func (n *Node) tickDialer(d *Dialer, now time.Time) {
	done := d.Tick(now, func(body connBody) error {
		frame := encodeFrame(OpConnReq, d.remote.Port(), d.local.Port(), encodeConnBody(nil, body))
		n.mu.Lock()
		defer n.mu.Unlock()
		return n.transmit(d.remote, frame)
	})
	if done && d.State() == stateClosed {
		n.mu.Lock()
		n.resolveDialLocked(d.local, nil, d.Err())
		n.mu.Unlock()
	}
}

// kickDialer forces an immediate CONN_REQ send for d, bypassing its
// retry-interval gate, the way a network-up/update event should rather
// than waiting for the next periodic tick.
func (n *Node) kickDialer(d *Dialer) {
	d.ResetRetryTimer()
	n.tickDialer(d, time.Now())
}

// shutdown tears the Node down: stops the scheduler, closes pipes,
// closes the UDP transport and overlay.
func (n *Node) shutdown() error {
	n.mu.Lock()
	if n.closed {
		n.mu.Unlock()
		return nil
	}
	n.closed = true
	pipes := make([]*Pipe, 0, len(n.pipes))
	for _, p := range n.pipes {
		pipes = append(pipes, p)
	}
	n.mu.Unlock()

	// Close outside the lock: Pipe.Close sends DISC_REQ through its
	// sendFunc, which itself takes n.mu (see pipeSend).
	for _, p := range pipes {
		_ = p.Close()
	}

	close(n.closeCh)

	var err error
	if n.udp != nil {
		err = n.udp.Close()
	}
	if n.overlay != nil {
		if oerr := n.overlay.Close(); err == nil {
			err = oerr
		}
	}
	return err
}

// Home returns the home directory this Node was opened against.
func (n *Node) Home() string { return n.home }

// Address returns this node's 40-bit overlay identity, as reported by
// the underlying Overlay.
func (n *Node) Address() uint64 {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.overlay == nil {
		return 0
	}
	return n.overlay.Address()
}

// Network returns the joined network id, as last reported by
// onVirtualNetworkConfig.
func (n *Node) Network() uint64 {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.nwid
}

// ListPipes returns a snapshot of all pipes currently tracked by this
// Node, used by the control-plane list_pipes command.
func (n *Node) ListPipes() []*Pipe {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]*Pipe, 0, len(n.pipes))
	for _, p := range n.pipes {
		out = append(out, p)
	}
	return out
}

// FindPipe looks up a tracked pipe by its local/remote address pair.
func (n *Node) FindPipe(local, remote Address) (*Pipe, bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	p, ok := n.pipes[pipeKey{local: local, remote: remote}]
	return p, ok
}
