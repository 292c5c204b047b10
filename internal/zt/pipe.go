package zt

import (
	"sync"
	"time"
)

// sendFunc transmits one already-encoded wire frame to the pipe's
// remote address; Node supplies this, backed by udpTransport + Overlay.
type sendFunc func(op Opcode, body []byte) error

// Pipe is an established, bidirectional message channel between a local
// and remote Address (spec §4.5 C5). Send segments an outbound message
// into fixed-size fragments; Receive drains completed messages off the
// pipe's Reassembler. Grounded on the fragmentation/reassembly split in
// other_examples' arpc transport helper (FragmentData/ProcessFragment)
// for the send-side chunking math, and the teacher's cancel-with-timeout
// job shutdown shape (internal/scheduler/job.go) for Close.
type Pipe struct {
	mu sync.Mutex

	local, remote Address
	spProto       uint16
	fragSz        uint16
	recvMaxSize   uint32

	reassembler *Reassembler
	nextMsgID   uint16

	closed       bool
	lastSentPing time.Time
	lastRecvAny  time.Time

	send sendFunc
	// closeNotify is the Node's fini hook: removes this pipe from its
	// indexes and releases its local port (spec §3 "Ownership"). Only
	// invoked by Close(), never CloseNoNotify() — the latter is called
	// by Node while already holding its own lock, and the hook itself
	// re-acquires that lock (see setCloseNotify).
	closeNotify func()
}

// setCloseNotify arms the Node-side fini hook. Called once, right after
// the pipe is registered into the Node's indexes.
func (p *Pipe) setCloseNotify(fn func()) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closeNotify = fn
}

// NewPipe constructs an established pipe. fragSz is the negotiated
// maximum per-fragment payload; recvQ/recvMaxSize size the reassembler.
func NewPipe(local, remote Address, spProto uint16, fragSz uint16, recvQ int, recvMaxSize uint32, send sendFunc) *Pipe {
	return &Pipe{
		local:       local,
		remote:      remote,
		spProto:     spProto,
		fragSz:      fragSz,
		recvMaxSize: recvMaxSize,
		reassembler: NewReassembler(recvQ, recvMaxSize),
		send:        send,
		lastRecvAny: time.Now(),
	}
}

// Send segments msg into fragments of at most fragSz bytes and transmits
// each as DATA_MF except the last, which is DATA. A message that fits in
// a single fragment goes out as one plain DATA frame (fragNo=0,
// nfrags=1).
func (p *Pipe) Send(msg []byte) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return ErrClosed
	}
	if uint32(len(msg)) > p.recvMaxSize {
		p.mu.Unlock()
		return ErrMsgSize
	}
	msgID := p.nextMsgID
	p.nextMsgID++
	fragSz := p.fragSz
	sender := p.send
	p.mu.Unlock()

	nfrags := uint16((len(msg) + int(fragSz) - 1) / int(fragSz))
	if nfrags == 0 {
		nfrags = 1
	}

	for i := uint16(0); i < nfrags; i++ {
		start := int(i) * int(fragSz)
		end := start + int(fragSz)
		if end > len(msg) {
			end = len(msg)
		}
		op := OpDataMF
		if i == nfrags-1 {
			op = OpData
		}
		body := encodeDataBody(nil, dataBody{
			msgID:   msgID,
			fragSz:  fragSz,
			fragNo:  i,
			nfrags:  nfrags,
			payload: msg[start:end],
		})
		if err := sender(op, body); err != nil {
			return err
		}
	}
	return nil
}

// OnData feeds one inbound DATA/DATA_MF frame's body to the
// reassembler. The caller (Node) is responsible for sending
// ERROR(PROTO)/ERROR(MSGSIZE) when outcome demands it; a completed
// message stays queued until Receive drains it.
func (p *Pipe) OnData(op Opcode, body dataBody) deliverOutcome {
	p.mu.Lock()
	p.lastRecvAny = time.Now()
	p.mu.Unlock()
	return p.reassembler.DeliverFragment(body.msgID, body.fragNo, body.nfrags, body.fragSz, body.payload, op == OpData)
}

// Receive drains the oldest completed message, if any.
func (p *Pipe) Receive() ([]byte, bool) {
	return p.reassembler.TakeReady()
}

// Ping sends a PING_REQ if the keepalive interval has elapsed. The
// caller supplies its own interval policy; Pipe only tracks the last
// send time so repeated calls within one tick are free.
func (p *Pipe) Ping(now time.Time, interval time.Duration) error {
	p.mu.Lock()
	if p.closed || now.Sub(p.lastSentPing) < interval {
		p.mu.Unlock()
		return nil
	}
	p.lastSentPing = now
	sender := p.send
	p.mu.Unlock()
	return sender(OpPingReq, nil)
}

// MarkAlive refreshes the liveness timestamp on receipt of a PING_REQ.
// Unlike Ping/Send/Close, this never sends anything itself: Node calls
// it while already holding its own lock (from the inbound-frame
// dispatch path) and issues the PING_ACK frame directly, rather than
// re-entering Pipe's sendFunc and re-acquiring that same lock.
func (p *Pipe) MarkAlive() {
	p.mu.Lock()
	p.lastRecvAny = time.Now()
	p.mu.Unlock()
}

// OnPingAck just refreshes the liveness timestamp.
func (p *Pipe) OnPingAck() {
	p.mu.Lock()
	p.lastRecvAny = time.Now()
	p.mu.Unlock()
}

// Idle reports how long it has been since anything was received on this
// pipe.
func (p *Pipe) Idle(now time.Time) time.Duration {
	p.mu.Lock()
	defer p.mu.Unlock()
	return now.Sub(p.lastRecvAny)
}

// Close marks the pipe closed, notifies the Node to remove it from its
// indexes and free its local port, and best-effort sends DISC_REQ. Safe
// to call more than once.
func (p *Pipe) Close() error {
	sender, notify, alreadyClosed := p.closeLocal()
	if alreadyClosed {
		return nil
	}
	if notify != nil {
		notify()
	}
	return sender(OpDiscReq, nil)
}

// CloseNoNotify tears the pipe down locally without sending DISC_REQ and
// without invoking the Node fini hook, for use when the peer's own
// DISC_REQ is what triggered the teardown: Node calls this while
// already holding its lock from the inbound-frame dispatch path, so it
// must not re-enter sendFunc or re-acquire its own lock (see
// MarkAlive). The caller is responsible for removing the pipe from
// Node's indexes itself in that case.
func (p *Pipe) CloseNoNotify() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	p.mu.Unlock()
	p.reassembler.Close()
}

// closeLocal marks the pipe closed and releases its reassembler,
// returning the sendFunc and fini hook to use and whether it was
// already closed.
func (p *Pipe) closeLocal() (sendFunc, func(), bool) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil, nil, true
	}
	p.closed = true
	sender := p.send
	notify := p.closeNotify
	p.mu.Unlock()

	p.reassembler.Close()
	return sender, notify, false
}

// Closed reports whether Close has already run.
func (p *Pipe) Closed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

// Remote returns the pipe's peer address.
func (p *Pipe) Remote() Address { return p.remote }

// Local returns the pipe's local address.
func (p *Pipe) Local() Address { return p.local }

// PipeStats is a point-in-time snapshot of a pipe's introspectable
// state, used by the control-plane pipe_stats command.
type PipeStats struct {
	Local, Remote Address
	SPProto       uint16
	FragmentSize  uint16
	RecvMaxSize   uint32
	Closed        bool
	LastRecvAgo   time.Duration
}

// Stats returns a snapshot of the pipe's current state.
func (p *Pipe) Stats(now time.Time) PipeStats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return PipeStats{
		Local:        p.local,
		Remote:       p.remote,
		SPProto:      p.spProto,
		FragmentSize: p.fragSz,
		RecvMaxSize:  p.recvMaxSize,
		Closed:       p.closed,
		LastRecvAgo:  now.Sub(p.lastRecvAny),
	}
}
