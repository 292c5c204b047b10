package zt

import (
	"fmt"
	"time"
)

// connState is a dialer endpoint's lifecycle (spec §4.4.1).
type connState int

const (
	stateConnecting connState = iota
	stateEstablished
	stateClosed
)

func (s connState) String() string {
	switch s {
	case stateConnecting:
		return "CONNECTING"
	case stateEstablished:
		return "ESTABLISHED"
	default:
		return "CLOSED"
	}
}

// Dialer drives the outbound connect handshake: send CONN_REQ, retry on
// a fixed interval up to a attempt ceiling, accept CONN_ACK or a mapped
// ERROR. Grounded on the teacher's phased-lifecycle/poll-with-timeout
// shape (internal/task/manager.go's ordered Create phases and
// internal/daemon/manager.go's EnsureDaemonRunning retry loop).
type Dialer struct {
	local, remote Address
	spProto       uint16

	state    connState
	attempts int
	lastSent time.Time
	err      error
}

// NewDialer begins a connect attempt from local to remote, speaking SP
// protocol number spProto.
func NewDialer(local, remote Address, spProto uint16) *Dialer {
	return &Dialer{local: local, remote: remote, spProto: spProto, state: stateConnecting}
}

// Tick is called periodically by the Node's background scheduler, and
// at once by Node.kickDialer when a network comes up. send transmits a CONN_REQ frame to remote; Tick
// reports whether the dialer should be retired (established or given
// up).
func (d *Dialer) Tick(now time.Time, send func(body connBody) error) (done bool) {
	if d.state != stateConnecting {
		return true
	}
	if !d.lastSent.IsZero() && now.Sub(d.lastSent) < DefaultConnInterval*time.Millisecond {
		return false
	}
	if d.attempts >= DefaultConnAttempts {
		d.state = stateClosed
		d.err = ErrTimedOut
		return true
	}
	d.attempts++
	d.lastSent = now
	if err := send(connBody{spProto: d.spProto}); err != nil {
		d.state = stateClosed
		d.err = fmt.Errorf("ztpipe: send CONN_REQ: %w", err)
		return true
	}
	return false
}

// OnConnAck completes the dialer successfully if the peer's SP protocol
// number matches; a mismatch fails with ErrWrongSP (spec §4.4.1).
func (d *Dialer) OnConnAck(peerSPProto uint16) error {
	if d.state != stateConnecting {
		return nil
	}
	if peerSPProto != d.spProto {
		d.state = stateClosed
		d.err = ErrWrongSP
		return d.err
	}
	d.state = stateEstablished
	return nil
}

// OnError fails the dialer with the sentinel mapped from the wire error
// code (spec §4.4.1 / §7).
func (d *Dialer) OnError(code ErrorCode) {
	if d.state != stateConnecting {
		return
	}
	d.state = stateClosed
	d.err = code.toError()
}

// ResetRetryTimer clears the retry-interval gate so the next Tick call
// sends a CONN_REQ immediately, regardless of how recently the last one
// went out. Node uses this to kick a waiting dialer the moment its
// network comes up or its config updates, rather than leaving it to the
// next periodic scheduler tick.
func (d *Dialer) ResetRetryTimer() {
	d.lastSent = time.Time{}
}

// State reports the dialer's current state.
func (d *Dialer) State() connState { return d.state }

// Err returns the terminal error, if any.
func (d *Dialer) Err() error { return d.err }

// backlogEntry is one not-yet-accepted inbound connection (spec
// §4.4.2).
type backlogEntry struct {
	remote   Address
	spProto  uint16
	lastSeen time.Time
}

// Listener holds a bounded backlog of pending inbound CONN_REQs,
// deduplicating retransmitted CONN_REQ frames from a peer still waiting
// in the backlog (spec §4.4.2's "supplemented" idempotent accept
// behavior). Already-accepted peers are indexed by Node, not here.
type Listener struct {
	local   Address
	backlog []backlogEntry
	maxQ    int
	expire  time.Duration
}

// NewListener creates a Listener bound to local with the default
// backlog capacity and entry expiry.
func NewListener(local Address) *Listener {
	return &Listener{
		local:  local,
		maxQ:   DefaultListenQ,
		expire: DefaultListenExpire * time.Millisecond,
	}
}

// OnConnReq records (or refreshes) a pending connection from remote.
// Returns true if this is a CONN_REQ the accept loop should eventually
// see (either newly queued, or a retransmit of one already queued —
// the supplemented dedupe-with-refresh behavior keeps a slow acceptor
// from seeing the same peer twice under a different backlog slot).
// Returns false if the backlog is full and remote is not already
// present, meaning the caller should silently drop the frame.
func (l *Listener) OnConnReq(remote Address, spProto uint16, now time.Time) bool {
	l.gc(now)
	for i := range l.backlog {
		if l.backlog[i].remote == remote {
			l.backlog[i].lastSeen = now
			l.backlog[i].spProto = spProto
			return true
		}
	}
	if len(l.backlog) >= l.maxQ {
		return false
	}
	l.backlog = append(l.backlog, backlogEntry{remote: remote, spProto: spProto, lastSeen: now})
	return true
}

// Accept pops the oldest non-expired backlog entry, if any. Entries
// that aged past expire since the last gc (no retransmit arrived to
// refresh them) are dropped here rather than handed to the caller
// (spec §4.4.2: "Expired entries are discarded without accept").
func (l *Listener) Accept(now time.Time) (remote Address, spProto uint16, ok bool) {
	l.gc(now)
	if len(l.backlog) == 0 {
		return 0, 0, false
	}
	e := l.backlog[0]
	l.backlog = l.backlog[1:]
	return e.remote, e.spProto, true
}

// gc drops backlog entries untouched for longer than expire.
func (l *Listener) gc(now time.Time) {
	if len(l.backlog) == 0 {
		return
	}
	kept := l.backlog[:0]
	for _, e := range l.backlog {
		if now.Sub(e.lastSeen) <= l.expire {
			kept = append(kept, e)
		}
	}
	l.backlog = kept
}
