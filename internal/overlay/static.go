// Package overlay provides a minimal Overlay implementation for use
// where no real virtual-L2 overlay library is wired in. spec.md §1
// treats that library (ZeroTier-like: encrypted peer-to-peer delivery,
// discovery, multicast) as an external dependency entirely out of
// scope for this repository; Static exists only so the CLI's
// daemon/dial/listen commands have something concrete to drive
// end-to-end, e.g. the loopback dial/listen/echo scenario in spec.md
// §8 #1. It is not a production overlay: one network at a time, a
// fixed/learned peer table, no encryption, no discovery, no multicast.
package overlay

import (
	"context"
	"crypto/rand"
	"encoding/binary"
	"fmt"
	"sync"

	"github.com/zt-overlay/ztpipe/internal/zt"
)

const (
	envelopeVersion    = 1
	envelopeHeaderSize = 1 + 8 + 8 + 2 // version + srcNodeID + nwid + ethertype

	// DefaultOverlayMTU is the virtual-network MTU this stand-in
	// overlay reports on Join/config-update. Node's fragSz selection
	// subtracts the 12-byte frame header and 8-byte DATA header from
	// it, giving 1400 bytes, the same as the pipe.fragment_size default.
	DefaultOverlayMTU = 1420
)

// PeerTable maps a peer's overlay node id to its last-known physical
// UDP endpoint.
type PeerTable map[uint64]zt.UDPEndpoint

// Static is a single-network, static/learned-peer-table Overlay. It
// rides entirely on the WirePacketSend callback Node supplies (the
// Node's own physical UDP socket) rather than opening one of its own.
type Static struct {
	mu     sync.RWMutex
	nodeID uint64
	nwid   uint64
	joined bool
	peers  PeerTable
	cb     zt.OverlayCallbacks
	closed bool
}

// New returns a Node-compatible overlay constructor bound to nodeID and
// an initial peer table (nil is fine; AddPeer and learned-from-traffic
// entries populate it afterward).
func New(nodeID uint64, peers PeerTable) func(cb zt.OverlayCallbacks) (zt.Overlay, error) {
	if peers == nil {
		peers = PeerTable{}
	}
	return func(cb zt.OverlayCallbacks) (zt.Overlay, error) {
		return &Static{nodeID: nodeID, peers: peers, cb: cb}, nil
	}
}

// identityStateID is the StatePut/StateGet id NewAuto persists a
// generated node id under; arbitrary but fixed, since Static only ever
// tracks one identity per home directory.
var identityStateID = [2]uint64{0, 0}

// NewAuto returns a Node-compatible overlay constructor whose node id
// is resolved at construction time: nodeIDHint if nonzero, otherwise a
// previously persisted identity (via the StateGet/StatePut callbacks
// Node wires to its StateStore), otherwise a freshly generated
// random 40-bit id that gets persisted so the next OpenNode on the same
// home directory recovers the same identity (mirroring how a real
// overlay library persists identity.secret).
func NewAuto(nodeIDHint uint64, peers PeerTable) func(cb zt.OverlayCallbacks) (zt.Overlay, error) {
	if peers == nil {
		peers = PeerTable{}
	}
	return func(cb zt.OverlayCallbacks) (zt.Overlay, error) {
		nodeID := nodeIDHint
		if nodeID == 0 {
			if data, ok := cb.StateGet(zt.StateIdentitySecret, identityStateID); ok && len(data) >= 8 {
				nodeID = binary.BigEndian.Uint64(data) & 0xFFFFFFFFFF
			} else {
				var buf [8]byte
				if _, err := rand.Read(buf[3:]); err != nil {
					return nil, fmt.Errorf("ztpipe: overlay: generate node id: %w", err)
				}
				nodeID = binary.BigEndian.Uint64(buf[:]) & 0xFFFFFFFFFF
				if cb.StatePut != nil {
					cb.StatePut(zt.StateIdentitySecret, identityStateID, buf[:])
				}
			}
		}
		return &Static{nodeID: nodeID, peers: peers, cb: cb}, nil
	}
}

// AddPeer registers (or replaces) remoteID's physical endpoint.
func (s *Static) AddPeer(remoteID uint64, ep zt.UDPEndpoint) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.peers[remoteID] = ep
}

// Join records nwid as this overlay's one active network and reports
// it up immediately; Static has no real join handshake to wait on.
func (s *Static) Join(ctx context.Context, nwid uint64) error {
	s.mu.Lock()
	s.nwid = nwid
	s.joined = true
	cb := s.cb.VirtualNetworkConfig
	s.mu.Unlock()
	if cb != nil {
		cb(nwid, zt.NetworkConfigUp, zt.NetworkConfig{MaxMTU: DefaultOverlayMTU, PhyMTU: DefaultOverlayMTU})
	}
	return nil
}

// Leave tears the network down.
func (s *Static) Leave(nwid uint64) error {
	s.mu.Lock()
	s.joined = false
	cb := s.cb.VirtualNetworkConfig
	s.mu.Unlock()
	if cb != nil {
		cb(nwid, zt.NetworkConfigDown, zt.NetworkConfig{})
	}
	return nil
}

// Address returns this overlay's fixed node id.
func (s *Static) Address() uint64 { return s.nodeID }

// LocalMAC derives this node's MAC the same way Node does internally,
// so Send/ProcessWirePacket and Node's own transmit agree on addresses.
func (s *Static) LocalMAC(nwid uint64) ([6]byte, error) {
	return zt.DeriveMAC(nwid, s.nodeID), nil
}

// Close marks the overlay closed; further Send calls fail.
func (s *Static) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return nil
}

// Send wraps payload (already a full ztpipe wire frame, per Node's
// transmit) in this overlay's minimal envelope and asks Node's
// physical socket (WirePacketSend) to deliver it to dstMAC's peer
// endpoint.
func (s *Static) Send(nwid uint64, dstMAC [6]byte, ethertype uint16, payload []byte) error {
	s.mu.RLock()
	closed := s.closed
	dstNode := zt.MACToNodeID(nwid, dstMAC)
	ep, ok := s.peers[dstNode]
	send := s.cb.WirePacketSend
	s.mu.RUnlock()

	if closed {
		return zt.ErrClosed
	}
	if !ok {
		return fmt.Errorf("ztpipe: overlay: no peer endpoint known for node %#x", dstNode)
	}
	if send == nil {
		return zt.ErrTranErr
	}

	env := make([]byte, envelopeHeaderSize+len(payload))
	env[0] = envelopeVersion
	binary.BigEndian.PutUint64(env[1:9], s.nodeID)
	binary.BigEndian.PutUint64(env[9:17], nwid)
	binary.BigEndian.PutUint16(env[17:19], ethertype)
	copy(env[envelopeHeaderSize:], payload)

	if n := send(0, ep, env); n < 0 {
		return zt.ErrTranErr
	}
	return nil
}

// ProcessWirePacket decodes one inbound envelope and, if its network id
// matches the one this overlay has joined, delivers it as a
// VirtualNetworkFrame. The sender's physical endpoint is learned
// opportunistically so a listener never needs the dialer's address
// configured up front.
func (s *Static) ProcessWirePacket(localSocket int64, from zt.UDPEndpoint, data []byte) {
	if len(data) < envelopeHeaderSize || data[0] != envelopeVersion {
		return
	}
	srcNode := binary.BigEndian.Uint64(data[1:9])
	nwid := binary.BigEndian.Uint64(data[9:17])
	ethertype := binary.BigEndian.Uint16(data[17:19])
	payload := data[envelopeHeaderSize:]

	s.mu.Lock()
	joined, onNetwork := s.nwid, s.joined
	s.peers[srcNode] = from
	deliver := s.cb.VirtualNetworkFrame
	s.mu.Unlock()

	if !onNetwork || nwid != joined || deliver == nil {
		return
	}
	srcMAC := zt.DeriveMAC(nwid, srcNode)
	dstMAC := zt.DeriveMAC(nwid, s.nodeID)
	deliver(nwid, srcMAC, dstMAC, ethertype, payload)
}
