package zt

import "fmt"

// Address is the 64-bit canonical demux key: node_id(40) || port(24).
type Address uint64

const (
	portBits = 24
	portMask = (uint64(1) << portBits) - 1

	// PortEphemeralLo/Hi bound the high, randomly-seeded ephemeral range.
	PortEphemeralLo = uint32(0x800000)
	PortEphemeralHi = uint32(0xFFFFFF)

	// PortStaticLo/Hi bound the low, user-requested static range.
	PortStaticLo = uint32(0x000001)
	PortStaticHi = uint32(0x7FFFFF)
)

// NewAddress packs a 40-bit node id and 24-bit port into an Address.
func NewAddress(nodeID uint64, port uint32) Address {
	return Address((nodeID << portBits) | uint64(port)&portMask)
}

// NodeID returns the 40-bit node identity component.
func (a Address) NodeID() uint64 { return uint64(a) >> portBits }

// Port returns the 24-bit port component.
func (a Address) Port() uint32 { return uint32(uint64(a) & portMask) }

// Unbound reports whether the port component is zero ("unbound").
func (a Address) Unbound() bool { return a.Port() == 0 }

// Ephemeral reports whether the port falls in the high, randomly seeded range.
func (a Address) Ephemeral() bool {
	p := a.Port()
	return p >= PortEphemeralLo && p <= PortEphemeralHi
}

func (a Address) String() string {
	return fmt.Sprintf("%010x:%d", a.NodeID(), a.Port())
}

// Opcode identifies a frame's body layout (spec §4.3).
type Opcode uint8

const (
	OpData     Opcode = 0x00
	OpDataMF   Opcode = 0x01
	OpConnReq  Opcode = 0x10
	OpConnAck  Opcode = 0x12
	OpDiscReq  Opcode = 0x20
	OpPingReq  Opcode = 0x30
	OpPingAck  Opcode = 0x32
	OpError    Opcode = 0x40
)

func (op Opcode) String() string {
	switch op {
	case OpData:
		return "DATA"
	case OpDataMF:
		return "DATA_MF"
	case OpConnReq:
		return "CONN_REQ"
	case OpConnAck:
		return "CONN_ACK"
	case OpDiscReq:
		return "DISC_REQ"
	case OpPingReq:
		return "PING_REQ"
	case OpPingAck:
		return "PING_ACK"
	case OpError:
		return "ERROR"
	default:
		return fmt.Sprintf("OP(0x%02x)", uint8(op))
	}
}

// ErrorCode is the single-byte code carried by an ERROR frame (spec §6).
type ErrorCode uint8

const (
	ErrCodeRefused ErrorCode = 1
	ErrCodeNotConn ErrorCode = 2
	ErrCodeWrongSP ErrorCode = 3
	ErrCodeProto   ErrorCode = 4
	ErrCodeMsgSize ErrorCode = 5
	ErrCodeUnknown ErrorCode = 6
)

func (c ErrorCode) String() string {
	switch c {
	case ErrCodeRefused:
		return "REFUSED"
	case ErrCodeNotConn:
		return "NOTCONN"
	case ErrCodeWrongSP:
		return "WRONGSP"
	case ErrCodeProto:
		return "PROTO"
	case ErrCodeMsgSize:
		return "MSGSIZE"
	default:
		return "UNKNOWN"
	}
}

// toError maps a wire ErrorCode to the sentinel error the dialer fails
// a pending connect aio with (spec §4.4.1 / §7).
func (c ErrorCode) toError() error {
	switch c {
	case ErrCodeRefused:
		return ErrConnRefused
	case ErrCodeNotConn:
		return ErrClosed
	case ErrCodeWrongSP:
		return ErrProto
	case ErrCodeProto:
		return ErrProto
	case ErrCodeMsgSize:
		return ErrMsgSize
	default:
		return ErrTranErr
	}
}

const (
	// FrameHeaderSize is the fixed 12-byte header (spec §3).
	FrameHeaderSize = 12
	// Ethertype is the fixed ethertype this protocol runs under (spec §4.3).
	Ethertype = 0x0901
	// WireVersion is the only supported header version byte.
	WireVersion = 0x01
	// DataHeaderSize is the DATA/DATA_MF payload prefix (spec §4.3).
	DataHeaderSize = 8

	// DefaultRecvQ is the recommended per-pipe reassembly slot count.
	DefaultRecvQ = 2
	// DefaultStale is the reassembly slot staleness window (spec §4.2).
	DefaultStale = 1000 // milliseconds

	// DefaultConnInterval is the per-attempt connect-retry deadline.
	DefaultConnInterval = 5000 // milliseconds
	// DefaultConnAttempts is the maximum number of CONN_REQ frames a
	// dialer sends, the first one included, before it times out.
	DefaultConnAttempts = 12
	// DefaultListenExpire is how long a backlog entry lives unaccepted.
	DefaultListenExpire = 60000 // milliseconds
	// DefaultListenQ is the listen backlog ring capacity.
	DefaultListenQ = 128
)
