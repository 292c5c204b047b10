// Package zt implements the reliable connection-oriented pipe transport
// layered on top of a connectionless virtual-L2 overlay network.
package zt

import "errors"

// Sentinel errors surfaced to pipe/endpoint users. Wire-level causes are
// mapped onto these at the dialer/listener boundary (see endpoint.go).
var (
	ErrAddrInUse     = errors.New("ztpipe: address in use")
	ErrAddrInvalid   = errors.New("ztpipe: address invalid")
	ErrConnRefused   = errors.New("ztpipe: connection refused")
	ErrClosed        = errors.New("ztpipe: closed")
	ErrProto         = errors.New("ztpipe: protocol error")
	ErrTranErr       = errors.New("ztpipe: transport error")
	ErrTimedOut      = errors.New("ztpipe: timed out")
	ErrCanceled      = errors.New("ztpipe: canceled")
	ErrMsgSize       = errors.New("ztpipe: message too large")
	ErrInternal      = errors.New("ztpipe: internal error")
	ErrNotConn       = errors.New("ztpipe: not connected")
	ErrWrongSP       = errors.New("ztpipe: wrong SP protocol")
	ErrPacketTooShort = errors.New("ztpipe: frame too short")
	ErrBadVersion    = errors.New("ztpipe: bad frame version")
	ErrBadOpcode     = errors.New("ztpipe: unknown opcode")
)
