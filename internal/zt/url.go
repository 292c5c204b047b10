package zt

import (
	"fmt"
	"strconv"
	"strings"
)

// URLMode selects which of the two grammars ParseURL enforces (spec.md
// §6): dial requires an explicit node id and a nonzero port; listen
// allows a wildcard/omitted node and a zero ("ephemeral") port.
type URLMode int

const (
	URLModeDial URLMode = iota
	URLModeListen
)

// ParsedURL is a strictly parsed zt:// dial/listen address:
// zt://<nwid_hex>/<node_hex_or_*>:<port_dec>. Grounded on the teacher's
// reject-rather-than-best-effort-recover posture in internal/core/decoder
// (any deviation from the expected shape is a hard parse error, never a
// partially-filled struct).
type ParsedURL struct {
	NWID uint64
	// NodeID is only meaningful when Wildcard is false.
	NodeID   uint64
	Wildcard bool
	Port     uint32
}

// ParseDialURL parses raw as zt://<nwid_hex>/<node_hex>:<port_dec>. The
// node id is mandatory and port must fall in [1, 0xFFFFFF].
func ParseDialURL(raw string) (ParsedURL, error) {
	return parseURL(raw, URLModeDial)
}

// ParseListenURL parses raw as zt://<nwid_hex>[/<node_hex_or_*>]:<port_dec>.
// The node component may be omitted or "*" (wildcard: accept from any
// peer); port 0 means "allocate an ephemeral port".
func ParseListenURL(raw string) (ParsedURL, error) {
	return parseURL(raw, URLModeListen)
}

// ParseURL parses raw using the dial grammar. Kept as the default entry
// point for callers that only ever dial.
func ParseURL(raw string) (ParsedURL, error) {
	return ParseDialURL(raw)
}

// parseURL implements both grammars from spec.md §6:
//
//	dial:   zt://<nwid_hex>/<node_hex>:<port_dec>
//	listen: zt://<nwid_hex>[/<node_hex_or_*>]:<port_dec>
//
// The listen grammar's node component, when present, always arrives
// after a '/'; when absent, the nwid is immediately followed by
// ':<port_dec>' with no slash at all.
func parseURL(raw string, mode URLMode) (ParsedURL, error) {
	const scheme = "zt://"
	if !strings.HasPrefix(raw, scheme) {
		return ParsedURL{}, fmt.Errorf("%w: missing zt:// scheme", ErrAddrInvalid)
	}
	rest := raw[len(scheme):]

	var nwidStr, nodeStr, portStr string

	if slash := strings.IndexByte(rest, '/'); slash >= 0 {
		nwidStr = rest[:slash]
		tail := rest[slash+1:]
		colon := strings.LastIndexByte(tail, ':')
		if colon < 0 {
			return ParsedURL{}, fmt.Errorf("%w: missing node:port separator", ErrAddrInvalid)
		}
		nodeStr, portStr = tail[:colon], tail[colon+1:]
	} else {
		if mode != URLModeListen {
			return ParsedURL{}, fmt.Errorf("%w: missing /node:port", ErrAddrInvalid)
		}
		colon := strings.LastIndexByte(rest, ':')
		if colon < 0 {
			return ParsedURL{}, fmt.Errorf("%w: missing :port", ErrAddrInvalid)
		}
		nwidStr, portStr = rest[:colon], rest[colon+1:]
		// nodeStr stays empty: listen with no node component is a
		// wildcard, same as an explicit "*".
	}

	if nwidStr == "" {
		return ParsedURL{}, fmt.Errorf("%w: missing network id", ErrAddrInvalid)
	}
	nwid, err := strconv.ParseUint(nwidStr, 16, 64)
	if err != nil {
		return ParsedURL{}, fmt.Errorf("%w: bad network id %q: %v", ErrAddrInvalid, nwidStr, err)
	}

	u := ParsedURL{NWID: nwid}

	switch nodeStr {
	case "", "*":
		if mode == URLModeDial {
			return ParsedURL{}, fmt.Errorf("%w: dial requires an explicit node id", ErrAddrInvalid)
		}
		u.Wildcard = true
	default:
		nodeID, err := strconv.ParseUint(nodeStr, 16, 40)
		if err != nil {
			return ParsedURL{}, fmt.Errorf("%w: bad node id %q: %v", ErrAddrInvalid, nodeStr, err)
		}
		u.NodeID = nodeID
	}

	port, err := strconv.ParseUint(portStr, 10, 24)
	if err != nil {
		return ParsedURL{}, fmt.Errorf("%w: bad port %q", ErrAddrInvalid, portStr)
	}
	if port == 0 && mode == URLModeDial {
		return ParsedURL{}, fmt.Errorf("%w: dial port must be nonzero", ErrAddrInvalid)
	}
	u.Port = uint32(port)

	return u, nil
}

// String renders u back into zt://nwid/node:port form (a wildcard node
// renders as "*").
func (u ParsedURL) String() string {
	node := "*"
	if !u.Wildcard {
		node = fmt.Sprintf("%010x", u.NodeID)
	}
	return fmt.Sprintf("zt://%016x/%s:%d", u.NWID, node, u.Port)
}
