package zt

import (
	"encoding/binary"
	"fmt"
)

// frameHeader is the fixed 12-byte header preceding every opcode body
// (spec §3): op(1) flags(1) version(2 BE) zero1(1) dst_port(3 BE)
// zero2(1) src_port(3 BE).
type frameHeader struct {
	op      Opcode
	flags   uint8
	version uint16
	dstPort uint32 // low 24 bits significant
	srcPort uint32 // low 24 bits significant
}

// decodeFrameHeader parses and validates the fixed header. Per spec §4.3
// it rejects: length < 12, flags != 0, zero-fields != 0, version != 1.
// Unknown opcodes are accepted here (the caller replies ERROR(PROTO));
// everything else is a hard drop.
func decodeFrameHeader(data []byte) (frameHeader, []byte, error) {
	if len(data) < FrameHeaderSize {
		return frameHeader{}, nil, ErrPacketTooShort
	}

	h := frameHeader{
		op:      Opcode(data[0]),
		flags:   data[1],
		version: binary.BigEndian.Uint16(data[2:4]),
	}

	zero1 := data[4]
	dstPort := uint32(data[5])<<16 | uint32(data[6])<<8 | uint32(data[7])
	zero2 := data[8]
	srcPort := uint32(data[9])<<16 | uint32(data[10])<<8 | uint32(data[11])

	if h.flags != 0 {
		return frameHeader{}, nil, fmt.Errorf("%w: nonzero flags", ErrProto)
	}
	if zero1 != 0 || zero2 != 0 {
		return frameHeader{}, nil, fmt.Errorf("%w: nonzero reserved field", ErrProto)
	}
	if h.version != WireVersion {
		return frameHeader{}, nil, ErrBadVersion
	}

	h.dstPort = dstPort
	h.srcPort = srcPort

	return h, data[FrameHeaderSize:], nil
}

// encodeFrameHeader writes the fixed 12-byte header into dst, which must
// have length >= FrameHeaderSize.
func encodeFrameHeader(dst []byte, op Opcode, dstPort, srcPort uint32) {
	dst[0] = byte(op)
	dst[1] = 0 // flags
	binary.BigEndian.PutUint16(dst[2:4], WireVersion)
	dst[4] = 0 // zero1
	dst[5] = byte(dstPort >> 16)
	dst[6] = byte(dstPort >> 8)
	dst[7] = byte(dstPort)
	dst[8] = 0 // zero2
	dst[9] = byte(srcPort >> 16)
	dst[10] = byte(srcPort >> 8)
	dst[11] = byte(srcPort)
}

// dataBody is the DATA/DATA_MF payload header (spec §4.3).
type dataBody struct {
	msgID   uint16
	fragSz  uint16
	fragNo  uint16
	nfrags  uint16
	payload []byte
}

func decodeDataBody(op Opcode, data []byte) (dataBody, error) {
	if len(data) < DataHeaderSize {
		return dataBody{}, ErrPacketTooShort
	}
	b := dataBody{
		msgID:  binary.BigEndian.Uint16(data[0:2]),
		fragSz: binary.BigEndian.Uint16(data[2:4]),
		fragNo: binary.BigEndian.Uint16(data[4:6]),
		nfrags: binary.BigEndian.Uint16(data[6:8]),
	}
	b.payload = data[DataHeaderSize:]
	if op == OpDataMF && b.fragNo >= b.nfrags-1 {
		return dataBody{}, fmt.Errorf("%w: DATA_MF frag_no must be < nfrags-1", ErrProto)
	}
	return b, nil
}

func encodeDataBody(dst []byte, b dataBody) []byte {
	out := make([]byte, DataHeaderSize+len(b.payload))
	binary.BigEndian.PutUint16(out[0:2], b.msgID)
	binary.BigEndian.PutUint16(out[2:4], b.fragSz)
	binary.BigEndian.PutUint16(out[4:6], b.fragNo)
	binary.BigEndian.PutUint16(out[6:8], b.nfrags)
	copy(out[DataHeaderSize:], b.payload)
	return append(dst, out...)
}

// connBody is the shared CONN_REQ/CONN_ACK payload (spec §4.3).
type connBody struct {
	spProto uint16
}

func decodeConnBody(data []byte) (connBody, error) {
	if len(data) < 2 {
		return connBody{}, fmt.Errorf("%w: short CONN body", ErrProto)
	}
	return connBody{spProto: binary.BigEndian.Uint16(data[0:2])}, nil
}

func encodeConnBody(dst []byte, b connBody) []byte {
	var buf [2]byte
	binary.BigEndian.PutUint16(buf[:], b.spProto)
	return append(dst, buf[:]...)
}

// errorBody is the ERROR payload (spec §4.3 / §6).
type errorBody struct {
	code    ErrorCode
	message string
}

func decodeErrorBody(data []byte) (errorBody, error) {
	if len(data) < 1 {
		return errorBody{}, fmt.Errorf("%w: short ERROR body", ErrProto)
	}
	return errorBody{code: ErrorCode(data[0]), message: string(data[1:])}, nil
}

func encodeErrorBody(dst []byte, b errorBody) []byte {
	out := make([]byte, 1+len(b.message))
	out[0] = byte(b.code)
	copy(out[1:], b.message)
	return append(dst, out...)
}

// encodeFrame is the single entry point producing a complete wire frame:
// header followed by the opcode-appropriate body, already appended by
// the caller via one of the encodeXBody helpers.
func encodeFrame(op Opcode, dstPort, srcPort uint32, body []byte) []byte {
	buf := make([]byte, FrameHeaderSize, FrameHeaderSize+len(body))
	encodeFrameHeader(buf, op, dstPort, srcPort)
	return append(buf, body...)
}
