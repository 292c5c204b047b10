package zt

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeDecodeFrameHeaderRoundTrip(t *testing.T) {
	var hdr [FrameHeaderSize]byte
	encodeFrameHeader(hdr[:], OpData, 0x010203, 0x040506)

	got, rest, err := decodeFrameHeader(hdr[:])
	require.NoError(t, err)
	assert.Equal(t, OpData, got.op)
	assert.Equal(t, uint32(0x010203), got.dstPort)
	assert.Equal(t, uint32(0x040506), got.srcPort)
	assert.Empty(t, rest)
}

func TestDecodeFrameHeaderRejectsShort(t *testing.T) {
	_, _, err := decodeFrameHeader(make([]byte, FrameHeaderSize-1))
	assert.ErrorIs(t, err, ErrPacketTooShort)
}

func TestDecodeFrameHeaderRejectsNonzeroFlags(t *testing.T) {
	var hdr [FrameHeaderSize]byte
	encodeFrameHeader(hdr[:], OpData, 1, 1)
	hdr[1] = 0x01
	_, _, err := decodeFrameHeader(hdr[:])
	assert.ErrorIs(t, err, ErrProto)
}

func TestDecodeFrameHeaderRejectsNonzeroReserved(t *testing.T) {
	var hdr [FrameHeaderSize]byte
	encodeFrameHeader(hdr[:], OpData, 1, 1)
	hdr[4] = 0x01
	_, _, err := decodeFrameHeader(hdr[:])
	assert.ErrorIs(t, err, ErrProto)

	hdr[4] = 0
	hdr[8] = 0x01
	_, _, err = decodeFrameHeader(hdr[:])
	assert.ErrorIs(t, err, ErrProto)
}

func TestDecodeFrameHeaderRejectsBadVersion(t *testing.T) {
	var hdr [FrameHeaderSize]byte
	encodeFrameHeader(hdr[:], OpData, 1, 1)
	hdr[2] = 0x00
	hdr[3] = 0x02
	_, _, err := decodeFrameHeader(hdr[:])
	assert.ErrorIs(t, err, ErrBadVersion)
}

func TestDataBodyRoundTrip(t *testing.T) {
	body := dataBody{msgID: 7, fragSz: 4, fragNo: 0, nfrags: 1, payload: []byte("ping")}
	encoded := encodeDataBody(nil, body)

	got, err := decodeDataBody(OpData, encoded)
	require.NoError(t, err)
	assert.Equal(t, body.msgID, got.msgID)
	assert.Equal(t, body.payload, got.payload)
}

func TestDataMFRejectsFragNoAtOrAfterLast(t *testing.T) {
	body := dataBody{msgID: 1, fragSz: 4, fragNo: 2, nfrags: 3, payload: []byte("abcd")}
	encoded := encodeDataBody(nil, body)
	_, err := decodeDataBody(OpDataMF, encoded)
	assert.ErrorIs(t, err, ErrProto)
}

func TestErrorBodyRoundTrip(t *testing.T) {
	encoded := encodeErrorBody(nil, errorBody{code: ErrCodeMsgSize, message: "too big"})
	got, err := decodeErrorBody(encoded)
	require.NoError(t, err)
	assert.Equal(t, ErrCodeMsgSize, got.code)
	assert.Equal(t, "too big", got.message)
}

func TestEncodeFrameCombinesHeaderAndBody(t *testing.T) {
	body := encodeConnBody(nil, connBody{spProto: 16})
	frame := encodeFrame(OpConnReq, 5, 9, body)
	assert.Len(t, frame, FrameHeaderSize+2)

	hdr, rest, err := decodeFrameHeader(frame)
	require.NoError(t, err)
	assert.Equal(t, OpConnReq, hdr.op)
	cb, err := decodeConnBody(rest)
	require.NoError(t, err)
	assert.Equal(t, uint16(16), cb.spProto)
}
