// Copyright (C) 2020-2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package wire implements the small binary codec every non-trivial
// WASM host ABI payload uses (spec §4.8a): an HTTP request, an LLM
// chat-completion request, a task list, a route table. Each value is
// a fixed-width little-endian uint32 length prefix followed by the
// raw bytes, so a message with N fields is just N frames
// concatenated — deterministic, reflection-free, and requiring no
// schema beyond field order.
package wire

import (
	"encoding/binary"
	"errors"
)

// ErrTruncated is returned when a buffer ends before a length prefix
// or the bytes it promises are fully present.
var ErrTruncated = errors.New("wire: truncated frame")

// ErrTooManyFields is returned by DecodeFields when maxFields is
// exceeded, bounding the cost of decoding an adversarial payload.
var ErrTooManyFields = errors.New("wire: too many fields")

const lengthPrefixSize = 4

// AppendFrame appends data to dst as a length-prefixed frame.
func AppendFrame(dst []byte, data []byte) []byte {
	var lenBuf [lengthPrefixSize]byte
	binary.LittleEndian.PutUint32(lenBuf[:], uint32(len(data)))
	dst = append(dst, lenBuf[:]...)
	dst = append(dst, data...)
	return dst
}

// ReadFrame reads one length-prefixed frame from the front of buf and
// returns the frame's payload plus the remainder of buf.
func ReadFrame(buf []byte) (payload, rest []byte, err error) {
	if len(buf) < lengthPrefixSize {
		return nil, nil, ErrTruncated
	}
	n := binary.LittleEndian.Uint32(buf[:lengthPrefixSize])
	buf = buf[lengthPrefixSize:]
	if uint64(len(buf)) < uint64(n) {
		return nil, nil, ErrTruncated
	}
	return buf[:n], buf[n:], nil
}

// EncodeFields concatenates fields into a single buffer of
// length-prefixed frames, in order.
func EncodeFields(fields ...[]byte) []byte {
	var out []byte
	for _, f := range fields {
		out = AppendFrame(out, f)
	}
	return out
}

// DecodeFields splits buf into its length-prefixed frames. maxFields
// bounds how many frames will be read before ErrTooManyFields is
// returned, protecting against a maliciously long frame chain.
func DecodeFields(buf []byte, maxFields int) ([][]byte, error) {
	var fields [][]byte
	for len(buf) > 0 {
		if len(fields) >= maxFields {
			return nil, ErrTooManyFields
		}
		payload, rest, err := ReadFrame(buf)
		if err != nil {
			return nil, err
		}
		fields = append(fields, payload)
		buf = rest
	}
	return fields, nil
}

// PutUint64 and GetUint64 encode/decode a fixed-width little-endian
// uint64, used for the scalar fields (epoch, block height, uid,
// weight) that accompany a frame chain rather than being framed
// themselves.
func PutUint64(v uint64) []byte {
	buf := make([]byte, 8)
	binary.LittleEndian.PutUint64(buf, v)
	return buf
}

func GetUint64(buf []byte) (uint64, error) {
	if len(buf) < 8 {
		return 0, ErrTruncated
	}
	return binary.LittleEndian.Uint64(buf), nil
}
