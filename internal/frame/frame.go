// Package frame implements the length-prefixed wire envelope shared by the
// control plane and the file plane: 4 bytes big-endian size, followed by
// that many payload bytes.
//
// Grounded on original_source/src/server/message/builder.rs's Message type:
// the accumulate-until-ready state machine is kept, translated from a
// single-struct Rust type into an Accumulator that owns no I/O of its own so
// it can be driven and tested without a socket.
package frame

import (
	"encoding/binary"
	"fmt"
)

const headerSize = 4

// Accumulator accumulates bytes read off a connection into complete frames.
// It enforces maxSize: a declared size above the limit is a protocol error
// before any payload bytes are buffered.
type Accumulator struct {
	maxSize int

	haveHeader bool
	size       uint32
	buf        []byte
}

// NewAccumulator creates an accumulator that rejects declared frame sizes
// greater than maxSize.
func NewAccumulator(maxSize int) *Accumulator {
	return &Accumulator{maxSize: maxSize}
}

// Feed appends newly read bytes. It returns (payload, true, nil) exactly
// once a full frame has accumulated — the accumulator resets itself for the
// next frame in that case. Call Feed again with the bytes left over after a
// ready frame (the caller is responsible for slicing data past what was
// consumed; Feed reports how many bytes it consumed via n).
func (a *Accumulator) Feed(data []byte) (payload []byte, ready bool, consumed int, err error) {
	if !a.haveHeader {
		need := headerSize - len(a.buf)
		take := min(need, len(data))
		a.buf = append(a.buf, data[:take]...)
		consumed += take
		data = data[take:]
		if len(a.buf) < headerSize {
			return nil, false, consumed, nil
		}

		size := binary.BigEndian.Uint32(a.buf)
		if size == 0 {
			a.reset()
			return nil, false, consumed, fmt.Errorf("message size cannot be 0")
		}
		if a.maxSize > 0 && int(size) > a.maxSize {
			a.reset()
			return nil, false, consumed, fmt.Errorf("frame size %d exceeds limit %d", size, a.maxSize)
		}

		a.haveHeader = true
		a.size = size
		a.buf = a.buf[:0]
	}

	need := int(a.size) - len(a.buf)
	take := min(need, len(data))
	a.buf = append(a.buf, data[:take]...)
	consumed += take

	if len(a.buf) < int(a.size) {
		return nil, false, consumed, nil
	}

	out := make([]byte, len(a.buf))
	copy(out, a.buf)
	a.reset()
	return out, true, consumed, nil
}

func (a *Accumulator) reset() {
	a.haveHeader = false
	a.size = 0
	a.buf = a.buf[:0]
}

// Pack wraps payload in the 4-byte big-endian size header.
func Pack(payload []byte) []byte {
	out := make([]byte, headerSize+len(payload))
	binary.BigEndian.PutUint32(out, uint32(len(payload)))
	copy(out[headerSize:], payload)
	return out
}

// PackSize64 wraps payload in an 8-byte big-endian size header, used by the
// file-plane composite frame for the binary body (§6).
func PackSize64Header(size uint64) []byte {
	out := make([]byte, 8)
	binary.BigEndian.PutUint64(out, size)
	return out
}

func min(a, b int) int {
	if a < b {
		return a
	}
	return b
}
