// SPDX-License-Identifier: GPL-3.0-or-later

package framenet

import (
	"encoding/binary"

	"github.com/bassosimone/runtimex"
)

// BeginLengthState is the state of a [*BeginLengthFramer].
type BeginLengthState int

const (
	// ReceivingFrameBegin means the framer is looking for the begin marker.
	ReceivingFrameBegin BeginLengthState = iota

	// ReceivingDataLength means the framer is reading the 2-byte length.
	ReceivingDataLength

	// ReceivingData means the framer is reading the payload.
	ReceivingData
)

// String implements [fmt.Stringer].
func (s BeginLengthState) String() string {
	switch s {
	case ReceivingFrameBegin:
		return "ReceivingFrameBegin"
	case ReceivingDataLength:
		return "ReceivingDataLength"
	case ReceivingData:
		return "ReceivingData"
	default:
		return "BeginLengthState(?)"
	}
}

// BeginLengthFramer is a [Framer] for frames shaped as
// [begin][uint16 little-endian length][payload].
//
// A declared length of zero is a valid frame without payload. The completed
// frame includes the marker and the length field.
type BeginLengthFramer struct {
	begin       Matcher
	buffer      frameBuffer
	headerSize  int
	frameLength int
	state       BeginLengthState
	completed   bool
}

var _ Framer = &BeginLengthFramer{}

// NewBeginLengthFramer returns a new [*BeginLengthFramer].
//
// The bufferSize argument bounds the size of a whole frame, marker and
// length field included. The marker must not be empty.
func NewBeginLengthFramer(bufferSize int, begin []byte, opts ...FramerOption) *BeginLengthFramer {
	runtimex.Assert(len(begin) > 0)
	fo := newFramerOptions(opts)
	return &BeginLengthFramer{
		begin:      fo.matcher(begin),
		buffer:     newFrameBuffer(bufferSize),
		headerSize: len(begin) + 2,
	}
}

// State returns the current state.
func (f *BeginLengthFramer) State() BeginLengthState {
	return f.state
}

// Feed implements [Framer].
func (f *BeginLengthFramer) Feed(data []byte) (int, bool, error) {
	if f.completed {
		f.completed = false
		f.buffer.size = 0
	}
	for idx, b := range data {
		switch f.state {
		case ReceivingFrameBegin:
			if !f.begin.Feed(b) {
				continue
			}
			if !f.buffer.start(f.begin.Pattern()) {
				f.Reset()
				return idx + 1, false, ErrFrameTooLarge
			}
			f.state = ReceivingDataLength

		case ReceivingDataLength:
			if !f.buffer.append(b) {
				f.Reset()
				return idx + 1, false, ErrFrameTooLarge
			}
			if f.buffer.size < f.headerSize {
				continue
			}
			length := int(binary.LittleEndian.Uint16(f.buffer.buf[f.headerSize-2:]))
			if length == 0 {
				return f.complete(idx)
			}
			f.frameLength = f.headerSize + length
			if f.frameLength > len(f.buffer.buf) {
				f.Reset()
				return idx + 1, false, ErrFrameTooLarge
			}
			f.state = ReceivingData

		case ReceivingData:
			f.buffer.append(b) // cannot fail: frameLength was checked
			if f.buffer.size == f.frameLength {
				return f.complete(idx)
			}
		}
	}
	return len(data), false, nil
}

func (f *BeginLengthFramer) complete(idx int) (int, bool, error) {
	f.state = ReceivingFrameBegin
	f.completed = true
	return idx + 1, true, nil
}

// Frame implements [Framer].
func (f *BeginLengthFramer) Frame() []byte {
	return f.buffer.buf[:f.buffer.size]
}

// Payload returns the payload of the current frame, excluding marker and
// length field. It returns nil while the header is incomplete.
func (f *BeginLengthFramer) Payload() []byte {
	if f.buffer.size < f.headerSize {
		return nil
	}
	return f.buffer.buf[f.headerSize:f.buffer.size]
}

// Size implements [Framer].
func (f *BeginLengthFramer) Size() int {
	return f.buffer.size
}

// Reset implements [Framer].
func (f *BeginLengthFramer) Reset() {
	f.buffer.size = 0
	f.frameLength = 0
	f.begin.Reset()
	f.state = ReceivingFrameBegin
	f.completed = false
}
