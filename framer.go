// SPDX-License-Identifier: GPL-3.0-or-later

package framenet

import (
	"encoding/binary"
	"io"

	"github.com/bassosimone/runtimex"
)

// Framer reassembles a byte stream into discrete frames.
//
// Feed processes data and stops right after the first frame it completes,
// so a single call completes at most one frame. The consumed return value
// tells the caller where to resume: data[consumed:] must be fed again to
// look for further frames. A frame may be completed across any number of
// calls.
//
// Frame returns the accumulated bytes of the current frame. The slice
// aliases the framer buffer and is only valid until the next call to Feed
// or Reset; copy it to retain it. Size returns len(Frame()).
//
// When a frame would not fit into the framer buffer, Feed resets the framer
// and returns [ErrFrameTooLarge].
type Framer interface {
	Feed(data []byte) (consumed int, complete bool, err error)
	Frame() []byte
	Size() int
	Reset()
}

// FramerOption customizes a framer at construction time.
type FramerOption func(fo *framerOptions)

type framerOptions struct {
	matcher MatcherFactory
}

// WithMatcherFactory selects the [Matcher] used to detect frame markers.
//
// The default is [NewPatternMatcher].
func WithMatcherFactory(factory MatcherFactory) FramerOption {
	return func(fo *framerOptions) {
		fo.matcher = factory
	}
}

func newFramerOptions(opts []FramerOption) *framerOptions {
	fo := &framerOptions{matcher: newDefaultMatcher}
	for _, opt := range opts {
		opt(fo)
	}
	return fo
}

// frameBuffer is the accumulation buffer shared by the framers.
type frameBuffer struct {
	buf  []byte
	size int
}

func newFrameBuffer(capacity int) frameBuffer {
	runtimex.Assert(capacity > 0)
	return frameBuffer{buf: make([]byte, capacity)}
}

func (fb *frameBuffer) append(b byte) bool {
	if fb.size >= len(fb.buf) {
		return false
	}
	fb.buf[fb.size] = b
	fb.size++
	return true
}

func (fb *frameBuffer) start(marker []byte) bool {
	if len(marker) > len(fb.buf) {
		return false
	}
	fb.size = copy(fb.buf, marker)
	return true
}

// EncodeBeginEndFrame writes [begin][payload][end] into dst and returns
// the number of bytes written.
func EncodeBeginEndFrame(dst, begin, payload, end []byte) (int, error) {
	total := len(begin) + len(payload) + len(end)
	if total > len(dst) {
		return 0, io.ErrShortBuffer
	}
	n := copy(dst, begin)
	n += copy(dst[n:], payload)
	n += copy(dst[n:], end)
	return n, nil
}

// EncodeBeginLengthFrame writes [begin][uint16 little-endian len(payload)][payload]
// into dst and returns the number of bytes written.
func EncodeBeginLengthFrame(dst, begin, payload []byte) (int, error) {
	if len(payload) > 0xffff {
		return 0, ErrPayloadTooLarge
	}
	total := len(begin) + 2 + len(payload)
	if total > len(dst) {
		return 0, io.ErrShortBuffer
	}
	n := copy(dst, begin)
	binary.LittleEndian.PutUint16(dst[n:], uint16(len(payload)))
	n += 2
	n += copy(dst[n:], payload)
	return n, nil
}
