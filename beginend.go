// SPDX-License-Identifier: GPL-3.0-or-later

package framenet

import "github.com/bassosimone/runtimex"

// BeginEndFramer is a [Framer] for frames shaped as [begin][payload][end].
//
// Bytes preceding the begin marker are discarded. The completed frame
// includes both markers.
type BeginEndFramer struct {
	begin     Matcher
	end       Matcher
	buffer    frameBuffer
	receiving bool
	completed bool
}

var _ Framer = &BeginEndFramer{}

// NewBeginEndFramer returns a new [*BeginEndFramer].
//
// The bufferSize argument bounds the size of a whole frame, markers
// included. Both markers must not be empty.
func NewBeginEndFramer(bufferSize int, begin, end []byte, opts ...FramerOption) *BeginEndFramer {
	runtimex.Assert(len(begin) > 0 && len(end) > 0)
	fo := newFramerOptions(opts)
	return &BeginEndFramer{
		begin:  fo.matcher(begin),
		end:    fo.matcher(end),
		buffer: newFrameBuffer(bufferSize),
	}
}

// Feed implements [Framer].
func (f *BeginEndFramer) Feed(data []byte) (int, bool, error) {
	if f.completed {
		f.completed = false
		f.buffer.size = 0
	}
	for idx, b := range data {
		if !f.receiving {
			if f.begin.Feed(b) {
				if !f.buffer.start(f.begin.Pattern()) {
					f.Reset()
					return idx + 1, false, ErrFrameTooLarge
				}
				f.receiving = true
			}
			continue
		}
		if !f.buffer.append(b) {
			f.Reset()
			return idx + 1, false, ErrFrameTooLarge
		}
		if f.end.Feed(b) {
			f.receiving = false
			f.completed = true
			return idx + 1, true, nil
		}
	}
	return len(data), false, nil
}

// Frame implements [Framer].
func (f *BeginEndFramer) Frame() []byte {
	return f.buffer.buf[:f.buffer.size]
}

// Size implements [Framer].
func (f *BeginEndFramer) Size() int {
	return f.buffer.size
}

// Reset implements [Framer].
func (f *BeginEndFramer) Reset() {
	f.buffer.size = 0
	f.begin.Reset()
	f.end.Reset()
	f.receiving = false
	f.completed = false
}
