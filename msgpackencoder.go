// SPDX-License-Identifier: GPL-3.0-or-later

package framenet

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/bassosimone/runtimex"
	"github.com/vmihailenco/msgpack/v4"
)

// errBadLengthFrame is returned by [*MsgpackEncoder.Decode] for frames
// whose header does not match the payload.
var errBadLengthFrame = errors.New("framenet: malformed begin/length frame")

// NewMsgpackEncoder returns a new [*MsgpackEncoder] using the given
// begin marker, which must not be empty.
func NewMsgpackEncoder[T any](begin []byte) *MsgpackEncoder[T] {
	runtimex.Assert(len(begin) > 0)
	return &MsgpackEncoder[T]{Begin: begin}
}

// MsgpackEncoder encodes values of type T with MessagePack inside a
// [begin][uint16 little-endian length][payload] frame.
//
// Pair it with the framer returned by [*MsgpackEncoder.NewFramer] for streams.
type MsgpackEncoder[T any] struct {
	// Begin is the begin marker.
	Begin []byte
}

var _ Encoder[int] = &MsgpackEncoder[int]{}

// NewFramer returns a [*BeginLengthFramer] matching this encoder marker.
func (e *MsgpackEncoder[T]) NewFramer(bufferSize int, opts ...FramerOption) *BeginLengthFramer {
	return NewBeginLengthFramer(bufferSize, e.Begin, opts...)
}

// Encode implements [Encoder].
func (e *MsgpackEncoder[T]) Encode(message T, buf []byte) (int, error) {
	var payload bytes.Buffer
	enc := msgpack.NewEncoder(&payload).UseCompactEncoding(true).SortMapKeys(true)
	if err := enc.Encode(message); err != nil {
		return 0, err
	}
	return EncodeBeginLengthFrame(buf, e.Begin, payload.Bytes())
}

// Decode implements [Encoder].
func (e *MsgpackEncoder[T]) Decode(data []byte) (T, error) {
	var value T
	header := len(e.Begin) + 2
	if len(data) < header || !bytes.HasPrefix(data, e.Begin) {
		return value, errBadLengthFrame
	}
	length := int(binary.LittleEndian.Uint16(data[len(e.Begin):]))
	if length != len(data)-header {
		return value, fmt.Errorf("%w: declared %d bytes, got %d", errBadLengthFrame, length, len(data)-header)
	}
	if err := msgpack.Unmarshal(data[header:], &value); err != nil {
		return value, err
	}
	return value, nil
}
