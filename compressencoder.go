// SPDX-License-Identifier: GPL-3.0-or-later

package framenet

import (
	"io"

	"github.com/bassosimone/runtimex"
	"github.com/klauspost/compress/zstd"
)

// DefaultMaxUncompressedSize is the default [CompressEncoder.MaxUncompressedSize].
const DefaultMaxUncompressedSize = 64 << 10

// NewCompressEncoder returns a [*CompressEncoder] wrapping inner.
//
// This function panics if zstd cannot be initialized, which should
// only happen when the options are invalid.
func NewCompressEncoder[T any](inner Encoder[T]) *CompressEncoder[T] {
	runtimex.Assert(inner != nil)
	return &CompressEncoder[T]{
		Inner:               inner,
		MaxUncompressedSize: DefaultMaxUncompressedSize,
		decoder: runtimex.PanicOnError1(zstd.NewReader(nil,
			zstd.WithDecoderConcurrency(0), zstd.WithDecoderMaxMemory(DefaultMaxUncompressedSize))),
		encoder: runtimex.PanicOnError1(zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))),
	}
}

// CompressEncoder compresses with zstd the wire form produced by another
// [Encoder].
//
// The compressed output is not self-delimiting, hence CompressEncoder
// suits datagram transports, where each datagram carries one message.
//
// A CompressEncoder is safe for concurrent use.
type CompressEncoder[T any] struct {
	// Inner is the wrapped encoder.
	Inner Encoder[T]

	// MaxUncompressedSize bounds the inner wire form on encoding. Decoding
	// is always bounded by [DefaultMaxUncompressedSize].
	MaxUncompressedSize int

	decoder *zstd.Decoder
	encoder *zstd.Encoder
}

var _ Encoder[string] = &CompressEncoder[string]{}

// Encode implements [Encoder].
func (e *CompressEncoder[T]) Encode(message T, buf []byte) (int, error) {
	scratch := make([]byte, e.MaxUncompressedSize)
	size, err := e.Inner.Encode(message, scratch)
	if err != nil {
		return 0, err
	}
	out := e.encoder.EncodeAll(scratch[:size], buf[:0:len(buf)])
	if len(out) > len(buf) {
		return 0, io.ErrShortBuffer
	}
	return len(out), nil
}

// Decode implements [Encoder].
func (e *CompressEncoder[T]) Decode(data []byte) (T, error) {
	plain, err := e.decoder.DecodeAll(data, nil)
	if err != nil {
		var zero T
		return zero, err
	}
	return e.Inner.Decode(plain)
}
