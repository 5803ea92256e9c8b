// SPDX-License-Identifier: GPL-3.0-or-later

package framenet

import (
	"bytes"
	"errors"
)

const (
	// STX is the start-of-text control character.
	STX = 0x02

	// ETX is the end-of-text control character.
	ETX = 0x03
)

// errMissingMarkers is returned by [*TextEncoder.Decode] for frames
// lacking the begin or end marker.
var errMissingMarkers = errors.New("framenet: frame lacks begin or end marker")

// NewTextEncoder returns a [*TextEncoder] delimiting text with [STX] and [ETX].
func NewTextEncoder() *TextEncoder {
	return &TextEncoder{Begin: []byte{STX}, End: []byte{ETX}}
}

// TextEncoder encodes strings as [Begin][text][End] frames.
//
// Pair it with the framer returned by [*TextEncoder.NewFramer] for streams.
// The text must not contain the End marker.
type TextEncoder struct {
	// Begin is the begin marker.
	Begin []byte

	// End is the end marker.
	End []byte
}

var _ Encoder[string] = &TextEncoder{}

// NewFramer returns a [*BeginEndFramer] matching this encoder markers.
func (e *TextEncoder) NewFramer(bufferSize int, opts ...FramerOption) *BeginEndFramer {
	return NewBeginEndFramer(bufferSize, e.Begin, e.End, opts...)
}

// Encode implements [Encoder].
func (e *TextEncoder) Encode(message string, buf []byte) (int, error) {
	return EncodeBeginEndFrame(buf, e.Begin, []byte(message), e.End)
}

// Decode implements [Encoder].
func (e *TextEncoder) Decode(data []byte) (string, error) {
	if len(data) < len(e.Begin)+len(e.End) || !bytes.HasPrefix(data, e.Begin) || !bytes.HasSuffix(data, e.End) {
		return "", errMissingMarkers
	}
	return string(data[len(e.Begin) : len(data)-len(e.End)]), nil
}
