// SPDX-License-Identifier: GPL-3.0-or-later

package framenet

import "net/netip"

// Encoder converts messages of type T to and from their wire representation.
//
// Encode writes the wire form of message into buf and returns the number
// of bytes written. It fails when buf is too small. Callers wanting an
// offset slice buf before calling.
//
// Decode parses a whole frame or datagram. It must fail on malformed or
// short input rather than returning a partial message.
type Encoder[T any] interface {
	Encode(message T, buf []byte) (int, error)
	Decode(data []byte) (T, error)
}

// ReceivedMessage is a decoded message along with its sender.
type ReceivedMessage[T any] struct {
	// Message is the decoded message.
	Message T

	// RemoteAddr is the address of the sender.
	RemoteAddr netip.AddrPort
}
