// SPDX-License-Identifier: GPL-3.0-or-later

package framenet

import (
	"io"

	"github.com/miekg/dns"
)

// DNSEncoder encodes DNS messages in their wire format, one per datagram.
//
// Use it with [*DatagramProcessor] and [*UDPMessageServer].
type DNSEncoder struct{}

var _ Encoder[*dns.Msg] = DNSEncoder{}

// Encode implements [Encoder].
func (DNSEncoder) Encode(message *dns.Msg, buf []byte) (int, error) {
	rawMsg, err := message.Pack()
	if err != nil {
		return 0, err
	}
	if len(rawMsg) > len(buf) {
		return 0, io.ErrShortBuffer
	}
	return copy(buf, rawMsg), nil
}

// Decode implements [Encoder].
func (DNSEncoder) Decode(data []byte) (*dns.Msg, error) {
	message := &dns.Msg{}
	if err := message.Unpack(data); err != nil {
		return nil, err
	}
	return message, nil
}
