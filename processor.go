// SPDX-License-Identifier: GPL-3.0-or-later

package framenet

import (
	"net"
	"net/netip"

	"github.com/bassosimone/runtimex"
)

// processorBuffers holds the send and receive buffers shared by the
// stream and datagram processors.
//
// A buffer must be at least as large as the largest encoded message
// (for sending) or frame/datagram (for receiving).
type processorBuffers struct {
	send    []byte
	receive []byte
}

func newProcessorBuffers(cfg *Config) processorBuffers {
	runtimex.Assert(cfg.SendBufferSize > 0)
	runtimex.Assert(cfg.ReceiveBufferSize > 0)
	return processorBuffers{
		send:    make([]byte, cfg.SendBufferSize),
		receive: make([]byte, cfg.ReceiveBufferSize),
	}
}

// SetSendBufferSize replaces the send buffer with one of the given size.
//
// Must not be called concurrently with sending.
func (pb *processorBuffers) SetSendBufferSize(size int) {
	runtimex.Assert(size > 0)
	pb.send = make([]byte, size)
}

// SendBufferSize returns the size of the send buffer.
func (pb *processorBuffers) SendBufferSize() int {
	return len(pb.send)
}

// SetReceiveBufferSize replaces the receive buffer with one of the given size.
//
// Must not be called concurrently with receiving.
func (pb *processorBuffers) SetReceiveBufferSize(size int) {
	runtimex.Assert(size > 0)
	pb.receive = make([]byte, size)
}

// ReceiveBufferSize returns the size of the receive buffer.
func (pb *processorBuffers) ReceiveBufferSize() int {
	return len(pb.receive)
}

// addrPortOf converts a [net.Addr] to a [netip.AddrPort], unmapping
// IPv4-mapped IPv6 addresses. It returns the zero value for a nil or
// unparsable address.
func addrPortOf(addr net.Addr) netip.AddrPort {
	var ap netip.AddrPort
	switch v := addr.(type) {
	case nil:
		return ap
	case *net.UDPAddr:
		ap = v.AddrPort()
	case *net.TCPAddr:
		ap = v.AddrPort()
	default:
		parsed, err := netip.ParseAddrPort(addr.String())
		if err != nil {
			return ap
		}
		ap = parsed
	}
	return netip.AddrPortFrom(ap.Addr().Unmap(), ap.Port())
}
