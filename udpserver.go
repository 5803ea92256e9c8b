// SPDX-License-Identifier: GPL-3.0-or-later

package framenet

import (
	"context"
	"log/slog"
	"net"
	"net/netip"
	"sync"
	"time"

	"github.com/bassosimone/runtimex"
)

// Datagram is the payload of [*UDPServer] datagram events.
type Datagram struct {
	// Data contains the datagram bytes. Each datagram has its own buffer,
	// hence listeners may retain it.
	Data []byte

	// RemoteAddr is the address of the sender.
	RemoteAddr netip.AddrPort
}

// NewUDPServer returns a new [*UDPServer].
//
// The cfg argument contains the common configuration.
//
// The name argument identifies the server in events, logs and metrics;
// when empty, a name is generated.
//
// The addr and port arguments are the bind address. A zero port selects
// an ephemeral port, which [*UDPServer.Addr] reveals after Start.
//
// The maxDatagramSize argument is the size of the buffer allocated for
// each datagram; longer datagrams are truncated.
//
// The logger argument is the [SLogger] to use for structured logging.
func NewUDPServer(cfg *Config, name string, addr netip.Addr, port uint16, maxDatagramSize int, logger SLogger) *UDPServer {
	runtimex.Assert(maxDatagramSize > 0)
	us := &UDPServer{
		listen:                  NewListenPacketFunc(cfg, logger),
		maxDatagramSize:         maxDatagramSize,
		socketReceiveBufferSize: cfg.SocketReceiveBufferSize,
	}
	us.server = newServer(cfg, name, netip.AddrPortFrom(addr, port), us, logger)
	us.DatagramReceived = NewNotifier[*Datagram](us.name+".datagramReceived", logger)
	return us
}

// UDPServer receives datagrams and hands them to listeners.
//
// DatagramReceived listeners run synchronously on the loop goroutine,
// hence they should return quickly.
type UDPServer struct {
	*server

	// DatagramReceived fires for each received datagram.
	DatagramReceived *Notifier[*Datagram]

	listen                  Func[netip.AddrPort, net.PacketConn]
	maxDatagramSize         int
	socketReceiveBufferSize int

	// mu protects conn.
	mu   sync.Mutex
	conn net.PacketConn
}

var _ serverSocket = &UDPServer{}

func (us *UDPServer) bindSocket(ctx context.Context, addr netip.AddrPort) (net.Addr, error) {
	conn, err := us.listen.Call(ctx, addr)
	if err != nil {
		return nil, err
	}
	if us.socketReceiveBufferSize > 0 {
		if rb, ok := conn.(interface{ SetReadBuffer(int) error }); ok {
			if err := rb.SetReadBuffer(us.socketReceiveBufferSize); err != nil {
				conn.Close()
				return nil, err
			}
		}
	}
	us.mu.Lock()
	us.conn = conn
	us.mu.Unlock()
	return conn.LocalAddr(), nil
}

func (us *UDPServer) currentConn() net.PacketConn {
	us.mu.Lock()
	defer us.mu.Unlock()
	return us.conn
}

func (us *UDPServer) canPoll() bool {
	return true
}

func (us *UDPServer) serveOnce(ctx context.Context, deadline time.Time) error {
	conn := us.currentConn()
	if conn == nil {
		return net.ErrClosed
	}
	if !deadline.IsZero() {
		if err := conn.SetReadDeadline(deadline); err != nil {
			return err
		}
	}
	buffer := make([]byte, us.maxDatagramSize)
	count, addr, err := conn.ReadFrom(buffer)
	if err != nil {
		return err
	}
	datagram := &Datagram{Data: buffer[:count], RemoteAddr: addrPortOf(addr)}
	us.metrics.datagramReceived(us.name)
	us.logger.Debug(
		"datagramReceived",
		slog.Int("ioBytesCount", count),
		slog.String("localAddr", conn.LocalAddr().String()),
		slog.String("protocol", "udp"),
		slog.String("remoteAddr", datagram.RemoteAddr.String()),
		slog.String("server", us.name),
		slog.Time("t", us.timeNow()),
	)
	us.DatagramReceived.Notify(datagram)
	return nil
}

func (us *UDPServer) closeSocket() error {
	us.mu.Lock()
	conn := us.conn
	us.conn = nil
	us.mu.Unlock()
	if conn == nil {
		return nil
	}
	return conn.Close()
}
