// SPDX-License-Identifier: GPL-3.0-or-later

package framenet

import (
	"context"
	"log/slog"
	"net"
	"net/netip"
	"sync"
	"time"

	"github.com/bassosimone/safeconn"
)

// ClientConnected is the payload of [*TCPServer] connection events.
type ClientConnected struct {
	// Server is the server name.
	Server string

	// Conn is the accepted connection. The listener owns it and must close it.
	Conn net.Conn
}

// NewTCPServer returns a new [*TCPServer].
//
// The cfg argument contains the common configuration.
//
// The name argument identifies the server in events, logs and metrics;
// when empty, a name is generated.
//
// The addr and port arguments are the bind address. A zero port selects
// an ephemeral port, which [*TCPServer.Addr] reveals after Start.
//
// The logger argument is the [SLogger] to use for structured logging.
func NewTCPServer(cfg *Config, name string, addr netip.Addr, port uint16, logger SLogger) *TCPServer {
	ts := &TCPServer{
		listen:  NewListenFunc(cfg, logger),
		observe: NewObserveConnFunc(cfg, logger),
	}
	ts.server = newServer(cfg, name, netip.AddrPortFrom(addr, port), ts, logger)
	ts.ClientConnected = NewNotifier[*ClientConnected](ts.name+".clientConnected", logger)
	return ts
}

// TCPServer accepts TCP connections and hands them to listeners.
//
// Every accepted connection is delivered to ClientConnected on a new
// goroutine, so a slow listener does not stall accepting. When nobody
// listens, the connection is closed right away.
type TCPServer struct {
	*server

	// ClientConnected fires for each accepted connection.
	ClientConnected *Notifier[*ClientConnected]

	listen  Func[netip.AddrPort, net.Listener]
	observe Func[net.Conn, net.Conn]

	// mu protects listener.
	mu       sync.Mutex
	listener net.Listener
}

var _ serverSocket = &TCPServer{}

func (ts *TCPServer) bindSocket(ctx context.Context, addr netip.AddrPort) (net.Addr, error) {
	listener, err := ts.listen.Call(ctx, addr)
	if err != nil {
		return nil, err
	}
	ts.mu.Lock()
	ts.listener = listener
	ts.mu.Unlock()
	return listener.Addr(), nil
}

func (ts *TCPServer) currentListener() net.Listener {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	return ts.listener
}

func (ts *TCPServer) canPoll() bool {
	_, ok := ts.currentListener().(interface{ SetDeadline(time.Time) error })
	return ok
}

func (ts *TCPServer) serveOnce(ctx context.Context, deadline time.Time) error {
	listener := ts.currentListener()
	if listener == nil {
		return net.ErrClosed
	}
	if !deadline.IsZero() {
		if dl, ok := listener.(interface{ SetDeadline(time.Time) error }); ok {
			if err := dl.SetDeadline(deadline); err != nil {
				return err
			}
		}
	}
	conn, err := listener.Accept()
	if err != nil {
		return err
	}
	ts.metrics.connectionAccepted(ts.name)
	ts.logger.Info(
		"acceptDone",
		slog.String("localAddr", safeconn.LocalAddr(conn)),
		slog.String("protocol", "tcp"),
		slog.String("remoteAddr", safeconn.RemoteAddr(conn)),
		slog.String("server", ts.name),
		slog.Time("t", ts.timeNow()),
	)
	observed, err := ts.observe.Call(ctx, conn)
	if err != nil {
		conn.Close()
		return err
	}
	if ts.ClientConnected.Len() <= 0 {
		observed.Close()
		return nil
	}
	go ts.ClientConnected.Notify(&ClientConnected{Server: ts.name, Conn: observed})
	return nil
}

func (ts *TCPServer) closeSocket() error {
	ts.mu.Lock()
	listener := ts.listener
	ts.listener = nil
	ts.mu.Unlock()
	if listener == nil {
		return nil
	}
	return listener.Close()
}
