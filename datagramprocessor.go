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

// NewDatagramProcessor returns a new unbound [*DatagramProcessor].
//
// The socket is bound lazily by the first SendTo (ephemeral port) or
// ReceiveFrom (the given local endpoint).
//
// The cfg argument contains the common configuration.
//
// The encoder argument converts messages to and from datagrams and must not be nil.
//
// The logger argument is the [SLogger] to use for structured logging.
func NewDatagramProcessor[T any](cfg *Config, encoder Encoder[T], logger SLogger) *DatagramProcessor[T] {
	runtimex.Assert(encoder != nil)
	return &DatagramProcessor[T]{
		processorBuffers: newProcessorBuffers(cfg),
		encoder:          encoder,
		errClassifier:    cfg.ErrClassifier,
		listen:           NewListenPacketFunc(cfg, logger),
		logger:           logger,
		timeNow:          cfg.TimeNow,
	}
}

// NewDatagramProcessorWithConn is like [NewDatagramProcessor] but uses an
// already bound socket. The processor takes ownership of conn.
func NewDatagramProcessorWithConn[T any](cfg *Config, conn net.PacketConn,
	encoder Encoder[T], logger SLogger) *DatagramProcessor[T] {
	runtimex.Assert(conn != nil)
	dp := NewDatagramProcessor(cfg, encoder, logger)
	dp.conn = conn
	return dp
}

// DatagramProcessor sends and receives messages of type T, one per datagram.
//
// One SendTo and one ReceiveFrom may be in flight at the same time.
// Close may be called at any time and unblocks pending operations.
type DatagramProcessor[T any] struct {
	processorBuffers

	encoder       Encoder[T]
	errClassifier ErrClassifier
	listen        Func[netip.AddrPort, net.PacketConn]
	logger        SLogger
	timeNow       func() time.Time

	// mu protects conn and closed.
	mu     sync.Mutex
	conn   net.PacketConn
	closed bool
}

// Conn returns the underlying socket or nil when not bound yet.
func (dp *DatagramProcessor[T]) Conn() net.PacketConn {
	dp.mu.Lock()
	defer dp.mu.Unlock()
	return dp.conn
}

// LocalAddr returns the bound endpoint or the zero value when not bound yet.
func (dp *DatagramProcessor[T]) LocalAddr() netip.AddrPort {
	if conn := dp.Conn(); conn != nil {
		return addrPortOf(conn.LocalAddr())
	}
	return netip.AddrPort{}
}

// Close closes the socket, if any, and prevents further use.
func (dp *DatagramProcessor[T]) Close() error {
	dp.mu.Lock()
	conn := dp.conn
	dp.conn, dp.closed = nil, true
	dp.mu.Unlock()
	if conn == nil {
		return nil
	}
	return conn.Close()
}

// bind returns the current socket, binding one to local if needed.
//
// The mutex is held while binding so that a concurrent SendTo and
// ReceiveFrom never create two sockets.
func (dp *DatagramProcessor[T]) bind(ctx context.Context, local netip.AddrPort) (net.PacketConn, error) {
	dp.mu.Lock()
	defer dp.mu.Unlock()
	if dp.closed {
		return nil, ErrClosed
	}
	if dp.conn != nil {
		return dp.conn, nil
	}
	conn, err := dp.listen.Call(ctx, local)
	if err != nil {
		return nil, err
	}
	dp.conn = conn
	return conn, nil
}

// SendTo encodes message and sends it as a single datagram to remote.
//
// The first call on an unbound processor binds an ephemeral port.
func (dp *DatagramProcessor[T]) SendTo(ctx context.Context, message T, remote netip.AddrPort) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	local := netip.AddrPortFrom(netip.IPv4Unspecified(), 0)
	if remote.Addr().Is6() && !remote.Addr().Is4In6() {
		local = netip.AddrPortFrom(netip.IPv6Unspecified(), 0)
	}
	conn, err := dp.bind(ctx, local)
	if err != nil {
		return err
	}
	size, err := dp.encoder.Encode(message, dp.send)
	if err != nil {
		return newEncodeError(err)
	}

	t0 := dp.timeNow()
	finish := interruptOnCancel(ctx, conn.SetWriteDeadline)
	_, err = conn.WriteTo(dp.send[:size], net.UDPAddrFromAddrPort(remote))
	err = finish(err)
	dp.logger.Info(
		"sendMessageDone",
		slog.Any("err", err),
		slog.String("errClass", dp.errClassifier.Classify(err)),
		slog.Int("frameSize", size),
		slog.String("localAddr", conn.LocalAddr().String()),
		slog.String("protocol", "udp"),
		slog.String("remoteAddr", remote.String()),
		slog.Time("t0", t0),
		slog.Time("t", dp.timeNow()),
	)
	return err
}

// ReceiveFrom waits for a datagram and decodes it.
//
// The first call on an unbound processor binds to local; once bound, the
// local argument is ignored. Decoding failures wrap [ErrDecode].
func (dp *DatagramProcessor[T]) ReceiveFrom(ctx context.Context, local netip.AddrPort) (*ReceivedMessage[T], error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	conn, err := dp.bind(ctx, local)
	if err != nil {
		return nil, err
	}

	t0 := dp.timeNow()
	finish := interruptOnCancel(ctx, conn.SetReadDeadline)
	count, addr, err := conn.ReadFrom(dp.receive)
	err = finish(err)
	remote := addrPortOf(addr)
	if err == nil {
		var message T
		message, err = dp.encoder.Decode(dp.receive[:count])
		if err == nil {
			dp.logReceiveDone(conn, remote, t0, count, nil)
			return &ReceivedMessage[T]{Message: message, RemoteAddr: remote}, nil
		}
		err = newDecodeError(err)
	}
	dp.logReceiveDone(conn, remote, t0, count, err)
	return nil, err
}

func (dp *DatagramProcessor[T]) logReceiveDone(conn net.PacketConn, remote netip.AddrPort, t0 time.Time, size int, err error) {
	dp.logger.Info(
		"receiveMessageDone",
		slog.Any("err", err),
		slog.String("errClass", dp.errClassifier.Classify(err)),
		slog.Int("frameSize", size),
		slog.String("localAddr", conn.LocalAddr().String()),
		slog.String("protocol", "udp"),
		slog.String("remoteAddr", remote.String()),
		slog.Time("t0", t0),
		slog.Time("t", dp.timeNow()),
	)
}
