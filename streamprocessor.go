// SPDX-License-Identifier: GPL-3.0-or-later

package framenet

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net"
	"net/netip"
	"sync"
	"time"

	"github.com/bassosimone/runtimex"
	"github.com/bassosimone/safeconn"
)

// NewStreamProcessor returns a new unconnected [*StreamProcessor].
//
// The cfg argument contains the common configuration.
//
// The encoder argument converts messages to and from frames and must not be nil.
//
// The framer argument reassembles frames on receive. It may be nil for a
// send-only processor, in which case [*StreamProcessor.Receive] fails
// with [ErrFramerRequired].
//
// The logger argument is the [SLogger] to use for structured logging.
func NewStreamProcessor[T any](cfg *Config, encoder Encoder[T], framer Framer, logger SLogger) *StreamProcessor[T] {
	runtimex.Assert(encoder != nil)
	return &StreamProcessor[T]{
		processorBuffers: newProcessorBuffers(cfg),
		connect: Compose2[netip.AddrPort, net.Conn, net.Conn](
			NewConnectFunc(cfg, "tcp", logger), NewObserveConnFunc(cfg, logger)),
		encoder:          encoder,
		errClassifier:    cfg.ErrClassifier,
		framer:           framer,
		logger:           logger,
		timeNow:          cfg.TimeNow,
	}
}

// NewStreamProcessorWithConn is like [NewStreamProcessor] but wraps an
// existing connection, typically one accepted by a [*TCPServer].
//
// The processor takes ownership of conn.
func NewStreamProcessorWithConn[T any](cfg *Config, conn net.Conn,
	encoder Encoder[T], framer Framer, logger SLogger) *StreamProcessor[T] {
	runtimex.Assert(conn != nil)
	sp := NewStreamProcessor(cfg, encoder, framer, logger)
	sp.conn = conn
	return sp
}

// StreamProcessor sends and receives framed messages of type T over a
// stream connection.
//
// One Send and one Receive may be in flight at the same time. Concurrent
// sends (or concurrent receives) are not supported. Close may be called
// at any time, e.g., from a [*TimeoutFunc] abort callback, and unblocks
// pending operations.
//
// Bytes received past the end of a frame are retained and consumed by
// the next Receive.
type StreamProcessor[T any] struct {
	processorBuffers

	connect       Func[netip.AddrPort, net.Conn]
	encoder       Encoder[T]
	errClassifier ErrClassifier
	framer        Framer
	logger        SLogger
	timeNow       func() time.Time

	// pending holds unconsumed received bytes; owned by Receive.
	pending []byte

	// mu protects conn and closed.
	mu     sync.Mutex
	conn   net.Conn
	closed bool
}

// Connect dials the given TCP endpoint.
//
// It fails with [ErrAlreadyConnected] when the processor already owns a
// connection and with [ErrClosed] after Close.
func (sp *StreamProcessor[T]) Connect(ctx context.Context, endpoint netip.AddrPort) error {
	sp.mu.Lock()
	switch {
	case sp.closed:
		sp.mu.Unlock()
		return ErrClosed
	case sp.conn != nil:
		sp.mu.Unlock()
		return ErrAlreadyConnected
	}
	sp.mu.Unlock()

	conn, err := sp.connect.Call(ctx, endpoint)
	if err != nil {
		return err
	}

	sp.mu.Lock()
	defer sp.mu.Unlock()
	if sp.closed || sp.conn != nil {
		conn.Close()
		if sp.closed {
			return ErrClosed
		}
		return ErrAlreadyConnected
	}
	sp.conn = conn
	sp.resetReceiveState()
	return nil
}

// Disconnect half-closes the connection when supported and then closes
// it. A processor may Connect again after Disconnect.
func (sp *StreamProcessor[T]) Disconnect() error {
	sp.mu.Lock()
	conn := sp.conn
	sp.conn = nil
	sp.mu.Unlock()
	if conn == nil {
		return ErrNotConnected
	}
	if cw, ok := conn.(interface{ CloseWrite() error }); ok {
		cw.CloseWrite()
	}
	return conn.Close()
}

// Close closes the connection, if any, and prevents further use.
//
// Subsequent calls return nil.
func (sp *StreamProcessor[T]) Close() error {
	sp.mu.Lock()
	conn := sp.conn
	sp.conn, sp.closed = nil, true
	sp.mu.Unlock()
	if conn == nil {
		return nil
	}
	return conn.Close()
}

// Conn returns the underlying connection or nil when not connected.
func (sp *StreamProcessor[T]) Conn() net.Conn {
	sp.mu.Lock()
	defer sp.mu.Unlock()
	return sp.conn
}

// LocalAddr returns the local endpoint or the zero value when not connected.
func (sp *StreamProcessor[T]) LocalAddr() netip.AddrPort {
	if conn := sp.Conn(); conn != nil {
		return addrPortOf(conn.LocalAddr())
	}
	return netip.AddrPort{}
}

// RemoteAddr returns the remote endpoint or the zero value when not connected.
func (sp *StreamProcessor[T]) RemoteAddr() netip.AddrPort {
	if conn := sp.Conn(); conn != nil {
		return addrPortOf(conn.RemoteAddr())
	}
	return netip.AddrPort{}
}

func (sp *StreamProcessor[T]) currentConn() (net.Conn, error) {
	sp.mu.Lock()
	defer sp.mu.Unlock()
	switch {
	case sp.closed:
		return nil, ErrClosed
	case sp.conn == nil:
		return nil, ErrNotConnected
	default:
		return sp.conn, nil
	}
}

// Send encodes message into the send buffer and writes it fully.
//
// When ctx is done before the write completes, Send returns the
// context error.
func (sp *StreamProcessor[T]) Send(ctx context.Context, message T) error {
	conn, err := sp.currentConn()
	if err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	size, err := sp.encoder.Encode(message, sp.send)
	if err != nil {
		return newEncodeError(err)
	}

	t0 := sp.timeNow()
	sp.logStart("sendMessageStart", conn, t0)
	finish := interruptOnCancel(ctx, conn.SetWriteDeadline)
	_, err = conn.Write(sp.send[:size])
	err = finish(err)
	sp.logDone("sendMessageDone", conn, t0, size, err)
	return err
}

// Receive reads until the framer completes a frame and decodes it.
//
// It returns [ErrFramerRequired] when the processor has no framer,
// [io.EOF] when the peer closes the connection between frames and
// [io.ErrUnexpectedEOF] when it does so within a frame. Decoding
// failures wrap [ErrDecode]. When ctx is done first, Receive returns
// the context error and the partial frame is kept for the next call.
func (sp *StreamProcessor[T]) Receive(ctx context.Context) (T, error) {
	var zero T
	if sp.framer == nil {
		return zero, ErrFramerRequired
	}
	conn, err := sp.currentConn()
	if err != nil {
		return zero, err
	}
	if err := ctx.Err(); err != nil {
		return zero, err
	}

	t0 := sp.timeNow()
	sp.logStart("receiveMessageStart", conn, t0)
	finish := interruptOnCancel(ctx, conn.SetReadDeadline)
	frame, err := sp.readFrame(conn)
	err = finish(err)
	if err != nil {
		sp.logDone("receiveMessageDone", conn, t0, 0, err)
		return zero, err
	}

	message, err := sp.encoder.Decode(frame)
	sp.framer.Reset()
	if err != nil {
		err = newDecodeError(err)
		sp.logDone("receiveMessageDone", conn, t0, len(frame), err)
		return zero, err
	}
	sp.logDone("receiveMessageDone", conn, t0, len(frame), nil)
	return message, nil
}

func (sp *StreamProcessor[T]) readFrame(conn net.Conn) ([]byte, error) {
	var readErr error
	for {
		if len(sp.pending) > 0 {
			consumed, complete, err := sp.framer.Feed(sp.pending)
			sp.pending = sp.pending[consumed:]
			if err != nil {
				return nil, err
			}
			if complete {
				return sp.framer.Frame(), nil
			}
			continue
		}
		if readErr != nil {
			if errors.Is(readErr, io.EOF) && sp.framer.Size() > 0 {
				return nil, io.ErrUnexpectedEOF
			}
			return nil, readErr
		}
		count, err := conn.Read(sp.receive)
		sp.pending = sp.receive[:count]
		readErr = err
	}
}

func (sp *StreamProcessor[T]) resetReceiveState() {
	sp.pending = nil
	if sp.framer != nil {
		sp.framer.Reset()
	}
}

func (sp *StreamProcessor[T]) logStart(event string, conn net.Conn, t0 time.Time) {
	sp.logger.Info(
		event,
		slog.String("localAddr", safeconn.LocalAddr(conn)),
		slog.String("protocol", "tcp"),
		slog.String("remoteAddr", safeconn.RemoteAddr(conn)),
		slog.Time("t", t0),
	)
}

func (sp *StreamProcessor[T]) logDone(event string, conn net.Conn, t0 time.Time, size int, err error) {
	sp.logger.Info(
		event,
		slog.Any("err", err),
		slog.String("errClass", sp.errClassifier.Classify(err)),
		slog.Int("frameSize", size),
		slog.String("localAddr", safeconn.LocalAddr(conn)),
		slog.String("protocol", "tcp"),
		slog.String("remoteAddr", safeconn.RemoteAddr(conn)),
		slog.Time("t0", t0),
		slog.Time("t", sp.timeNow()),
	)
}
