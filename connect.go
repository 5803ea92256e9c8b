//
// SPDX-License-Identifier: GPL-3.0-or-later
//
// Adapted from: https://github.com/ooni/probe-cli/blob/v3.20.1/internal/netxlite/dialer.go
// Adapted from: https://github.com/rbmk-project/rbmk/blob/v0.17.0/pkg/x/netcore/dialer.go
//

package framenet

import (
	"context"
	"log/slog"
	"net"
	"net/netip"
	"time"

	"github.com/bassosimone/safeconn"
)

// NewConnectFunc returns a new [*ConnectFunc].
//
// The cfg argument contains the common configuration.
//
// The network argument must be either "tcp" or "udp".
//
// The logger argument is the [SLogger] to use for structured logging.
func NewConnectFunc(cfg *Config, network string, logger SLogger) *ConnectFunc {
	return &ConnectFunc{
		Dialer:        cfg.Dialer,
		ErrClassifier: cfg.ErrClassifier,
		Logger:        logger,
		Network:       network,
		TimeNow:       cfg.TimeNow,
	}
}

// ConnectFunc dials a [netip.AddrPort] using a configured network.
//
// Returns either a valid [net.Conn] or an error, never both.
//
// All fields are safe to modify after construction but before first use.
// Fields must not be mutated concurrently with calls to [Call].
type ConnectFunc struct {
	// Dialer is the [Dialer] to use.
	//
	// Set by [NewConnectFunc] from [Config.Dialer].
	Dialer Dialer

	// ErrClassifier classifies errors for structured logging.
	//
	// Set by [NewConnectFunc] from [Config.ErrClassifier].
	ErrClassifier ErrClassifier

	// Logger is the [SLogger] to use.
	//
	// Set by [NewConnectFunc] to the user-provided logger.
	Logger SLogger

	// Network is the network to use (either "tcp" or "udp").
	//
	// Set by [NewConnectFunc] to the user-provided value.
	Network string

	// TimeNow is the function to get the current time.
	//
	// Set by [NewConnectFunc] from [Config.TimeNow].
	TimeNow func() time.Time
}

var _ Func[netip.AddrPort, net.Conn] = &ConnectFunc{}

// Call invokes the [*ConnectFunc] to connect to the given [netip.AddrPort].
func (op *ConnectFunc) Call(ctx context.Context, address netip.AddrPort) (net.Conn, error) {
	t0 := op.TimeNow()
	deadline, _ := ctx.Deadline()
	op.Logger.Info(
		"connectStart",
		slog.Time("deadline", deadline),
		slog.String("protocol", op.Network),
		slog.String("remoteAddr", address.String()),
		slog.Time("t", t0),
	)
	conn, err := op.Dialer.DialContext(ctx, op.Network, address.String())
	op.Logger.Info(
		"connectDone",
		slog.Time("deadline", deadline),
		slog.Any("err", err),
		slog.String("errClass", op.ErrClassifier.Classify(err)),
		slog.String("localAddr", safeconn.LocalAddr(conn)),
		slog.String("protocol", op.Network),
		slog.String("remoteAddr", address.String()),
		slog.Time("t0", t0),
		slog.Time("t", op.TimeNow()),
	)
	return conn, err
}

// NewListenFunc returns a new [*ListenFunc] binding TCP listeners.
//
// The cfg argument contains the common configuration.
//
// The logger argument is the [SLogger] to use for structured logging.
func NewListenFunc(cfg *Config, logger SLogger) *ListenFunc {
	return &ListenFunc{
		ErrClassifier: cfg.ErrClassifier,
		Listener:      cfg.Listener,
		Logger:        logger,
		TimeNow:       cfg.TimeNow,
	}
}

// ListenFunc binds a TCP [net.Listener] to a [netip.AddrPort].
//
// All fields are safe to modify after construction but before first use.
type ListenFunc struct {
	// ErrClassifier classifies errors for structured logging.
	//
	// Set by [NewListenFunc] from [Config.ErrClassifier].
	ErrClassifier ErrClassifier

	// Listener is the [Listener] to use.
	//
	// Set by [NewListenFunc] from [Config.Listener].
	Listener Listener

	// Logger is the [SLogger] to use.
	//
	// Set by [NewListenFunc] to the user-provided logger.
	Logger SLogger

	// TimeNow is the function to get the current time.
	//
	// Set by [NewListenFunc] from [Config.TimeNow].
	TimeNow func() time.Time
}

var _ Func[netip.AddrPort, net.Listener] = &ListenFunc{}

// Call binds a listener to the given address. A zero port selects an
// ephemeral port.
func (op *ListenFunc) Call(ctx context.Context, address netip.AddrPort) (net.Listener, error) {
	t0 := op.TimeNow()
	logListenStart(op.Logger, "tcp", address, t0)
	listener, err := op.Listener.Listen(ctx, "tcp", address.String())
	var laddr string
	if listener != nil {
		laddr = listener.Addr().String()
	}
	logListenDone(op.Logger, op.ErrClassifier, op.TimeNow, "tcp", address, laddr, t0, err)
	return listener, err
}

// NewListenPacketFunc returns a new [*ListenPacketFunc] binding UDP sockets.
//
// The cfg argument contains the common configuration.
//
// The logger argument is the [SLogger] to use for structured logging.
func NewListenPacketFunc(cfg *Config, logger SLogger) *ListenPacketFunc {
	return &ListenPacketFunc{
		ErrClassifier: cfg.ErrClassifier,
		Listener:      cfg.Listener,
		Logger:        logger,
		TimeNow:       cfg.TimeNow,
	}
}

// ListenPacketFunc binds a UDP [net.PacketConn] to a [netip.AddrPort].
//
// All fields are safe to modify after construction but before first use.
type ListenPacketFunc struct {
	// ErrClassifier classifies errors for structured logging.
	//
	// Set by [NewListenPacketFunc] from [Config.ErrClassifier].
	ErrClassifier ErrClassifier

	// Listener is the [Listener] to use.
	//
	// Set by [NewListenPacketFunc] from [Config.Listener].
	Listener Listener

	// Logger is the [SLogger] to use.
	//
	// Set by [NewListenPacketFunc] to the user-provided logger.
	Logger SLogger

	// TimeNow is the function to get the current time.
	//
	// Set by [NewListenPacketFunc] from [Config.TimeNow].
	TimeNow func() time.Time
}

var _ Func[netip.AddrPort, net.PacketConn] = &ListenPacketFunc{}

// Call binds a datagram socket to the given address. A zero port selects
// an ephemeral port.
func (op *ListenPacketFunc) Call(ctx context.Context, address netip.AddrPort) (net.PacketConn, error) {
	t0 := op.TimeNow()
	logListenStart(op.Logger, "udp", address, t0)
	pconn, err := op.Listener.ListenPacket(ctx, "udp", address.String())
	var laddr string
	if pconn != nil {
		laddr = pconn.LocalAddr().String()
	}
	logListenDone(op.Logger, op.ErrClassifier, op.TimeNow, "udp", address, laddr, t0, err)
	return pconn, err
}

func logListenStart(logger SLogger, network string, address netip.AddrPort, t0 time.Time) {
	logger.Info(
		"listenStart",
		slog.String("bindAddr", address.String()),
		slog.String("protocol", network),
		slog.Time("t", t0),
	)
}

func logListenDone(logger SLogger, classifier ErrClassifier, timeNow func() time.Time,
	network string, address netip.AddrPort, laddr string, t0 time.Time, err error) {
	logger.Info(
		"listenDone",
		slog.String("bindAddr", address.String()),
		slog.Any("err", err),
		slog.String("errClass", classifier.Classify(err)),
		slog.String("localAddr", laddr),
		slog.String("protocol", network),
		slog.Time("t0", t0),
		slog.Time("t", timeNow()),
	)
}
