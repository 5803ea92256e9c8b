// SPDX-License-Identifier: GPL-3.0-or-later

package framenet

import (
	"context"
	"net"
	"time"
)

const (
	// DefaultBufferSize is the default size of processor send and receive buffers.
	DefaultBufferSize = 2048

	// DefaultPollInterval is the default accept/receive deadline used by [StrategyPoll].
	DefaultPollInterval = 10 * time.Millisecond

	// DefaultErrorBackoff is the default pause after a transient loop error.
	DefaultErrorBackoff = 200 * time.Millisecond

	// DefaultStopTimeout is the default time [*Worker.Stop] waits for the body to exit.
	DefaultStopTimeout = time.Second
)

// Dialer abstracts the [*net.Dialer] behavior.
type Dialer interface {
	DialContext(ctx context.Context, network, address string) (net.Conn, error)
}

// Listener abstracts the [*net.ListenConfig] behavior.
//
// By making servers and processors depend on an abstract implementation we
// allow for unit testing and for setting socket options before binding.
type Listener interface {
	Listen(ctx context.Context, network, address string) (net.Listener, error)
	ListenPacket(ctx context.Context, network, address string) (net.PacketConn, error)
}

// LoopStrategy selects how a server waits for connections or datagrams.
type LoopStrategy int

const (
	// StrategyPoll waits with short deadlines of [Config.PollInterval] and
	// checks for cancellation between attempts. It suits servers expecting
	// many connections or datagrams.
	StrategyPoll LoopStrategy = iota

	// StrategyBlocking blocks until a connection or datagram is ready.
	// Stopping closes the listening socket to unblock the loop. It suits
	// servers expecting few connections or datagrams.
	StrategyBlocking
)

// String implements [fmt.Stringer].
func (s LoopStrategy) String() string {
	switch s {
	case StrategyPoll:
		return "poll"
	case StrategyBlocking:
		return "blocking"
	default:
		return "unknown"
	}
}

// Config holds common configuration for framenet components.
//
// Pass this to constructor functions to pre-wire dependencies.
// All fields have sensible defaults set by [NewConfig].
type Config struct {
	// Dialer is used by [*ConnectFunc] and [*StreamProcessor.Connect].
	//
	// Set by [NewConfig] to [*net.Dialer].
	Dialer Dialer

	// Listener is used by servers and datagram processors to bind sockets.
	//
	// Set by [NewConfig] to [*net.ListenConfig].
	Listener Listener

	// ErrClassifier classifies errors for structured logging.
	//
	// Set by [NewConfig] to [DefaultErrClassifier].
	ErrClassifier ErrClassifier

	// TimeNow returns the current time.
	//
	// Set by [NewConfig] to [time.Now].
	TimeNow func() time.Time

	// SendBufferSize is the initial size of processor send buffers.
	//
	// Set by [NewConfig] to [DefaultBufferSize].
	SendBufferSize int

	// ReceiveBufferSize is the initial size of processor receive buffers.
	//
	// Set by [NewConfig] to [DefaultBufferSize].
	ReceiveBufferSize int

	// SocketReceiveBufferSize, when positive, is applied to UDP server
	// sockets using SetReadBuffer.
	//
	// Set by [NewConfig] to zero (operating system default).
	SocketReceiveBufferSize int

	// Strategy is the loop strategy of TCP and UDP servers.
	//
	// Set by [NewConfig] to [StrategyPoll].
	Strategy LoopStrategy

	// PollInterval is the deadline used by [StrategyPoll].
	//
	// Set by [NewConfig] to [DefaultPollInterval].
	PollInterval time.Duration

	// ErrorBackoff is the pause after a transient error in a server loop.
	//
	// Set by [NewConfig] to [DefaultErrorBackoff].
	ErrorBackoff time.Duration

	// StopTimeout is the default timeout of [*Worker.Stop].
	//
	// Set by [NewConfig] to [DefaultStopTimeout].
	StopTimeout time.Duration

	// Metrics optionally collects server metrics.
	//
	// Set by [NewConfig] to nil (disabled).
	Metrics *Metrics
}

// NewConfig creates a [*Config] with sensible defaults.
func NewConfig() *Config {
	return &Config{
		Dialer:            &net.Dialer{},
		Listener:          &net.ListenConfig{},
		ErrClassifier:     DefaultErrClassifier,
		TimeNow:           time.Now,
		SendBufferSize:    DefaultBufferSize,
		ReceiveBufferSize: DefaultBufferSize,
		Strategy:          StrategyPoll,
		PollInterval:      DefaultPollInterval,
		ErrorBackoff:      DefaultErrorBackoff,
		StopTimeout:       DefaultStopTimeout,
	}
}
