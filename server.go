// SPDX-License-Identifier: GPL-3.0-or-later

package framenet

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/netip"
	"os"
	"sync"
	"time"
)

// ServerEvent is the payload of server general events.
//
// Informational events (e.g., starting a running server) have a nil Err.
type ServerEvent struct {
	// Server is the server name.
	Server string

	// Message describes the event.
	Message string

	// Err is the error that caused the event, if any.
	Err error
}

// serverSocket is implemented by each kind of server to manage its
// listening socket.
type serverSocket interface {
	// bindSocket opens the listening socket and returns its local address.
	bindSocket(ctx context.Context, addr netip.AddrPort) (net.Addr, error)

	// canPoll reports whether the socket supports deadlines.
	canPoll() bool

	// serveOnce waits for one connection or datagram and dispatches it. A
	// non-zero deadline bounds the wait.
	serveOnce(ctx context.Context, deadline time.Time) error

	// closeSocket closes the listening socket, if any.
	closeSocket() error
}

// server is the lifecycle shared by [*TCPServer] and [*UDPServer].
//
// The listening loop runs on a [*Worker]. Start binds the socket before
// starting the worker so that bind errors reach the caller. Stop raises
// the private stopping flag before unblocking the loop, which lets the
// loop tell errors caused by the shutdown from genuine failures.
//
// Notifications raised while Start, Stop or Close hold the lifecycle
// lock are queued and delivered after releasing it, before the call
// returns, so listeners may call Start and Stop themselves.
type server struct {
	// Started fires with the server name once the loop is running.
	Started *Notifier[string]

	// Stopped fires with the server name once the loop has exited.
	Stopped *Notifier[string]

	// Events carries informational events and loop errors.
	Events *Notifier[*ServerEvent]

	addr          netip.AddrPort
	errClassifier ErrClassifier
	errorBackoff  time.Duration
	logger        SLogger
	metrics       *Metrics
	name          string
	pollInterval  time.Duration
	socket        serverSocket
	strategy      LoopStrategy
	timeNow       func() time.Time
	worker        *Worker

	// lifecycle serializes Start, Stop and Close.
	lifecycle sync.Mutex

	// mu protects the fields below.
	mu            sync.Mutex
	bound         netip.AddrPort
	closed        bool
	deferred      []func()
	stopping      bool
	transitioning bool
}

func newServer(cfg *Config, name string, addr netip.AddrPort, socket serverSocket, logger SLogger) *server {
	s := &server{
		addr:          addr,
		errClassifier: cfg.ErrClassifier,
		errorBackoff:  cfg.ErrorBackoff,
		logger:        logger,
		metrics:       cfg.Metrics,
		pollInterval:  cfg.PollInterval,
		socket:        socket,
		strategy:      cfg.Strategy,
		timeNow:       cfg.TimeNow,
	}
	s.worker = NewWorker(cfg, name, s.run, logger)
	s.name = s.worker.Name()
	s.Started = NewNotifier[string](s.name+".started", logger)
	s.Stopped = NewNotifier[string](s.name+".stopped", logger)
	s.Events = NewNotifier[*ServerEvent](s.name+".events", logger)
	s.worker.Events.Subscribe(func(ev *WorkerEvent) {
		s.dispatch(func() {
			s.Events.Notify(&ServerEvent{Server: ev.Name, Message: ev.Message, Err: ev.Err})
		})
	})
	s.worker.Started.Subscribe(func(name string) {
		s.metrics.setRunning(s.name, true)
		s.dispatch(func() { s.Started.Notify(name) })
	})
	s.worker.Stopped.Subscribe(func(name string) {
		s.metrics.setRunning(s.name, false)
		s.dispatch(func() { s.Stopped.Notify(name) })
	})
	return s
}

// beginTransition acquires the lifecycle lock and starts queueing
// notifications until the matching endTransition.
func (s *server) beginTransition() {
	s.lifecycle.Lock()
	s.mu.Lock()
	s.transitioning = true
	s.mu.Unlock()
}

// endTransition releases the lifecycle lock and then delivers the
// notifications queued in the meantime.
func (s *server) endTransition() {
	s.mu.Lock()
	deferred := s.deferred
	s.deferred, s.transitioning = nil, false
	s.mu.Unlock()
	s.lifecycle.Unlock()
	for _, fn := range deferred {
		fn()
	}
}

// dispatch runs fn now or, during a transition, once it ends.
func (s *server) dispatch(fn func()) {
	s.mu.Lock()
	if s.transitioning {
		s.deferred = append(s.deferred, fn)
		s.mu.Unlock()
		return
	}
	s.mu.Unlock()
	fn()
}

// Name returns the server name.
func (s *server) Name() string {
	return s.name
}

// Addr returns the address the socket is bound to, which reveals the
// port selected by the operating system when binding to port zero. It
// returns the zero value before the first successful Start.
func (s *server) Addr() netip.AddrPort {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.bound
}

// Running returns whether the listening loop is running.
func (s *server) Running() bool {
	return s.worker.Running()
}

// Start binds the listening socket and starts the listening loop.
//
// Bind errors are returned and also emitted as an event. Starting a
// running server emits an informational event and returns nil. Starting
// a closed server returns [ErrClosed].
func (s *server) Start() error {
	s.beginTransition()
	defer s.endTransition()

	s.mu.Lock()
	closed := s.closed
	s.stopping = false
	s.mu.Unlock()
	if closed {
		return ErrClosed
	}

	if s.worker.Running() {
		s.worker.Start()
		return nil
	}

	local, err := s.socket.bindSocket(context.Background(), s.addr)
	if err != nil {
		s.emit("Cannot bind the listening socket.", err)
		return err
	}
	s.mu.Lock()
	s.bound = addrPortOf(local)
	s.mu.Unlock()

	s.worker.Start()
	return nil
}

// Stop stops the listening loop and closes the listening socket.
//
// A zero or negative timeout selects [Config.StopTimeout].
func (s *server) Stop(timeout time.Duration) {
	s.beginTransition()
	defer s.endTransition()
	s.markStopping()
	s.worker.Stop(timeout)
	s.socket.closeSocket()
}

// Close stops the server if needed and prevents further starts.
//
// Close is idempotent and always returns nil.
func (s *server) Close() error {
	s.beginTransition()
	defer s.endTransition()
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	s.markStopping()
	s.worker.Close()
	s.socket.closeSocket()
	return nil
}

func (s *server) markStopping() {
	s.mu.Lock()
	s.stopping = true
	s.mu.Unlock()
}

func (s *server) isStopping() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stopping
}

func (s *server) run(ctx context.Context) error {
	poll := s.strategy == StrategyPoll && s.socket.canPoll()
	if !poll {
		stop := closeOnCancel(ctx, s.socket.closeSocket, s.markStopping)
		defer stop()
	}
	for ctx.Err() == nil {
		var deadline time.Time
		if poll {
			deadline = time.Now().Add(s.pollInterval)
		}
		err := s.socket.serveOnce(ctx, deadline)
		switch {
		case err == nil:
			// nothing
		case errors.Is(err, os.ErrDeadlineExceeded):
			// nothing
		case s.isStopping() || ctx.Err() != nil:
			return nil
		case errors.Is(err, net.ErrClosed):
			return err
		default:
			s.metrics.loopError(s.name)
			s.emit("Error in the listening loop.", err)
			if !sleepContext(ctx, s.errorBackoff) {
				return nil
			}
		}
	}
	return nil
}

func (s *server) emit(message string, err error) {
	s.logger.Info(
		"serverEvent",
		slog.Any("err", err),
		slog.String("errClass", s.errClassifier.Classify(err)),
		slog.String("message", message),
		slog.String("server", s.name),
		slog.Time("t", s.timeNow()),
	)
	s.dispatch(func() {
		s.Events.Notify(&ServerEvent{Server: s.name, Message: message, Err: err})
	})
}

// sleepContext sleeps for d and returns false if ctx is done first.
func sleepContext(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return true
	case <-ctx.Done():
		return false
	}
}
