// SPDX-License-Identifier: GPL-3.0-or-later

package framenet

import (
	"context"
	"errors"
	"net"
	"net/netip"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// reverse returns s with its bytes in reverse order.
func reverse(s string) string {
	out := []byte(s)
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return string(out)
}

// A client sends a message to a server that replies with the reversed text.
func TestTCPServerRequestReply(t *testing.T) {
	for _, strategy := range []LoopStrategy{StrategyPoll, StrategyBlocking} {
		t.Run(strategy.String(), func(t *testing.T) {
			cfg := newTestConfig()
			cfg.Strategy = strategy
			enc := NewTextEncoder()

			server := NewTCPServer(cfg, "reverse", loopback, 0, DefaultSLogger())
			server.ClientConnected.Subscribe(func(ev *ClientConnected) {
				sp := NewStreamProcessorWithConn[string](cfg, ev.Conn, enc, enc.NewFramer(DefaultBufferSize), DefaultSLogger())
				defer sp.Close()
				message, err := sp.Receive(context.Background())
				if err != nil {
					return
				}
				sp.Send(context.Background(), reverse(message))
			})
			startAndCleanup(t, server)

			client := NewStreamProcessor[string](cfg, enc, enc.NewFramer(DefaultBufferSize), DefaultSLogger())
			defer client.Close()
			require.NoError(t, client.Connect(context.Background(), server.Addr()))
			require.NoError(t, client.Send(context.Background(), "tcp-message"))

			reply, err := ExecuteWithTimeout(context.Background(), cfg, 2*time.Second,
				func() { client.Close() }, client.Receive, DefaultSLogger())
			require.NoError(t, err)
			assert.Equal(t, "egassem-pct", reply)
		})
	}
}

func TestTCPServerLifecycle(t *testing.T) {
	for _, strategy := range []LoopStrategy{StrategyPoll, StrategyBlocking} {
		t.Run(strategy.String(), func(t *testing.T) {
			cfg := newTestConfig()
			cfg.Strategy = strategy
			server := NewTCPServer(cfg, "lifecycle", loopback, 0, DefaultSLogger())
			defer server.Close()

			var (
				mu     sync.Mutex
				seen   []string
				events []*ServerEvent
			)
			server.Started.Subscribe(func(name string) {
				mu.Lock()
				seen = append(seen, "started:"+name)
				mu.Unlock()
			})
			server.Stopped.Subscribe(func(name string) {
				mu.Lock()
				seen = append(seen, "stopped:"+name)
				mu.Unlock()
			})
			server.Events.Subscribe(func(ev *ServerEvent) {
				mu.Lock()
				events = append(events, ev)
				mu.Unlock()
			})

			assert.False(t, server.Addr().IsValid())
			require.NoError(t, server.Start())
			assert.True(t, server.Running())
			assert.NotZero(t, server.Addr().Port())
			assert.Equal(t, loopback, server.Addr().Addr())

			require.NoError(t, server.Start())
			server.Stop(0)
			assert.False(t, server.Running())
			server.Stop(0)

			// A stopped server no longer accepts connections.
			_, err := net.DialTimeout("tcp", server.Addr().String(), time.Second)
			require.Error(t, err)

			mu.Lock()
			defer mu.Unlock()
			assert.Equal(t, []string{"started:lifecycle", "stopped:lifecycle"}, seen)
			require.Len(t, events, 2)
			assert.Equal(t, "lifecycle is already running.", events[0].Message)
			assert.Equal(t, "lifecycle is not running.", events[1].Message)
			for _, ev := range events {
				assert.Equal(t, "lifecycle", ev.Server)
				assert.NoError(t, ev.Err)
			}
		})
	}
}

func TestTCPServerRestart(t *testing.T) {
	cfg := newTestConfig()
	port, err := FreeTCPPort(loopback)
	require.NoError(t, err)
	server := NewTCPServer(cfg, "", loopback, port, DefaultSLogger())
	defer server.Close()
	assert.NotEmpty(t, server.Name())

	for range 2 {
		require.NoError(t, server.Start())
		assert.Equal(t, netip.AddrPortFrom(loopback, port), server.Addr())
		conn, err := net.Dial("tcp", server.Addr().String())
		require.NoError(t, err)
		conn.Close()
		server.Stop(0)
	}

	require.NoError(t, server.Close())
	require.ErrorIs(t, server.Start(), ErrClosed)
}

// Lifecycle listeners may call Start and Stop on the server notifying them.
func TestTCPServerListenersDriveLifecycle(t *testing.T) {
	// runWithin runs fn and fails the test when it does not return in time.
	runWithin := func(t *testing.T, fn func()) {
		t.Helper()
		done := make(chan struct{})
		go func() {
			defer close(done)
			fn()
		}()
		select {
		case <-done:
		case <-time.After(5 * time.Second):
			t.Fatal("lifecycle call did not return")
		}
	}

	t.Run("restart from stopped listener", func(t *testing.T) {
		server := NewTCPServer(newTestConfig(), "restart", loopback, 0, DefaultSLogger())
		defer server.Close()

		var (
			once    sync.Once
			restart error
		)
		server.Stopped.Subscribe(func(string) {
			once.Do(func() { restart = server.Start() })
		})
		require.NoError(t, server.Start())

		runWithin(t, func() { server.Stop(0) })
		require.NoError(t, restart)
		assert.True(t, server.Running())
	})

	t.Run("stop from started listener", func(t *testing.T) {
		server := NewTCPServer(newTestConfig(), "shortlived", loopback, 0, DefaultSLogger())
		defer server.Close()

		var once sync.Once
		server.Started.Subscribe(func(string) {
			once.Do(func() { server.Stop(0) })
		})

		var err error
		runWithin(t, func() { err = server.Start() })
		require.NoError(t, err)
		assert.False(t, server.Running())
	})
}

func TestTCPServerBindFailure(t *testing.T) {
	wantErr := errors.New("address already in use")
	cfg := newTestConfig()
	cfg.Listener = &funcListener{
		ListenFunc: func(ctx context.Context, network, address string) (net.Listener, error) {
			return nil, wantErr
		},
	}
	server := NewTCPServer(cfg, "busy", loopback, 0, DefaultSLogger())
	defer server.Close()

	var events []*ServerEvent
	server.Events.Subscribe(func(ev *ServerEvent) {
		events = append(events, ev)
	})

	require.ErrorIs(t, server.Start(), wantErr)
	assert.False(t, server.Running())
	require.Len(t, events, 1)
	assert.Equal(t, "Cannot bind the listening socket.", events[0].Message)
	require.ErrorIs(t, events[0].Err, wantErr)
}

// Connections nobody listens for are closed by the server.
func TestTCPServerClosesUnclaimedConnections(t *testing.T) {
	server := startTCPServer(t, newTestConfig(), DefaultSLogger())

	conn, err := net.Dial("tcp", server.Addr().String())
	require.NoError(t, err)
	defer conn.Close()

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, err = conn.Read(make([]byte, 1))
	require.Error(t, err)
	var netErr net.Error
	if errors.As(err, &netErr) {
		assert.False(t, netErr.Timeout())
	}
}

// Errors returned by Accept are reported and the loop keeps going.
func TestTCPServerLoopErrors(t *testing.T) {
	wantErr := errors.New("too many open files")
	listener := newStubListener()
	listener.results <- acceptResult{err: wantErr}
	listener.results <- acceptResult{err: wantErr}

	reg := prometheus.NewRegistry()
	cfg := newTestConfig()
	cfg.Metrics = NewMetrics(reg)
	cfg.Listener = &funcListener{
		ListenFunc: func(ctx context.Context, network, address string) (net.Listener, error) {
			return listener, nil
		},
	}
	server := NewTCPServer(cfg, "flaky", loopback, 0, DefaultSLogger())

	errs := make(chan error, 4)
	server.Events.Subscribe(func(ev *ServerEvent) {
		errs <- ev.Err
	})
	connected := make(chan *ClientConnected, 1)
	server.ClientConnected.Subscribe(func(ev *ClientConnected) {
		connected <- ev
	})
	startAndCleanup(t, server)
	assert.Equal(t, netip.MustParseAddrPort("127.0.0.1:4242"), server.Addr())

	require.ErrorIs(t, <-errs, wantErr)
	require.ErrorIs(t, <-errs, wantErr)

	conn, _ := newScriptedConn()
	listener.results <- acceptResult{conn: conn}
	ev := <-connected
	assert.Equal(t, "flaky", ev.Server)
	ev.Conn.Close()

	assert.Equal(t, 2.0, testutil.ToFloat64(cfg.Metrics.LoopErrors.WithLabelValues("flaky")))
	assert.Equal(t, 1.0, testutil.ToFloat64(cfg.Metrics.ConnectionsAccepted.WithLabelValues("flaky")))
	assert.Equal(t, 1.0, testutil.ToFloat64(cfg.Metrics.RunningServers.WithLabelValues("flaky")))

	server.Stop(0)
	assert.Equal(t, 0.0, testutil.ToFloat64(cfg.Metrics.RunningServers.WithLabelValues("flaky")))
}

// A connection that cannot be observed is closed and reported as a
// loop error instead of reaching listeners.
func TestTCPServerObserveFailure(t *testing.T) {
	wantErr := errors.New("cannot wrap connection")
	listener := newStubListener()
	cfg := newTestConfig()
	cfg.Listener = &funcListener{
		ListenFunc: func(ctx context.Context, network, address string) (net.Listener, error) {
			return listener, nil
		},
	}
	server := NewTCPServer(cfg, "observe", loopback, 0, DefaultSLogger())
	server.observe = FuncAdapter[net.Conn, net.Conn](func(ctx context.Context, conn net.Conn) (net.Conn, error) {
		return nil, wantErr
	})

	events := make(chan *ServerEvent, 1)
	server.Events.Subscribe(func(ev *ServerEvent) {
		events <- ev
	})
	server.ClientConnected.Subscribe(func(ev *ClientConnected) {
		t.Error("unexpected connection delivered to listeners")
		ev.Conn.Close()
	})
	startAndCleanup(t, server)

	conn, _ := newScriptedConn()
	closed := make(chan struct{})
	conn.CloseFunc = func() error {
		close(closed)
		return nil
	}
	listener.results <- acceptResult{conn: conn}

	ev := <-events
	assert.Equal(t, "Error in the listening loop.", ev.Message)
	require.ErrorIs(t, ev.Err, wantErr)
	select {
	case <-closed:
	case <-time.After(2 * time.Second):
		t.Fatal("connection not closed")
	}
}

type acceptResult struct {
	conn net.Conn
	err  error
}

// stubListener is a [net.Listener] returning queued accept results. It
// lacks SetDeadline, hence servers always use the blocking strategy.
type stubListener struct {
	results   chan acceptResult
	closed    chan struct{}
	closeOnce sync.Once
}

func newStubListener() *stubListener {
	return &stubListener{
		results: make(chan acceptResult, 4),
		closed:  make(chan struct{}),
	}
}

func (sl *stubListener) Accept() (net.Conn, error) {
	select {
	case <-sl.closed:
		return nil, net.ErrClosed
	case res := <-sl.results:
		return res.conn, res.err
	}
}

func (sl *stubListener) Close() error {
	sl.closeOnce.Do(func() { close(sl.closed) })
	return nil
}

func (sl *stubListener) Addr() net.Addr {
	return &net.TCPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 4242}
}
