// SPDX-License-Identifier: GPL-3.0-or-later

package framenet

import (
	"context"
	"errors"
	"net"
	"net/netip"
	"testing"
	"time"

	"github.com/bassosimone/netstub"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// NewConnectFunc populates all fields from Config and the provided logger.
func TestNewConnectFunc(t *testing.T) {
	cfg := NewConfig()
	logger := DefaultSLogger()

	fn := NewConnectFunc(cfg, "tcp", logger)

	require.NotNil(t, fn)
	assert.Equal(t, "tcp", fn.Network)
	assert.NotNil(t, fn.Dialer)
	assert.NotNil(t, fn.Logger)
	assert.NotNil(t, fn.TimeNow)
	assert.NotNil(t, fn.ErrClassifier)
}

// Call dials the address and returns a net.Conn or an error.
func TestConnectFunc(t *testing.T) {
	tests := []struct {
		// name describes what this test case verifies.
		name string

		// dialer is the mock dialer to use.
		dialer *netstub.FuncDialer

		// network is the network type.
		network string

		// address is the target address.
		address netip.AddrPort

		// wantErr indicates whether we expect an error.
		wantErr bool
	}{
		{
			name: "successful TCP connect",
			dialer: &netstub.FuncDialer{
				DialContextFunc: func(ctx context.Context, network, address string) (net.Conn, error) {
					conn := newMinimalConn()
					conn.CloseFunc = func() error { return nil }
					conn.LocalAddrFunc = func() net.Addr {
						return &net.TCPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 54321}
					}
					conn.RemoteAddrFunc = func() net.Addr {
						return &net.TCPAddr{IP: net.IPv4(93, 184, 216, 34), Port: 443}
					}
					return conn, nil
				},
			},
			network: "tcp",
			address: netip.MustParseAddrPort("93.184.216.34:443"),
			wantErr: false,
		},

		{
			name: "dial error",
			dialer: &netstub.FuncDialer{
				DialContextFunc: func(ctx context.Context, network, address string) (net.Conn, error) {
					return nil, errors.New("connection refused")
				},
			},
			network: "tcp",
			address: netip.MustParseAddrPort("93.184.216.34:443"),
			wantErr: true,
		},

		{
			name: "successful UDP connect",
			dialer: &netstub.FuncDialer{
				DialContextFunc: func(ctx context.Context, network, address string) (net.Conn, error) {
					conn := newMinimalConn()
					conn.CloseFunc = func() error { return nil }
					conn.LocalAddrFunc = func() net.Addr {
						return &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 54321}
					}
					conn.RemoteAddrFunc = func() net.Addr {
						return &net.UDPAddr{IP: net.IPv4(8, 8, 8, 8), Port: 53}
					}
					return conn, nil
				},
			},
			network: "udp",
			address: netip.MustParseAddrPort("8.8.8.8:53"),
			wantErr: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := NewConfig()
			cfg.Dialer = tt.dialer

			fn := NewConnectFunc(cfg, tt.network, DefaultSLogger())
			conn, err := fn.Call(context.Background(), tt.address)

			if tt.wantErr {
				require.Error(t, err)
				assert.Nil(t, conn)
				return
			}

			require.NoError(t, err)
			require.NotNil(t, conn)
			conn.Close()
		})
	}
}

// Call propagates the caller's context deadline to the dialer.
func TestConnectFuncCallerContextDeadline(t *testing.T) {
	cfg := NewConfig()
	dialCalled := false
	expectedTimeout := 5 * time.Second
	cfg.Dialer = &netstub.FuncDialer{
		DialContextFunc: func(ctx context.Context, network, address string) (net.Conn, error) {
			dialCalled = true
			deadline, ok := ctx.Deadline()
			assert.True(t, ok, "context should have deadline from caller")
			assert.True(t, time.Until(deadline) <= expectedTimeout)
			return nil, errors.New("expected error")
		},
	}

	fn := NewConnectFunc(cfg, "tcp", DefaultSLogger())

	// Caller controls timeout via context.WithTimeout
	ctx, cancel := context.WithTimeout(context.Background(), expectedTimeout)
	defer cancel()

	_, _ = fn.Call(ctx, netip.MustParseAddrPort("93.184.216.34:443"))

	assert.True(t, dialCalled)
}

// Call emits connectStart/connectDone log events.
func TestConnectFuncLogging(t *testing.T) {
	logger, records := newCapturingLogger()

	cfg := NewConfig()
	cfg.Dialer = &netstub.FuncDialer{
		DialContextFunc: func(ctx context.Context, network, address string) (net.Conn, error) {
			conn := newMinimalConn()
			conn.CloseFunc = func() error { return nil }
			return conn, nil
		},
	}

	fn := NewConnectFunc(cfg, "tcp", logger)
	conn, err := fn.Call(context.Background(), netip.MustParseAddrPort("93.184.216.34:443"))
	require.NoError(t, err)
	conn.Close()

	assert.Equal(t, []string{"connectStart", "connectDone"}, records.messages())
}

// funcListener is a [Listener] whose behavior is set by function fields.
type funcListener struct {
	ListenFunc       func(ctx context.Context, network, address string) (net.Listener, error)
	ListenPacketFunc func(ctx context.Context, network, address string) (net.PacketConn, error)
}

func (fl *funcListener) Listen(ctx context.Context, network, address string) (net.Listener, error) {
	return fl.ListenFunc(ctx, network, address)
}

func (fl *funcListener) ListenPacket(ctx context.Context, network, address string) (net.PacketConn, error) {
	return fl.ListenPacketFunc(ctx, network, address)
}

// ListenFunc binds a TCP listener and reports the ephemeral port.
func TestListenFunc(t *testing.T) {
	t.Run("loopback", func(t *testing.T) {
		logger, records := newCapturingLogger()
		fn := NewListenFunc(NewConfig(), logger)

		listener, err := fn.Call(context.Background(), netip.AddrPortFrom(loopback, 0))
		require.NoError(t, err)
		defer listener.Close()

		assert.NotZero(t, addrPortOf(listener.Addr()).Port())
		assert.Equal(t, []string{"listenStart", "listenDone"}, records.messages())
	})

	t.Run("bind error", func(t *testing.T) {
		wantErr := errors.New("address already in use")
		cfg := NewConfig()
		var gotNetwork, gotAddress string
		cfg.Listener = &funcListener{
			ListenFunc: func(ctx context.Context, network, address string) (net.Listener, error) {
				gotNetwork, gotAddress = network, address
				return nil, wantErr
			},
		}

		listener, err := NewListenFunc(cfg, DefaultSLogger()).Call(
			context.Background(), netip.MustParseAddrPort("127.0.0.1:5555"))

		require.ErrorIs(t, err, wantErr)
		assert.Nil(t, listener)
		assert.Equal(t, "tcp", gotNetwork)
		assert.Equal(t, "127.0.0.1:5555", gotAddress)
	})
}

// ListenPacketFunc binds a UDP socket and reports the ephemeral port.
func TestListenPacketFunc(t *testing.T) {
	t.Run("loopback", func(t *testing.T) {
		logger, records := newCapturingLogger()
		fn := NewListenPacketFunc(NewConfig(), logger)

		conn, err := fn.Call(context.Background(), netip.AddrPortFrom(loopback, 0))
		require.NoError(t, err)
		defer conn.Close()

		assert.NotZero(t, addrPortOf(conn.LocalAddr()).Port())
		done, ok := records.find("listenDone")
		require.True(t, ok)
		protocol, ok := recordAttr(done, "protocol")
		require.True(t, ok)
		assert.Equal(t, "udp", protocol.String())
	})

	t.Run("bind error", func(t *testing.T) {
		wantErr := errors.New("permission denied")
		cfg := NewConfig()
		cfg.Listener = &funcListener{
			ListenPacketFunc: func(ctx context.Context, network, address string) (net.PacketConn, error) {
				return nil, wantErr
			},
		}

		conn, err := NewListenPacketFunc(cfg, DefaultSLogger()).Call(
			context.Background(), netip.AddrPortFrom(loopback, 0))

		require.ErrorIs(t, err, wantErr)
		assert.Nil(t, conn)
	})
}
