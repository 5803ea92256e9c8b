// SPDX-License-Identifier: GPL-3.0-or-later

package framenet

import (
	"context"
	"io"
	"log/slog"
	"net"
	"net/netip"
	"sync"
	"testing"
	"time"

	"github.com/bassosimone/netstub"
	"github.com/bassosimone/slogstub"
	"github.com/stretchr/testify/require"
)

// recordLog collects the records emitted through a capturing logger. It
// is safe for concurrent use since servers log from their own goroutines.
type recordLog struct {
	mu      sync.Mutex
	records []slog.Record
}

func (rl *recordLog) add(record slog.Record) {
	rl.mu.Lock()
	rl.records = append(rl.records, record)
	rl.mu.Unlock()
}

// messages returns the messages of the captured records in order.
func (rl *recordLog) messages() []string {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	out := make([]string, 0, len(rl.records))
	for _, record := range rl.records {
		out = append(out, record.Message)
	}
	return out
}

// find returns the first record with the given message.
func (rl *recordLog) find(message string) (slog.Record, bool) {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	for _, record := range rl.records {
		if record.Message == message {
			return record, true
		}
	}
	return slog.Record{}, false
}

// recordAttr returns the value of the named attribute of record.
func recordAttr(record slog.Record, key string) (slog.Value, bool) {
	var (
		value slog.Value
		found bool
	)
	record.Attrs(func(attr slog.Attr) bool {
		if attr.Key == key {
			value, found = attr.Value, true
			return false
		}
		return true
	})
	return value, found
}

// newCapturingLogger returns a logger capturing all log records into the
// returned [*recordLog]. The caller can inspect it after exercising the
// code under test to verify which events were emitted.
func newCapturingLogger() (*slog.Logger, *recordLog) {
	records := &recordLog{}
	handler := &slogstub.FuncHandler{
		EnabledFunc: func(ctx context.Context, level slog.Level) bool {
			return true
		},
		HandleFunc: func(ctx context.Context, record slog.Record) error {
			records.add(record)
			return nil
		},
	}
	return slog.New(handler), records
}

// newMinimalConn returns a [*netstub.FuncConn] with only LocalAddrFunc and
// RemoteAddrFunc set. This is the minimum needed for code that calls
// [safeconn.LocalAddr], [safeconn.RemoteAddr], and [safeconn.Network].
func newMinimalConn() *netstub.FuncConn {
	return &netstub.FuncConn{
		LocalAddrFunc:  func() net.Addr { return &net.TCPAddr{} },
		RemoteAddrFunc: func() net.Addr { return &net.TCPAddr{} },
	}
}

// newScriptedConn returns a [*netstub.FuncConn] whose reads return the
// given chunks in order and then [io.EOF], and whose writes are appended
// to the returned buffer.
func newScriptedConn(chunks ...[]byte) (*netstub.FuncConn, *[]byte) {
	var (
		mu      sync.Mutex
		written []byte
	)
	conn := newMinimalConn()
	conn.ReadFunc = func(buf []byte) (int, error) {
		mu.Lock()
		defer mu.Unlock()
		if len(chunks) <= 0 {
			return 0, io.EOF
		}
		count := copy(buf, chunks[0])
		chunks[0] = chunks[0][count:]
		if len(chunks[0]) <= 0 {
			chunks = chunks[1:]
		}
		return count, nil
	}
	conn.WriteFunc = func(data []byte) (int, error) {
		mu.Lock()
		defer mu.Unlock()
		written = append(written, data...)
		return len(data), nil
	}
	conn.CloseFunc = func() error { return nil }
	conn.SetDeadlineFunc = func(t time.Time) error { return nil }
	conn.SetReadDeadFunc = func(t time.Time) error { return nil }
	conn.SetWriteDeaFunc = func(t time.Time) error { return nil }
	return conn, &written
}

// loopback is the IPv4 loopback address used by socket tests.
var loopback = netip.MustParseAddr("127.0.0.1")

// newTestConfig returns a [*Config] with short loop timings.
func newTestConfig() *Config {
	cfg := NewConfig()
	cfg.ErrorBackoff = 10 * time.Millisecond
	cfg.StopTimeout = 2 * time.Second
	return cfg
}

// startTCPServer starts a TCP server on an ephemeral loopback port and
// stops it when the test completes.
func startTCPServer(t *testing.T, cfg *Config, logger SLogger) *TCPServer {
	t.Helper()
	server := NewTCPServer(cfg, "test-tcp", loopback, 0, logger)
	return startAndCleanup(t, server)
}

func startAndCleanup[S interface {
	Start() error
	Close() error
}](t *testing.T, server S) S {
	t.Helper()
	require.NoError(t, server.Start())
	t.Cleanup(func() { server.Close() })
	return server
}
