// SPDX-License-Identifier: GPL-3.0-or-later

package framenet

import (
	"context"
	"errors"
	"net"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// deadlineRecorder returns a deadline setter recording the deadlines it
// receives and a function returning them.
func deadlineRecorder() (func(t time.Time) error, func() []time.Time) {
	var (
		mu        sync.Mutex
		deadlines []time.Time
	)
	set := func(t time.Time) error {
		mu.Lock()
		deadlines = append(deadlines, t)
		mu.Unlock()
		return nil
	}
	return set, func() []time.Time {
		mu.Lock()
		defer mu.Unlock()
		return append([]time.Time{}, deadlines...)
	}
}

// The I/O error is returned unchanged when the context is never done.
func TestInterruptOnCancelNotFired(t *testing.T) {
	set, deadlines := deadlineRecorder()
	wantErr := errors.New("mocked error")

	finish := interruptOnCancel(context.Background(), set)

	require.ErrorIs(t, finish(wantErr), wantErr)
	assert.Empty(t, deadlines())
}

// A done context forces a past deadline, which is cleared afterwards,
// and the deadline error becomes the context error.
func TestInterruptOnCancelFired(t *testing.T) {
	set, deadlines := deadlineRecorder()
	ctx, cancel := context.WithCancel(context.Background())

	finish := interruptOnCancel(ctx, set)
	cancel()
	require.Eventually(t, func() bool { return len(deadlines()) >= 1 }, time.Second, time.Millisecond)

	err := finish(&net.OpError{Op: "read", Err: os.ErrDeadlineExceeded})

	require.ErrorIs(t, err, context.Canceled)
	got := deadlines()
	require.Len(t, got, 2)
	assert.True(t, got[0].Before(time.Now()))
	assert.True(t, got[1].IsZero())
}

// Success after cancellation still clears the forced deadline.
func TestInterruptOnCancelFiredWithoutError(t *testing.T) {
	set, deadlines := deadlineRecorder()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	finish := interruptOnCancel(ctx, set)
	require.Eventually(t, func() bool { return len(deadlines()) >= 1 }, time.Second, time.Millisecond)

	require.NoError(t, finish(nil))
	assert.True(t, deadlines()[1].IsZero())
}

// Interrupting one direction leaves the deadlines of the other alone.
func TestInterruptOnCancelSingleDirection(t *testing.T) {
	setRead, reads := deadlineRecorder()
	setWrite, writes := deadlineRecorder()
	conn := newMinimalConn()
	conn.SetReadDeadFunc = setRead
	conn.SetWriteDeaFunc = setWrite
	conn.SetDeadlineFunc = func(deadline time.Time) error {
		t.Error("must not set both deadlines")
		return nil
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	finish := interruptOnCancel(ctx, conn.SetReadDeadline)
	require.Eventually(t, func() bool { return len(reads()) >= 1 }, time.Second, time.Millisecond)
	require.ErrorIs(t, finish(os.ErrDeadlineExceeded), context.Canceled)

	assert.Len(t, reads(), 2)
	assert.Empty(t, writes())
}

// closeOnCancel runs the before hook and then closes.
func TestCloseOnCancel(t *testing.T) {
	var (
		mu    sync.Mutex
		order []string
	)
	record := func(what string) {
		mu.Lock()
		order = append(order, what)
		mu.Unlock()
	}
	closed := make(chan struct{})

	ctx, cancel := context.WithCancel(context.Background())
	stop := closeOnCancel(ctx, func() error {
		record("close")
		close(closed)
		return nil
	}, func() { record("before") })
	defer stop()

	cancel()
	select {
	case <-closed:
	case <-time.After(time.Second):
		t.Fatal("close not called")
	}
	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"before", "close"}, order)
}

// Stopping the watcher before cancellation prevents closing.
func TestCloseOnCancelStopped(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	stop := closeOnCancel(ctx, func() error {
		t.Error("should not close")
		return nil
	}, nil)
	assert.True(t, stop())
	cancel()
	time.Sleep(10 * time.Millisecond)
}
