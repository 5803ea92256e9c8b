// SPDX-License-Identifier: GPL-3.0-or-later

package framenet

import (
	"context"
	"errors"
	"os"
	"time"
)

// interruptOnCancel arranges for pending I/O in one direction to fail as
// soon as ctx is done by forcing a deadline in the past through
// setDeadline, which is either SetReadDeadline or SetWriteDeadline of
// the connection. The other direction is never touched, so a concurrent
// operation in the opposite direction keeps running.
//
// The returned function must be called once the I/O completes. It
// unregisters the watcher, clears the forced deadline if the watcher
// fired, and maps the resulting deadline error to the context error.
func interruptOnCancel(ctx context.Context, setDeadline func(t time.Time) error) func(err error) error {
	fired := make(chan struct{})
	stop := context.AfterFunc(ctx, func() {
		defer close(fired)
		setDeadline(time.Unix(1, 0))
	})
	return func(err error) error {
		if stop() {
			return err
		}
		<-fired
		setDeadline(time.Time{})
		if err != nil && errors.Is(err, os.ErrDeadlineExceeded) {
			return ctx.Err()
		}
		return err
	}
}

// closeOnCancel calls closefn once ctx is done and returns a function
// unregistering the watcher. The optional before function runs first.
//
// Servers use it to unblock an accept or receive loop that does not
// observe ctx. Closing an already-closed socket returns [net.ErrClosed],
// hence the watcher is harmless when the owner also closes the socket.
func closeOnCancel(ctx context.Context, closefn func() error, before func()) (stop func() bool) {
	return context.AfterFunc(ctx, func() {
		if before != nil {
			before()
		}
		closefn()
	})
}
