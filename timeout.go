// SPDX-License-Identifier: GPL-3.0-or-later

package framenet

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/bassosimone/runtimex"
)

// NewTimeoutFunc returns a new [*TimeoutFunc].
//
// The cfg argument contains the common configuration.
//
// The timeout argument is the deadline for each call.
//
// The abort argument runs when the deadline expires before fn returns. It
// typically closes the connection fn is blocked on (e.g., [*StreamProcessor.Close]).
//
// The fn argument is the operation to bound.
//
// The logger argument is the [SLogger] to use for structured logging.
func NewTimeoutFunc[A, B any](cfg *Config, timeout time.Duration, abort func(), fn Func[A, B], logger SLogger) *TimeoutFunc[A, B] {
	runtimex.Assert(abort != nil)
	runtimex.Assert(fn != nil)
	return &TimeoutFunc[A, B]{
		Abort:         abort,
		ErrClassifier: cfg.ErrClassifier,
		Func:          fn,
		Logger:        logger,
		TimeNow:       cfg.TimeNow,
		Timeout:       timeout,
	}
}

// TimeoutFunc enforces a deadline on a single [Func] invocation.
//
// Each call produces exactly one outcome: the result of the wrapped
// function, its error, or a [*TimeoutError]. When the deadline expires
// before the wrapped function returns, TimeoutFunc cancels the context
// passed to it and invokes Abort exactly once; a panic inside Abort is
// recovered and logged. The call then waits for the wrapped function to
// return and reports a [*TimeoutError] whose Cause is the function error.
//
// All fields are safe to modify after construction but before first use.
// Fields must not be mutated concurrently with calls to [Call].
type TimeoutFunc[A, B any] struct {
	// Abort is invoked when the deadline expires.
	//
	// Set by [NewTimeoutFunc] to the user-provided callback.
	Abort func()

	// ErrClassifier classifies errors for structured logging.
	//
	// Set by [NewTimeoutFunc] from [Config.ErrClassifier].
	ErrClassifier ErrClassifier

	// Func is the wrapped operation.
	//
	// Set by [NewTimeoutFunc] to the user-provided [Func].
	Func Func[A, B]

	// Logger is the [SLogger] to use.
	//
	// Set by [NewTimeoutFunc] to the user-provided logger.
	Logger SLogger

	// TimeNow is the function to get the current time.
	//
	// Set by [NewTimeoutFunc] from [Config.TimeNow].
	TimeNow func() time.Time

	// Timeout is the deadline of each call.
	//
	// Set by [NewTimeoutFunc] to the user-provided value.
	Timeout time.Duration
}

var _ Func[int, int] = &TimeoutFunc[int, int]{}

// Call invokes the wrapped [Func] with a deadline.
func (op *TimeoutFunc[A, B]) Call(ctx context.Context, input A) (B, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var (
		mu       sync.Mutex
		finished bool
		timedOut bool
		aborted  = make(chan struct{})
	)

	t0 := op.TimeNow()
	op.logStart(t0)

	timer := time.AfterFunc(op.Timeout, func() {
		mu.Lock()
		if finished {
			mu.Unlock()
			return
		}
		timedOut = true
		mu.Unlock()
		defer close(aborted)
		cancel()
		op.abort()
	})

	result, err := op.Func.Call(ctx, input)
	timer.Stop()

	mu.Lock()
	finished = true
	expired := timedOut
	mu.Unlock()

	if expired {
		<-aborted
		var zero B
		result, err = zero, &TimeoutError{Duration: op.Timeout, Cause: err}
	}
	op.logDone(t0, expired, err)
	return result, err
}

func (op *TimeoutFunc[A, B]) abort() {
	defer func() {
		if r := recover(); r != nil {
			op.Logger.Info(
				"timeoutAbortPanic",
				slog.Any("panic", r),
				slog.Time("t", op.TimeNow()),
			)
		}
	}()
	op.Logger.Info(
		"timeoutAbort",
		slog.Duration("timeout", op.Timeout),
		slog.Time("t", op.TimeNow()),
	)
	op.Abort()
}

func (op *TimeoutFunc[A, B]) logStart(t0 time.Time) {
	op.Logger.Info(
		"timeoutExecuteStart",
		slog.Duration("timeout", op.Timeout),
		slog.Time("t", t0),
	)
}

func (op *TimeoutFunc[A, B]) logDone(t0 time.Time, timedOut bool, err error) {
	op.Logger.Info(
		"timeoutExecuteDone",
		slog.Any("err", err),
		slog.String("errClass", op.ErrClassifier.Classify(err)),
		slog.Duration("timeout", op.Timeout),
		slog.Bool("timedOut", timedOut),
		slog.Time("t0", t0),
		slog.Time("t", op.TimeNow()),
	)
}

// ExecuteWithTimeout runs op with a deadline using a [*TimeoutFunc].
//
// Use [Unit] as B for operations without a result.
func ExecuteWithTimeout[B any](ctx context.Context, cfg *Config, timeout time.Duration,
	abort func(), op func(ctx context.Context) (B, error), logger SLogger) (B, error) {
	fn := FuncAdapter[Unit, B](func(ctx context.Context, _ Unit) (B, error) {
		return op(ctx)
	})
	return NewTimeoutFunc(cfg, timeout, abort, Func[Unit, B](fn), logger).Call(ctx, Unit{})
}
