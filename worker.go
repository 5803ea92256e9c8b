// SPDX-License-Identifier: GPL-3.0-or-later

package framenet

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// WorkerBody is the long-running function executed by a [*Worker].
//
// The body must observe ctx and return promptly once it is done. When the
// body blocks in a call that does not honour ctx, the owner must also unblock
// it forcefully (e.g., by closing a socket) when stopping.
type WorkerBody func(ctx context.Context) error

// WorkerEvent is the payload of [*Worker] general events.
//
// Informational events (e.g., starting a running worker) have a nil Err.
type WorkerEvent struct {
	// Name is the worker name.
	Name string

	// Message describes the event.
	Message string

	// Err is the error that caused the event, if any.
	Err error
}

// Worker runs a cancellable [WorkerBody] on a dedicated goroutine.
//
// A Worker executes at most one body at a time. It may be started and
// stopped any number of times until it is closed.
//
// Lifecycle notifications carry the worker name. They are delivered on the
// goroutine calling Start or Stop, outside of the worker locks, so a
// listener may safely query [*Worker.Running].
type Worker struct {
	// BeforeStart fires at the beginning of every Start call.
	BeforeStart *Notifier[string]

	// BeforeStop fires at the beginning of every Stop call.
	BeforeStop *Notifier[string]

	// Started fires once the body has been scheduled.
	Started *Notifier[string]

	// Stopped fires once the body has exited in response to Stop.
	Stopped *Notifier[string]

	// Events carries informational events and body failures.
	Events *Notifier[*WorkerEvent]

	body          WorkerBody
	errClassifier ErrClassifier
	logger        SLogger
	name          string
	stopTimeout   time.Duration
	timeNow       func() time.Time

	// transition serializes the start/stop state changes, including
	// waiting for the body to exit.
	transition sync.Mutex

	// mu protects cancel, done and closed.
	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
	closed bool
}

// NewWorker returns a new idle [*Worker].
//
// The cfg argument contains the common configuration.
//
// The name argument identifies the worker in events and logs; when empty,
// a name is generated using [NewSpanID].
//
// The body argument is the function to run.
//
// The logger argument is the [SLogger] to use for structured logging.
func NewWorker(cfg *Config, name string, body WorkerBody, logger SLogger) *Worker {
	if name == "" {
		name = "worker-" + NewSpanID()
	}
	return &Worker{
		BeforeStart:   NewNotifier[string](name+".beforeStart", logger),
		BeforeStop:    NewNotifier[string](name+".beforeStop", logger),
		Started:       NewNotifier[string](name+".started", logger),
		Stopped:       NewNotifier[string](name+".stopped", logger),
		Events:        NewNotifier[*WorkerEvent](name+".events", logger),
		body:          body,
		errClassifier: cfg.ErrClassifier,
		logger:        logger,
		name:          name,
		stopTimeout:   cfg.StopTimeout,
		timeNow:       cfg.TimeNow,
	}
}

// Name returns the worker name.
func (w *Worker) Name() string {
	return w.name
}

// Running returns whether the body is running.
func (w *Worker) Running() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.cancel != nil
}

// Start schedules the body on a new goroutine.
//
// Starting a running worker emits an informational event instead.
func (w *Worker) Start() {
	w.BeforeStart.Notify(w.name)
	if msg := w.start(); msg != "" {
		w.emit(msg, nil)
		return
	}
	w.logger.Info(
		"workerStarted",
		slog.String("worker", w.name),
		slog.Time("t", w.timeNow()),
	)
	w.Started.Notify(w.name)
}

func (w *Worker) start() string {
	w.transition.Lock()
	defer w.transition.Unlock()
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return fmt.Sprintf("%s is closed.", w.name)
	}
	if w.cancel != nil {
		return fmt.Sprintf("%s is already running.", w.name)
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	w.cancel, w.done = cancel, done
	go w.run(ctx, done)
	return ""
}

func (w *Worker) run(ctx context.Context, done chan struct{}) {
	defer close(done)
	defer func() {
		if r := recover(); r != nil {
			w.emit("An unhandled panic has occurred in the worker body.", fmt.Errorf("panic: %v", r))
		}
	}()
	err := w.body(ctx)
	if err != nil && !(ctx.Err() != nil && errors.Is(err, context.Canceled)) {
		w.emit("The worker body has failed.", err)
	}
}

// Stop cancels the body context and waits for the body to exit.
//
// A zero or negative timeout selects [Config.StopTimeout]. When the body
// does not exit in time, Stop emits an event and returns; the worker is
// idle from then on even though the old body may still be exiting.
//
// Stopping an idle worker emits an informational event instead.
func (w *Worker) Stop(timeout time.Duration) {
	w.BeforeStop.Notify(w.name)
	if timeout <= 0 {
		timeout = w.stopTimeout
	}
	t0 := w.timeNow()
	stopped, msg := w.stop(timeout)
	if !stopped {
		w.emit(msg, nil)
		return
	}
	w.logger.Info(
		"workerStopped",
		slog.String("worker", w.name),
		slog.Time("t0", t0),
		slog.Time("t", w.timeNow()),
	)
	w.Stopped.Notify(w.name)
}

func (w *Worker) stop(timeout time.Duration) (bool, string) {
	w.transition.Lock()
	defer w.transition.Unlock()

	w.mu.Lock()
	cancel, done := w.cancel, w.done
	w.cancel, w.done = nil, nil
	w.mu.Unlock()

	if cancel == nil {
		return false, fmt.Sprintf("%s is not running.", w.name)
	}
	cancel()

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-done:
		return true, ""
	case <-timer.C:
		return false, fmt.Sprintf("%s did not stop in time.", w.name)
	}
}

// Close stops the worker if it is running and prevents further starts.
//
// Close is idempotent and always returns nil.
func (w *Worker) Close() error {
	w.mu.Lock()
	w.closed = true
	running := w.cancel != nil
	w.mu.Unlock()
	if running {
		w.Stop(0)
	}
	return nil
}

func (w *Worker) emit(message string, err error) {
	w.logger.Info(
		"workerEvent",
		slog.String("worker", w.name),
		slog.String("message", message),
		slog.Any("err", err),
		slog.String("errClass", w.errClassifier.Classify(err)),
		slog.Time("t", w.timeNow()),
	)
	w.Events.Notify(&WorkerEvent{Name: w.name, Message: message, Err: err})
}
