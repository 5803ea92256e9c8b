// SPDX-License-Identifier: GPL-3.0-or-later

package framenet

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrFramerRequired is returned when receiving from a stream without a [Framer].
	//
	// This is a programming error rather than a protocol failure.
	ErrFramerRequired = errors.New("framenet: a framer is required to receive messages")

	// ErrDecode wraps the errors returned by [Encoder.Decode].
	ErrDecode = errors.New("framenet: cannot decode message")

	// ErrTimeout is matched by every [*TimeoutError].
	ErrTimeout = errors.New("framenet: operation timed out")

	// ErrFrameTooLarge indicates that a frame does not fit the framer buffer.
	ErrFrameTooLarge = errors.New("framenet: frame exceeds the framer buffer size")

	// ErrPayloadTooLarge indicates that a payload cannot be represented
	// using a 2-byte length prefix.
	ErrPayloadTooLarge = errors.New("framenet: payload exceeds 65535 bytes")

	// ErrClosed is returned when using a closed processor or sender.
	ErrClosed = errors.New("framenet: use of closed processor")

	// ErrNotConnected is returned when sending or receiving on a stream
	// processor without a connection.
	ErrNotConnected = errors.New("framenet: processor is not connected")

	// ErrAlreadyConnected is returned when connecting a stream processor
	// that already owns a connection.
	ErrAlreadyConnected = errors.New("framenet: processor is already connected")
)

// TimeoutError is returned by [*TimeoutFunc] when the deadline expires
// before the operation completes.
//
// Use [errors.Is] with [ErrTimeout] to test for timeouts and [errors.Unwrap]
// to obtain the error returned by the aborted operation, if any.
type TimeoutError struct {
	// Duration is the deadline that expired.
	Duration time.Duration

	// Cause is the error returned by the operation after the abort, if any.
	Cause error
}

var _ error = &TimeoutError{}

// Error implements error.
func (e *TimeoutError) Error() string {
	if e.Cause == nil {
		return fmt.Sprintf("%s after %s", ErrTimeout.Error(), e.Duration)
	}
	return fmt.Sprintf("%s after %s: %s", ErrTimeout.Error(), e.Duration, e.Cause.Error())
}

// Unwrap returns the underlying cause.
func (e *TimeoutError) Unwrap() error {
	return e.Cause
}

// Is allows matching against [ErrTimeout].
func (e *TimeoutError) Is(target error) bool {
	return target == ErrTimeout
}

// Timeout mimics [net.Error] so that generic timeout checks work.
func (e *TimeoutError) Timeout() bool {
	return true
}

func newDecodeError(err error) error {
	return fmt.Errorf("%w: %w", ErrDecode, err)
}

func newEncodeError(err error) error {
	return fmt.Errorf("framenet: cannot encode message: %w", err)
}
