// SPDX-License-Identifier: GPL-3.0-or-later

package framenet

import (
	"github.com/bassosimone/runtimex"
	"github.com/google/uuid"
)

// NewSpanID returns a UUIDv7 identifying a span.
//
// Attach it to a logger with [*slog.Logger.With] so that all the events of
// a connection or exchange share the same spanID. [NewWorker] also uses it
// to name anonymous workers.
//
// This function panics if the system random number generator fails,
// which should only happen under extraordinary circumstances.
func NewSpanID() string {
	return runtimex.PanicOnError1(uuid.NewV7()).String()
}
