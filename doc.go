// SPDX-License-Identifier: GPL-3.0-or-later

// Package framenet provides framed message transport over TCP and UDP.
//
// # Framing
//
// A stream connection delivers bytes, not messages. A [Framer] turns the
// byte stream back into frames:
//
//   - [BeginEndFramer]: frames shaped as [begin][payload][end]
//   - [BeginLengthFramer]: frames shaped as [begin][uint16 LE length][payload]
//
// Both detect markers through a [Matcher]. The default [PatternMatcher]
// resets on a mismatch, which is correct for markers that do not overlap
// with themselves (e.g., a single STX byte). Use [WithMatcherFactory] and
// [NewKMPMatcher] for self-overlapping markers.
//
// # Messages
//
// An [Encoder] converts typed messages to and from frames or datagrams.
// The package bundles [TextEncoder], [MsgpackEncoder], [DNSEncoder] and
// the [CompressEncoder] decorator.
//
// [StreamProcessor] sends and receives messages over a TCP connection,
// either dialed with Connect or accepted by a [TCPServer].
// [DatagramProcessor] does the same over UDP, one message per datagram.
//
// # Servers
//
// [TCPServer], [UDPServer] and [UDPMessageServer] run a listening loop on a
// [Worker] and publish what they receive through [Notifier] fields to
// which callers subscribe. [MulticastReceiver] and [MulticastSender] cover
// IPv4 multicast. The [LoopStrategy] selects between polling with short
// deadlines and blocking until the socket is closed on Stop.
//
// Transient loop errors are published as [ServerEvent] values and followed
// by a short backoff; the loop keeps running until Stop.
//
// # Timeouts
//
// Every blocking operation takes a [context.Context]; when the context is
// done the pending I/O fails with the context error. [TimeoutFunc] and
// [ExecuteWithTimeout] additionally bound an operation with a deadline
// and invoke an abort callback (e.g., closing the processor) on expiry.
//
// # Observability
//
// All components log through [SLogger] (compatible with [log/slog]),
// which is disabled by default. Lifecycle events (connect, listen, accept,
// worker start and stop, message send and receive, decoding errors) use
// [slog.LevelInfo] as *Start/*Done pairs carrying t0, t, err and errClass.
// I/O-level events use [slog.LevelDebug]. Set [Config.Metrics] to collect
// Prometheus metrics about servers.
package framenet
