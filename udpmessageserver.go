// SPDX-License-Identifier: GPL-3.0-or-later

package framenet

import (
	"log/slog"
	"net/netip"

	"github.com/bassosimone/runtimex"
)

// DecodingError is the payload of [*UDPMessageServer] decoding failures.
//
// A listener that deals with the failure sets Handled. Unhandled
// failures are also reported through the server Events.
type DecodingError struct {
	// Err wraps [ErrDecode] and the encoder error.
	Err error

	// Data contains the datagram that could not be decoded.
	Data []byte

	// RemoteAddr is the address of the sender.
	RemoteAddr netip.AddrPort

	// Handled is set by listeners that handled the failure.
	Handled bool
}

// NewUDPMessageServer returns a new [*UDPMessageServer].
//
// The arguments are like [NewUDPServer] plus the encoder decoding each
// datagram, which must not be nil.
func NewUDPMessageServer[T any](cfg *Config, name string, addr netip.Addr, port uint16,
	maxDatagramSize int, encoder Encoder[T], logger SLogger) *UDPMessageServer[T] {
	return newUDPMessageServer(NewUDPServer(cfg, name, addr, port, maxDatagramSize, logger), encoder, logger)
}

func newUDPMessageServer[T any](us *UDPServer, encoder Encoder[T], logger SLogger) *UDPMessageServer[T] {
	runtimex.Assert(encoder != nil)
	ms := &UDPMessageServer[T]{
		UDPServer:       us,
		MessageReceived: NewNotifier[*ReceivedMessage[T]](us.name+".messageReceived", logger),
		DecodingError:   NewNotifier[*DecodingError](us.name+".decodingError", logger),
		encoder:         encoder,
	}
	us.DatagramReceived.Subscribe(ms.decode)
	return ms
}

// UDPMessageServer is a [*UDPServer] decoding each datagram as a message of type T.
//
// Decoded messages are delivered to MessageReceived on a new goroutine.
// Decoding failures are delivered synchronously to DecodingError.
type UDPMessageServer[T any] struct {
	*UDPServer

	// MessageReceived fires for each decoded message.
	MessageReceived *Notifier[*ReceivedMessage[T]]

	// DecodingError fires for each datagram that cannot be decoded.
	DecodingError *Notifier[*DecodingError]

	encoder Encoder[T]
}

func (ms *UDPMessageServer[T]) decode(datagram *Datagram) {
	message, err := ms.encoder.Decode(datagram.Data)
	if err == nil {
		go ms.MessageReceived.Notify(&ReceivedMessage[T]{Message: message, RemoteAddr: datagram.RemoteAddr})
		return
	}

	derr := &DecodingError{
		Err:        newDecodeError(err),
		Data:       datagram.Data,
		RemoteAddr: datagram.RemoteAddr,
	}
	ms.DecodingError.Notify(derr)
	ms.metrics.decodingError(ms.name, derr.Handled)
	ms.logger.Info(
		"decodeError",
		slog.Any("err", derr.Err),
		slog.String("errClass", ms.errClassifier.Classify(derr.Err)),
		slog.Bool("handled", derr.Handled),
		slog.Int("ioBytesCount", len(datagram.Data)),
		slog.String("remoteAddr", datagram.RemoteAddr.String()),
		slog.String("server", ms.name),
		slog.Time("t", ms.timeNow()),
	)
	if !derr.Handled {
		ms.emit("Cannot decode the received datagram.", derr.Err)
	}
}
