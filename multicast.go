// SPDX-License-Identifier: GPL-3.0-or-later

package framenet

import (
	"context"
	"log/slog"
	"net"
	"net/netip"
	"time"

	"github.com/bassosimone/runtimex"
	"golang.org/x/net/ipv4"
)

// DefaultMulticastTTL is the multicast TTL used when none is given, which
// keeps datagrams within the local network.
const DefaultMulticastTTL = 1

// NewMulticastReceiver returns a new [*MulticastReceiver].
//
// The cfg argument contains the common configuration. The receiver always
// uses [StrategyBlocking] and allocates [Config.ReceiveBufferSize] bytes
// per datagram.
//
// The name argument identifies the receiver in events, logs and metrics.
//
// The group argument is the IPv4 multicast group to join.
//
// The iface argument is the address of the interface joining the group;
// the unspecified address lets the kernel choose.
//
// The port argument is the port to bind, with address reuse enabled so
// several receivers on the same host can share it.
//
// The encoder argument decodes datagrams and must not be nil.
//
// The logger argument is the [SLogger] to use for structured logging.
func NewMulticastReceiver[T any](cfg *Config, name string, group, iface netip.Addr,
	port uint16, encoder Encoder[T], logger SLogger) *MulticastReceiver[T] {
	runtimex.Assert(group.Is4() && group.IsMulticast())
	rcfg := *cfg
	rcfg.Strategy = StrategyBlocking
	us := NewUDPServer(&rcfg, name, iface, port, rcfg.ReceiveBufferSize, logger)
	us.listen = newMulticastListenFunc(&rcfg, group, iface, logger)
	return &MulticastReceiver[T]{
		UDPMessageServer: newUDPMessageServer(us, encoder, logger),
		Group:            group,
		Interface:        iface,
	}
}

// MulticastReceiver is a [*UDPMessageServer] that joins a multicast group
// every time it starts.
type MulticastReceiver[T any] struct {
	*UDPMessageServer[T]

	// Group is the joined multicast group.
	Group netip.Addr

	// Interface is the address of the joining interface.
	Interface netip.Addr
}

// newMulticastListenFunc returns the bind pipeline of [*MulticastReceiver].
//
// The socket binds the wildcard address on the requested port since, on
// most systems, a socket bound to a unicast address does not receive
// datagrams sent to a group.
func newMulticastListenFunc(cfg *Config, group, iface netip.Addr, logger SLogger) Func[netip.AddrPort, net.PacketConn] {
	lcfg := *cfg
	lcfg.Listener = &net.ListenConfig{Control: reuseAddrControl}
	wildcard := FuncAdapter[netip.AddrPort, netip.AddrPort](
		func(ctx context.Context, addr netip.AddrPort) (netip.AddrPort, error) {
			return netip.AddrPortFrom(netip.IPv4Unspecified(), addr.Port()), nil
		})
	join := &joinGroupFunc{
		errClassifier: cfg.ErrClassifier,
		group:         group,
		iface:         iface,
		logger:        logger,
		timeNow:       cfg.TimeNow,
	}
	return Compose3[netip.AddrPort, netip.AddrPort, net.PacketConn, net.PacketConn](
		wildcard, NewListenPacketFunc(&lcfg, logger), join)
}

// joinGroupFunc joins a multicast group on a bound socket and closes the
// socket on failure.
type joinGroupFunc struct {
	errClassifier ErrClassifier
	group         netip.Addr
	iface         netip.Addr
	logger        SLogger
	timeNow       func() time.Time
}

var _ Func[net.PacketConn, net.PacketConn] = &joinGroupFunc{}

func (op *joinGroupFunc) Call(ctx context.Context, conn net.PacketConn) (net.PacketConn, error) {
	t0 := op.timeNow()
	err := op.join(conn)
	op.logger.Info(
		"joinGroupDone",
		slog.Any("err", err),
		slog.String("errClass", op.errClassifier.Classify(err)),
		slog.String("group", op.group.String()),
		slog.String("iface", op.iface.String()),
		slog.String("localAddr", conn.LocalAddr().String()),
		slog.Time("t0", t0),
		slog.Time("t", op.timeNow()),
	)
	if err != nil {
		conn.Close()
		return nil, err
	}
	return conn, nil
}

func (op *joinGroupFunc) join(conn net.PacketConn) error {
	ifi, err := interfaceByAddr(op.iface)
	if err != nil {
		return err
	}
	return ipv4.NewPacketConn(conn).JoinGroup(ifi, &net.UDPAddr{IP: net.IP(op.group.AsSlice())})
}

// NewMulticastSender returns a new [*MulticastSender].
//
// The cfg argument contains the common configuration.
//
// The group and port arguments select the destination.
//
// The iface argument is the address of the outgoing interface; the
// unspecified address lets the kernel choose.
//
// The encoder argument encodes messages and must not be nil.
//
// The ttl argument is the multicast TTL; zero or negative selects
// [DefaultMulticastTTL].
//
// The logger argument is the [SLogger] to use for structured logging.
func NewMulticastSender[T any](cfg *Config, group, iface netip.Addr, port uint16,
	encoder Encoder[T], ttl int, logger SLogger) (*MulticastSender[T], error) {
	runtimex.Assert(group.Is4() && group.IsMulticast())
	if ttl <= 0 {
		ttl = DefaultMulticastTTL
	}
	ifi, err := interfaceByAddr(iface)
	if err != nil {
		return nil, err
	}
	conn, err := NewListenPacketFunc(cfg, logger).Call(
		context.Background(), netip.AddrPortFrom(netip.IPv4Unspecified(), 0))
	if err != nil {
		return nil, err
	}
	pconn := ipv4.NewPacketConn(conn)
	if err := configureMulticastSender(pconn, ifi, ttl); err != nil {
		conn.Close()
		return nil, err
	}
	logger.Info(
		"multicastSenderReady",
		slog.String("group", group.String()),
		slog.String("iface", iface.String()),
		slog.String("localAddr", conn.LocalAddr().String()),
		slog.Int("ttl", ttl),
		slog.Time("t", cfg.TimeNow()),
	)
	return &MulticastSender[T]{
		Group:     netip.AddrPortFrom(group, port),
		TTL:       ttl,
		processor: NewDatagramProcessorWithConn(cfg, conn, encoder, logger),
	}, nil
}

func configureMulticastSender(pconn *ipv4.PacketConn, ifi *net.Interface, ttl int) error {
	if ifi != nil {
		if err := pconn.SetMulticastInterface(ifi); err != nil {
			return err
		}
	}
	if err := pconn.SetMulticastTTL(ttl); err != nil {
		return err
	}
	return pconn.SetMulticastLoopback(true)
}

// MulticastSender sends messages of type T to a multicast group.
//
// Loopback is enabled so that receivers on the sending host get the
// messages too.
type MulticastSender[T any] struct {
	// Group is the destination group and port.
	Group netip.AddrPort

	// TTL is the multicast TTL.
	TTL int

	processor *DatagramProcessor[T]
}

// Send encodes message and sends it to the group.
func (ms *MulticastSender[T]) Send(ctx context.Context, message T) error {
	return ms.processor.SendTo(ctx, message, ms.Group)
}

// SetSendBufferSize replaces the send buffer with one of the given size.
func (ms *MulticastSender[T]) SetSendBufferSize(size int) {
	ms.processor.SetSendBufferSize(size)
}

// LocalAddr returns the local endpoint of the sending socket.
func (ms *MulticastSender[T]) LocalAddr() netip.AddrPort {
	return ms.processor.LocalAddr()
}

// Close closes the sending socket.
func (ms *MulticastSender[T]) Close() error {
	return ms.processor.Close()
}
