// SPDX-License-Identifier: GPL-3.0-or-later

package framenet

import (
	"context"
	"fmt"
	"net"
	"net/netip"
)

// FreeTCPPort returns a TCP port that was free on addr at the time of
// the call. Another process may grab it before the caller binds it.
func FreeTCPPort(addr netip.Addr) (uint16, error) {
	listener, err := (&net.ListenConfig{}).Listen(context.Background(), "tcp", netip.AddrPortFrom(addr, 0).String())
	if err != nil {
		return 0, err
	}
	defer listener.Close()
	return addrPortOf(listener.Addr()).Port(), nil
}

// FreeUDPPort is like [FreeTCPPort] but for UDP.
func FreeUDPPort(addr netip.Addr) (uint16, error) {
	conn, err := (&net.ListenConfig{}).ListenPacket(context.Background(), "udp", netip.AddrPortFrom(addr, 0).String())
	if err != nil {
		return 0, err
	}
	defer conn.Close()
	return addrPortOf(conn.LocalAddr()).Port(), nil
}

// interfaceByAddr returns the network interface owning addr. It returns
// nil for the zero or unspecified address, which lets the kernel choose.
func interfaceByAddr(addr netip.Addr) (*net.Interface, error) {
	if !addr.IsValid() || addr.IsUnspecified() {
		return nil, nil
	}
	ifaces, err := net.Interfaces()
	if err != nil {
		return nil, err
	}
	for idx := range ifaces {
		addrs, err := ifaces[idx].Addrs()
		if err != nil {
			continue
		}
		for _, entry := range addrs {
			var ip net.IP
			switch v := entry.(type) {
			case *net.IPNet:
				ip = v.IP
			case *net.IPAddr:
				ip = v.IP
			}
			if candidate, ok := netip.AddrFromSlice(ip); ok && candidate.Unmap() == addr.Unmap() {
				return &ifaces[idx], nil
			}
		}
	}
	return nil, fmt.Errorf("framenet: no network interface has address %s", addr)
}
