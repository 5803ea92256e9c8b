//go:build !unix && !windows

// SPDX-License-Identifier: GPL-3.0-or-later

package framenet

import "syscall"

func reuseAddrControl(network, address string, conn syscall.RawConn) error {
	return nil
}
