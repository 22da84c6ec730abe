//go:build !linux && !windows

// Package network holds socket helpers shared by the local listeners.
package network

import "net"

// ReuseAddrListenConfig returns a plain listen config; BSD-derived systems
// rebind TIME_WAIT ports without help.
func ReuseAddrListenConfig() net.ListenConfig {
	return net.ListenConfig{}
}
