// Package tun abstracts the point-to-point virtual network interface the tunnel
// endpoints read and write IP datagrams through.
package tun

import "io"

// Device is one point-to-point TUN interface. Read returns exactly one IP
// datagram per call; Write accepts exactly one IP datagram per call.
type Device interface {
	io.ReadWriteCloser
	// Name returns the kernel-assigned or requested interface name.
	Name() string
	// SetMTU sets the interface MTU.
	SetMTU(mtu int) error
	// Fd returns the raw descriptor backing the device, for the event loop's
	// poll(2) multiplexing.
	Fd() uintptr
}
