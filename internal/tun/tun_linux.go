//go:build linux

package tun

import (
	"fmt"
	"os"
	"unsafe"

	"golang.org/x/sys/unix"
)

const (
	tunDevicePath = "/dev/net/tun"
	ifNameSize    = 16
)

// ifReq mirrors the kernel's struct ifreq as used by TUNSETIFF/SIOCSIFMTU: a 16-byte
// interface name followed by a union, here just the flags field we need.
type ifReq struct {
	Name  [ifNameSize]byte
	Flags uint16
	_     [22]byte // pad to sizeof(struct ifreq)
}

// linuxDevice implements Device by holding the /dev/net/tun file descriptor opened
// in TUN (layer-3, no packet info) mode.
type linuxDevice struct {
	f    *os.File
	name string
}

// Create opens a new TUN interface named wanted ("" lets the kernel choose).
func Create(wanted string) (Device, error) {
	f, err := os.OpenFile(tunDevicePath, os.O_RDWR, 0)
	if err != nil {
		return nil, fmt.Errorf("tun: open %s: %w", tunDevicePath, err)
	}

	var req ifReq
	copy(req.Name[:], wanted)
	req.Flags = unix.IFF_TUN | unix.IFF_NO_PI

	if err := ioctl(f.Fd(), unix.TUNSETIFF, uintptr(unsafe.Pointer(&req))); err != nil {
		f.Close()
		return nil, fmt.Errorf("tun: TUNSETIFF: %w", err)
	}

	name := nullTerminatedString(req.Name[:])
	return &linuxDevice{f: f, name: name}, nil
}

func (d *linuxDevice) Read(p []byte) (int, error)  { return d.f.Read(p) }
func (d *linuxDevice) Write(p []byte) (int, error) { return d.f.Write(p) }
func (d *linuxDevice) Close() error                { return d.f.Close() }
func (d *linuxDevice) Name() string                { return d.name }
func (d *linuxDevice) Fd() uintptr                 { return d.f.Fd() }

// SetMTU sets the interface MTU through a throwaway AF_INET socket issuing
// SIOCSIFMTU.
func (d *linuxDevice) SetMTU(mtu int) error {
	sock, err := unix.Socket(unix.AF_INET, unix.SOCK_DGRAM, 0)
	if err != nil {
		return fmt.Errorf("tun: socket: %w", err)
	}
	defer unix.Close(sock)

	var req struct {
		Name [ifNameSize]byte
		MTU  int32
		_    [20]byte
	}
	copy(req.Name[:], d.name)
	req.MTU = int32(mtu)

	if err := ioctl(uintptr(sock), unix.SIOCSIFMTU, uintptr(unsafe.Pointer(&req))); err != nil {
		return fmt.Errorf("tun: SIOCSIFMTU: %w", err)
	}
	return nil
}

func ioctl(fd uintptr, request uint, arg uintptr) error {
	_, _, errno := unix.Syscall(unix.SYS_IOCTL, fd, uintptr(request), arg)
	if errno != 0 {
		return errno
	}
	return nil
}

func nullTerminatedString(b []byte) string {
	for i, c := range b {
		if c == 0 {
			return string(b[:i])
		}
	}
	return string(b)
}
