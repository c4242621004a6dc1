// Package transport provides the tunnel's TCP listener and dialer: SO_REUSEADDR
// on the listener, IPV6_V6ONLY disabled, TCP_NODELAY and keepalives on every
// connection.
package transport

import (
	"context"
	"net"
	"syscall"
	"time"

	"golang.org/x/sys/unix"
)

// keepaliveInterval is short enough to notice a dead peer well inside the
// connection timeout.
const keepaliveInterval = 3 * time.Second

// Listen opens a passive TCP listener on addr (host:port, host may be empty to
// bind all interfaces), with SO_REUSEADDR and IPV6_V6ONLY=0 applied via a
// Control callback.
func Listen(ctx context.Context, addr string) (net.Listener, error) {
	lc := net.ListenConfig{
		Control: func(network, address string, c syscall.RawConn) error {
			var ctrlErr error
			err := c.Control(func(fd uintptr) {
				if setErr := unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); setErr != nil {
					ctrlErr = setErr
					return
				}
				if network == "tcp6" {
					if setErr := unix.SetsockoptInt(int(fd), unix.IPPROTO_IPV6, unix.IPV6_V6ONLY, 0); setErr != nil {
						ctrlErr = setErr
						return
					}
				}
			})
			if err != nil {
				return err
			}
			return ctrlErr
		},
	}
	return lc.Listen(ctx, "tcp", addr)
}

// Dial actively connects to addr. When bufferbloatControl is set the kernel send
// buffer is shrunk so backpressure surfaces quickly instead of being absorbed by
// deep buffering.
func Dial(ctx context.Context, addr string, bufferbloatControl bool) (net.Conn, error) {
	d := net.Dialer{Timeout: 10 * time.Second}
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, err
	}
	tcpConn := conn.(*net.TCPConn)
	if err := tcpOpts(tcpConn); err != nil {
		conn.Close()
		return nil, err
	}
	if bufferbloatControl {
		if err := shrinkSendBuffer(tcpConn); err != nil {
			conn.Close()
			return nil, err
		}
	}
	return conn, nil
}

// shrinkSendBuffer caps the kernel send buffer so a congested link surfaces
// backpressure to the partial-write path quickly.
func shrinkSendBuffer(conn *net.TCPConn) error {
	raw, err := conn.SyscallConn()
	if err != nil {
		return err
	}
	var setErr error
	err = raw.Control(func(fd uintptr) {
		setErr = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_SNDBUF, 4096)
	})
	if err != nil {
		return err
	}
	return setErr
}

// tcpOpts applies the low-latency options: no-delay and keepalives.
func tcpOpts(conn *net.TCPConn) error {
	if err := conn.SetNoDelay(true); err != nil {
		return err
	}
	if err := conn.SetKeepAlive(true); err != nil {
		return err
	}
	return conn.SetKeepAlivePeriod(keepaliveInterval)
}
