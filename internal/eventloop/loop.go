// Package eventloop implements the single-threaded, poll(2)-multiplexed loop that
// services the TUN device, the listening socket, and the peer socket.
package eventloop

import (
	"errors"
	"net"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sys/unix"

	"github.com/PacketPlayground/dsvpn/internal/crypto"
	"github.com/PacketPlayground/dsvpn/internal/ioutil"
	"github.com/PacketPlayground/dsvpn/internal/session"
	"github.com/PacketPlayground/dsvpn/internal/tun"
	"github.com/PacketPlayground/dsvpn/internal/wire"
)

// pollTimeout bounds each poll(2) wake so the exit flag is observed promptly.
const pollTimeout = 1500 * time.Millisecond

// outcome is the small-integer signal each branch of the loop body returns;
// errors never unwind through the loop.
type outcome int

const (
	outcomeContinue outcome = iota
	outcomeReconnect
	outcomeTerminal
)

const (
	idxTun = iota
	idxListener
	idxPeer
	idxCount
)

// Loop drives the TUN handle, the listening socket (server only), and the peer
// socket. It owns the live Session exclusively: the session is replaced, never
// shared, on accept or reconnect.
type Loop struct {
	tun      tun.Device
	listener net.Listener
	hs       *crypto.State
	exit     *atomic.Bool
	log      zerolog.Logger

	sess *session.Session

	pfds [idxCount]unix.PollFd
}

// New builds a Loop. listener must be non-nil for a server role and nil for a
// client role.
func New(device tun.Device, listener net.Listener, hs *crypto.State, exit *atomic.Bool, log zerolog.Logger) *Loop {
	l := &Loop{tun: device, listener: listener, hs: hs, exit: exit, log: log}
	l.pfds[idxTun] = unix.PollFd{Fd: int32(device.Fd()), Events: unix.POLLIN}
	l.pfds[idxListener] = unix.PollFd{Fd: -1}
	l.pfds[idxPeer] = unix.PollFd{Fd: -1}
	if listener != nil {
		if fd, err := rawFd(listener); err == nil {
			l.pfds[idxListener] = unix.PollFd{Fd: int32(fd), Events: unix.POLLIN}
		}
	}
	return l
}

// AttachSession arms the peer poll entry for an already-connected Session, used
// both by the initial connect and by every successful reconnect.
func (l *Loop) AttachSession(s *session.Session) {
	l.sess = s
	fd, err := rawFd(s.Conn)
	if err != nil {
		l.pfds[idxPeer] = unix.PollFd{Fd: -1}
		return
	}
	l.pfds[idxPeer] = unix.PollFd{Fd: int32(fd), Events: unix.POLLIN}
}

func (l *Loop) detachSession() {
	if l.sess != nil {
		l.sess.Close()
	}
	l.sess = nil
	l.pfds[idxPeer] = unix.PollFd{Fd: -1}
}

// Run drives the loop until the exit flag is set or a terminal error occurs.
// reconnect is invoked whenever the peer connection must be torn down; on the
// server side it just drops the session, on the client side it retries with
// backoff.
func (l *Loop) Run(reconnect func(l *Loop) error) error {
	for {
		if l.exit.Load() {
			return nil
		}
		switch l.tick() {
		case outcomeContinue:
			continue
		case outcomeReconnect:
			if err := reconnect(l); err != nil {
				return err
			}
		case outcomeTerminal:
			return errTunFatal
		}
	}
}

var errTunFatal = errors.New("eventloop: tun fatal error")

// tick performs exactly one poll wake and runs the branches in fixed order:
// accept, TUN error, TUN readable, peer error, peer readable. At most one frame
// is processed per wake per direction.
func (l *Loop) tick() outcome {
	n, err := unix.Poll(l.pfds[:], int(pollTimeout.Milliseconds()))
	if err != nil {
		if err == unix.EINTR {
			return outcomeContinue
		}
		return outcomeTerminal
	}
	if n == 0 {
		return outcomeContinue // idle tick
	}

	if l.listener != nil && l.pfds[idxListener].Revents&unix.POLLIN != 0 {
		l.acceptPeer()
	}

	if l.pfds[idxTun].Revents&(unix.POLLERR|unix.POLLHUP) != 0 {
		l.log.Error().Msg("tun descriptor reported HUP/ERR")
		return outcomeTerminal
	}

	if l.pfds[idxTun].Revents&unix.POLLIN != 0 {
		if res := l.handleTunReadable(); res != outcomeContinue {
			return res
		}
	}

	if l.sess != nil && l.pfds[idxPeer].Revents&(unix.POLLERR|unix.POLLHUP) != 0 {
		l.log.Warn().Msg("peer HUP")
		return outcomeReconnect
	}

	if l.sess != nil && l.pfds[idxPeer].Revents&unix.POLLIN != 0 {
		return l.handlePeerReadable()
	}

	return outcomeContinue
}

// acceptPeer accepts one connection and runs the handshake; on success, an
// existing live peer is replaced, its socket closed first.
func (l *Loop) acceptPeer() {
	l.log.Info().Msg("accepting new peer")
	conn, err := l.listener.Accept()
	if err != nil {
		l.log.Error().Err(err).Msg("accept failed")
		return
	}
	if tcpConn, ok := conn.(*net.TCPConn); ok {
		_ = tcpConn.SetNoDelay(true)
	}

	keys, err := crypto.ServerHandshake(conn, l.hs)
	if err != nil {
		l.log.Warn().Err(err).Msg("authentication failed")
		conn.Close()
		return
	}

	l.detachSession()
	l.AttachSession(session.New(conn, keys))
	l.log.Info().Msg("peer accepted")
}

// handleTunReadable reads one IP datagram from the TUN device and forwards it to
// the peer. Backpressure is a single bit: a blocked write finishes the current
// frame with a bounded write and marks the session congested, and the next TUN
// packet is dropped once to let the link drain.
func (l *Loop) handleTunReadable() outcome {
	buf := make([]byte, wire.MaxPacketLen)
	n, err := l.tun.Read(buf)
	if n <= 0 || err != nil {
		l.log.Error().Err(err).Msg("tun_read failed")
		return outcomeTerminal
	}
	if l.sess == nil {
		return outcomeContinue
	}
	if l.sess.Congested {
		l.sess.Congested = false
		return outcomeContinue
	}

	packet := buf[:n]
	tag := make([]byte, crypto.TagSize)
	l.sess.Keys.Send.Encrypt(packet, tag)

	frame, err := wire.Marshal(packet, tag)
	if err != nil {
		l.log.Error().Err(err).Int("len", n).Msg("oversized tun packet")
		return outcomeContinue
	}

	written, err := ioutil.SafeWritePartial(l.sess.Conn, frame)
	if written != len(frame) {
		if err == ioutil.ErrWouldBlock {
			l.sess.Congested = true
			err = ioutil.SafeWrite(l.sess.Conn, frame[written:], crypto.Timeout)
		}
		if err != nil {
			l.log.Warn().Err(err).Msg("peer write failed")
			return outcomeReconnect
		}
	}
	return outcomeContinue
}

// handlePeerReadable reads one frame from the peer, decrypts it, and injects the
// payload into the TUN device. A failing tun write is logged and the frame
// dropped; everything else tears the connection down.
func (l *Loop) handlePeerReadable() outcome {
	if err := l.sess.Conn.SetReadDeadline(time.Now().Add(crypto.Timeout)); err != nil {
		return outcomeReconnect
	}
	ciphertext, tag, err := wire.ReadFrame(l.sess.Conn)
	if err != nil {
		l.log.Warn().Err(err).Msg("peer disconnected")
		return outcomeReconnect
	}

	if err := l.sess.Keys.Recv.Decrypt(ciphertext, tag, wire.TagLen); err != nil {
		l.log.Warn().Msg("corrupted stream")
		return outcomeReconnect
	}

	if _, err := l.tun.Write(ciphertext); err != nil {
		l.log.Warn().Err(err).Msg("tun_write failed")
	}
	return outcomeContinue
}

// Detach tears down any live session, closing the socket and zeroing both cipher
// states, and disarms the peer poll entry.
func (l *Loop) Detach() {
	l.detachSession()
}

// rawFd extracts the poll descriptor behind a net.Conn or net.Listener. Conns
// without a syscall descriptor (in-memory pipes in tests) are not pollable.
func rawFd(v any) (uintptr, error) {
	c, ok := v.(interface{ SyscallConn() (syscall.RawConn, error) })
	if !ok {
		return 0, errors.New("eventloop: descriptor not pollable")
	}
	raw, err := c.SyscallConn()
	if err != nil {
		return 0, err
	}
	var fd uintptr
	ctrlErr := raw.Control(func(f uintptr) { fd = f })
	if ctrlErr != nil {
		return 0, ctrlErr
	}
	return fd, nil
}
