// Package endpoint wires config, crypto, transport, TUN, firewall, and the event
// loop together into one owning record per program. Ownership of the peer socket
// is never split between the accept path and the loop.
package endpoint

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/PacketPlayground/dsvpn/internal/config"
	"github.com/PacketPlayground/dsvpn/internal/crypto"
	"github.com/PacketPlayground/dsvpn/internal/eventloop"
	"github.com/PacketPlayground/dsvpn/internal/firewall"
	"github.com/PacketPlayground/dsvpn/internal/session"
	"github.com/PacketPlayground/dsvpn/internal/transport"
	"github.com/PacketPlayground/dsvpn/internal/tun"
)

// ErrReconnectExhausted is returned when a client has retried ReconnectAttempts
// times without a single successful connection.
var ErrReconnectExhausted = errors.New("endpoint: exhausted reconnect attempts")

// Endpoint owns the TUN device, the long-term handshake state, the firewall
// manager, the listener (server only), and the event loop that in turn owns the
// live Session.
type Endpoint struct {
	cfg      *config.Config
	tun      tun.Device
	hs       *crypto.State
	fw       *firewall.Manager
	listener net.Listener
	exit     *atomic.Bool
	log      zerolog.Logger
	loop     *eventloop.Loop
}

// New performs the startup sequence: load the PSK, open the TUN device and set
// its MTU, pick the platform firewall templates for this role, and, server only,
// install firewall rules and open the listener. Client firewall rules are
// installed later, on the first successful connect.
func New(cfg *config.Config, log zerolog.Logger) (*Endpoint, error) {
	hs, err := config.LoadKey(cfg.KeyFile)
	if err != nil {
		return nil, err
	}

	dev, err := tun.Create(cfg.TunName)
	if err != nil {
		return nil, fmt.Errorf("%w: creating tun device: %v", config.ErrConfig, err)
	}
	log.Info().Str("interface", dev.Name()).Msg("tun interface created")
	if err := dev.SetMTU(config.DefaultMTU); err != nil {
		// an MTU mismatch is not fatal to the tunnel coming up
		log.Warn().Err(err).Msg("failed to set tun mtu")
	}

	rules := firewall.ClientRules()
	if cfg.IsServer {
		rules = firewall.ServerRules()
	}
	fw := firewall.NewManager(rules, nil)

	e := &Endpoint{cfg: cfg, tun: dev, hs: hs, fw: fw, exit: &atomic.Bool{}, log: log}

	if cfg.IsServer {
		if err := fw.Apply(true, e.vars()); err != nil {
			dev.Close()
			return nil, err
		}
		listener, err := transport.Listen(context.Background(), net.JoinHostPort(cfg.ServerIP, cfg.Port))
		if err != nil {
			dev.Close()
			return nil, fmt.Errorf("%w: opening listener: %v", config.ErrConfig, err)
		}
		e.listener = listener
	}

	e.loop = eventloop.New(dev, e.listener, hs, e.exit, log)
	return e, nil
}

// Run installs the signal handlers and drives the event loop until the exit flag
// is set or a terminal error occurs, then runs the shutdown sequence
// unconditionally: exit loop, firewall unset, close sockets, close TUN.
func (e *Endpoint) Run() error {
	e.installSignalHandlers()
	defer e.shutdown()

	if !e.cfg.IsServer {
		if err := e.reconnect(e.loop); err != nil {
			return fmt.Errorf("unable to connect to server: %w", err)
		}
	}

	reconnectFn := e.reconnect
	if e.cfg.IsServer {
		reconnectFn = e.serverDisconnect
	}
	return e.loop.Run(reconnectFn)
}

// serverDisconnect handles a peer failure on the server side: the socket is
// closed, the listener remains armed for the next accept.
func (e *Endpoint) serverDisconnect(l *eventloop.Loop) error {
	l.Detach()
	return nil
}

// reconnect is the client-side reconnection policy: tear down the current
// session, then retry up to config.ReconnectAttempts times, sleeping min(i,3)
// seconds before attempt i and checking the exit flag on every iteration. The
// endpoint invokes this same function once at startup so the first connection is
// subject to the identical retry policy.
func (e *Endpoint) reconnect(l *eventloop.Loop) error {
	l.Detach()

	for i := 0; i < config.ReconnectAttempts; i++ {
		if e.exit.Load() {
			return nil
		}
		e.log.Info().Int("attempt", i).Msg("trying to reconnect")
		backoff := i
		if backoff > 3 {
			backoff = 3
		}
		time.Sleep(time.Duration(backoff) * time.Second)

		if err := e.connect(l); err != nil {
			e.log.Warn().Err(err).Int("attempt", i).Msg("reconnect attempt failed")
			continue
		}
		return nil
	}
	return ErrReconnectExhausted
}

// connect performs one connection attempt: re-check the default gateway and
// reinstall firewall rules if it changed, dial the server, run the client
// handshake, attach the resulting Session to the loop, and install firewall
// rules (a no-op if already installed and unchanged).
func (e *Endpoint) connect(l *eventloop.Loop) error {
	if err := e.refreshGatewayAndMaybeReinstall(); err != nil {
		return err
	}

	addr := net.JoinHostPort(e.cfg.ServerIP, e.cfg.Port)
	conn, err := transport.Dial(context.Background(), addr, config.BufferbloatControl)
	if err != nil {
		return fmt.Errorf("tcp client: %w", err)
	}

	keys, err := crypto.ClientHandshake(conn, e.hs)
	if err != nil {
		conn.Close()
		return fmt.Errorf("authentication failed: %w", err)
	}

	l.AttachSession(session.New(conn, keys))

	if err := e.fw.Apply(true, e.vars()); err != nil {
		return err
	}
	e.log.Info().Str("server", addr).Msg("connected")
	return nil
}

// refreshGatewayAndMaybeReinstall re-resolves the client's default gateway and,
// if it changed since the last connection, unsets the firewall rules templated
// with the old gateway and reinstalls them with the new one, before the TCP
// connect is even attempted.
func (e *Endpoint) refreshGatewayAndMaybeReinstall() error {
	old := e.cfg.GatewayIP
	if err := e.cfg.RefreshGateway(e.cfg.GatewayArg); err != nil {
		return err
	}
	if e.cfg.GatewayIP == old || old == "" {
		return nil
	}
	e.log.Info().Str("old", old).Str("new", e.cfg.GatewayIP).Msg("gateway changed")
	oldVars := e.vars()
	oldVars.ExtGwIP = old
	if err := e.fw.Apply(false, oldVars); err != nil {
		return err
	}
	return e.fw.Apply(true, e.vars())
}

// vars builds the firewall substitution variables from the endpoint's current
// configuration and TUN interface name.
func (e *Endpoint) vars() firewall.Vars {
	return firewall.Vars{
		LocalTunIP6:  e.cfg.LocalTunIP6,
		RemoteTunIP6: e.cfg.RemoteTunIP6,
		LocalTunIP:   e.cfg.LocalTunIP,
		RemoteTunIP:  e.cfg.RemoteTunIP,
		ExtIP:        e.cfg.ServerIP,
		ExtPort:      e.cfg.Port,
		ExtIfName:    e.cfg.ExtIfName,
		ExtGwIP:      e.cfg.GatewayIP,
		IfName:       e.tun.Name(),
	}
}

// installSignalHandlers sets the exit flag on the first SIGINT/SIGTERM and
// restores the default disposition immediately afterward, so a second signal
// terminates the process at once.
func (e *Endpoint) installSignalHandlers() {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		e.exit.Store(true)
		signal.Stop(sigCh)
	}()
}

// shutdown unsets firewall rules, tears down any live session, closes the
// listener, and closes the TUN device.
func (e *Endpoint) shutdown() {
	if err := e.fw.Apply(false, e.vars()); err != nil {
		e.log.Warn().Err(err).Msg("failed to unset firewall rules")
	}
	e.loop.Detach()
	if e.listener != nil {
		e.listener.Close()
	}
	e.tun.Close()
}
