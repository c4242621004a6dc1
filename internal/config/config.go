// Package config turns the seven positional CLI arguments into a typed Config,
// resolving every "auto" sentinel.
package config

import (
	"errors"
	"fmt"
	"net"
	"strconv"

	"github.com/PacketPlayground/dsvpn/internal/netutil"
)

// Build-time constants. Changing TagLen or MaxPacketLen breaks wire
// compatibility with any peer running a different build — there is no version byte.
const (
	DefaultMTU        = 1500
	DefaultPort       = "9090"
	DefaultServerIP   = "0.0.0.0"
	DefaultClientIP   = "0.0.0.0"
	DefaultTunName    = "dsvpn0"
	DefaultLocalTunIP = "10.10.10.1"
	// DefaultRemoteTunIP is the client-side peer address when nothing is specified.
	DefaultRemoteTunIP = "10.10.10.2"
	// ReconnectAttempts bounds the client reconnection loop.
	ReconnectAttempts = 1000
	// BufferbloatControl mirrors the C build-time #if: on here, matching the
	// reference configuration.
	BufferbloatControl = true

	autoSentinel = "auto"
)

// ErrUsage signals invalid CLI invocation, mapped by cmd/dsvpn to exit code 254.
var ErrUsage = errors.New("config: invalid usage")

// externalInterfaceName resolves the interface carrying the default route;
// a variable so tests can stub the routing-table lookup.
var externalInterfaceName = netutil.DefaultExternalInterfaceName

// ErrConfig signals any other startup configuration failure: unreadable key,
// unresolved "auto", unknown platform. Mapped to exit code 1.
var ErrConfig = errors.New("config: invalid configuration")

// Config is the fully-resolved, validated configuration for one endpoint — server or
// client — after every "auto" has been settled.
type Config struct {
	IsServer bool

	KeyFile string

	ServerIP string
	Port     string

	TunName      string
	LocalTunIP   string
	RemoteTunIP  string
	LocalTunIP6  string
	RemoteTunIP6 string

	// ExternalIP is the server's externally-reachable address (server role);
	// Validate requires it for the server. The firewall templates do not use it.
	ExternalIP string
	// GatewayIP is the client's default gateway, re-resolved on every reconnect
	// attempt to detect a gateway change.
	GatewayIP string
	// GatewayArg is the raw gateway_ip positional argument ("auto" or an explicit
	// override); RefreshGateway consults it on every reconnect so an explicit
	// override is never silently replaced by a freshly queried address.
	GatewayArg string
	ExtIfName  string
}

// ParseServer resolves the server's seven positional arguments:
// key_file, vpn_server_ip|"auto", port|"auto", tun_name|"auto", local_tun_ip|"auto",
// remote_tun_ip|"auto", external_ip|"auto".
func ParseServer(args []string) (*Config, error) {
	if len(args) != 7 {
		return nil, ErrUsage
	}
	c := &Config{
		IsServer:    true,
		KeyFile:     args[0],
		TunName:     resolve(args[3], DefaultTunName),
		LocalTunIP:  resolve(args[4], DefaultLocalTunIP),
		RemoteTunIP: resolve(args[5], DefaultRemoteTunIP),
	}
	c.ServerIP = resolveOrDefault(args[1], DefaultServerIP)
	c.Port = resolve(args[2], DefaultPort)

	if args[6] == autoSentinel {
		ip, err := netutil.DefaultGatewayIP()
		if err != nil {
			return nil, fmt.Errorf("%w: detecting external ip: %v", ErrConfig, err)
		}
		c.ExternalIP = ip
	} else {
		c.ExternalIP = args[6]
	}

	ifName, err := externalInterfaceName()
	if err != nil {
		return nil, fmt.Errorf("%w: detecting external interface: %v", ErrConfig, err)
	}
	c.ExtIfName = ifName

	deriveIPv6(c)
	return c, c.Validate()
}

// ParseClient resolves the client's seven positional arguments: key_file,
// vpn_server_ip (never "auto"), port|"auto", tun_name|"auto", local_tun_ip|"auto",
// remote_tun_ip|"auto", gateway_ip|"auto".
func ParseClient(args []string) (*Config, error) {
	if len(args) != 7 {
		return nil, ErrUsage
	}
	if args[1] == autoSentinel {
		return nil, fmt.Errorf("%w: client vpn_server_ip must not be \"auto\"", ErrUsage)
	}
	c := &Config{
		IsServer:    false,
		KeyFile:     args[0],
		ServerIP:    args[1],
		Port:        resolve(args[2], DefaultPort),
		TunName:     resolve(args[3], DefaultTunName),
		LocalTunIP:  resolve(args[4], DefaultRemoteTunIP),
		RemoteTunIP: resolve(args[5], DefaultLocalTunIP),
	}

	c.GatewayArg = args[6]
	if err := c.RefreshGateway(c.GatewayArg); err != nil {
		return nil, err
	}

	// the client tolerates a failed lookup; the route templates that reference
	// the external interface will surface the problem when applied
	if ifName, err := externalInterfaceName(); err == nil {
		c.ExtIfName = ifName
	}

	deriveIPv6(c)
	return c, c.Validate()
}

// RefreshGateway re-resolves the client's gateway IP, honoring an explicit override
// or re-querying the platform default route. Called on startup and before each
// reconnect attempt so a gateway change is detected.
func (c *Config) RefreshGateway(wanted string) error {
	if wanted != autoSentinel && wanted != "" {
		c.GatewayIP = wanted
		return nil
	}
	ip, err := netutil.DefaultGatewayIP()
	if err != nil {
		return fmt.Errorf("%w: detecting gateway: %v", ErrConfig, err)
	}
	c.GatewayIP = ip
	return nil
}

// Validate checks that every required field resolved to something usable.
func (c *Config) Validate() error {
	if c.KeyFile == "" {
		return fmt.Errorf("%w: key_file is required", ErrUsage)
	}
	if net.ParseIP(c.LocalTunIP) == nil {
		return fmt.Errorf("%w: invalid local_tun_ip %q", ErrConfig, c.LocalTunIP)
	}
	if net.ParseIP(c.RemoteTunIP) == nil {
		return fmt.Errorf("%w: invalid remote_tun_ip %q", ErrConfig, c.RemoteTunIP)
	}
	if _, err := strconv.ParseUint(c.Port, 10, 16); err != nil {
		return fmt.Errorf("%w: invalid port %q", ErrConfig, c.Port)
	}
	if c.IsServer && c.ExternalIP == "" {
		return fmt.Errorf("%w: server could not determine external_ip", ErrConfig)
	}
	return nil
}

// deriveIPv6 prefixes 64:ff9b:: to the dotted IPv4 tunnel addresses, which the
// address parser accepts as embedded-IPv4 IPv6 addresses.
func deriveIPv6(c *Config) {
	c.LocalTunIP6 = "64:ff9b::" + c.LocalTunIP
	c.RemoteTunIP6 = "64:ff9b::" + c.RemoteTunIP
}

func resolve(arg, def string) string {
	if arg == "" || arg == autoSentinel {
		return def
	}
	return arg
}

func resolveOrDefault(arg, def string) string {
	if arg == autoSentinel {
		return def
	}
	return arg
}
