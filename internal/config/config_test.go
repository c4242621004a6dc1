package config

import (
	"errors"
	"testing"
)

func TestParseClientRejectsAutoServerIP(t *testing.T) {
	args := []string{"key.bin", "auto", "auto", "auto", "auto", "auto", "1.2.3.4"}
	if _, err := ParseClient(args); err == nil {
		t.Error("expected error for client with auto server ip")
	}
}

func TestParseClientResolvesDefaults(t *testing.T) {
	args := []string{"key.bin", "203.0.113.1", "auto", "auto", "auto", "auto", "203.0.113.254"}
	c, err := ParseClient(args)
	if err != nil {
		t.Fatalf("ParseClient: %v", err)
	}
	if c.ServerIP != "203.0.113.1" {
		t.Errorf("ServerIP = %q", c.ServerIP)
	}
	if c.Port != DefaultPort {
		t.Errorf("Port = %q, want default %q", c.Port, DefaultPort)
	}
	if c.TunName != DefaultTunName {
		t.Errorf("TunName = %q", c.TunName)
	}
	if c.GatewayIP != "203.0.113.254" {
		t.Errorf("GatewayIP = %q", c.GatewayIP)
	}
	if c.LocalTunIP6 != "64:ff9b::"+c.LocalTunIP {
		t.Errorf("LocalTunIP6 = %q", c.LocalTunIP6)
	}
}

func TestParseServerRequiresArgCount(t *testing.T) {
	if _, err := ParseServer([]string{"only-one-arg"}); err != ErrUsage {
		t.Errorf("got %v, want ErrUsage", err)
	}
}

func TestValidateRejectsBadPort(t *testing.T) {
	c := &Config{
		KeyFile:     "k",
		LocalTunIP:  "10.0.0.1",
		RemoteTunIP: "10.0.0.2",
		Port:        "not-a-port",
	}
	if err := c.Validate(); err == nil {
		t.Error("expected error for invalid port")
	}
}

func TestRefreshGatewayHonorsExplicitOverride(t *testing.T) {
	c := &Config{}
	if err := c.RefreshGateway("198.51.100.1"); err != nil {
		t.Fatalf("RefreshGateway: %v", err)
	}
	if c.GatewayIP != "198.51.100.1" {
		t.Errorf("GatewayIP = %q", c.GatewayIP)
	}
}

func stubExternalInterface(t *testing.T, name string, err error) {
	t.Helper()
	restore := externalInterfaceName
	externalInterfaceName = func() (string, error) { return name, err }
	t.Cleanup(func() { externalInterfaceName = restore })
}

func TestParseClientPopulatesExternalInterface(t *testing.T) {
	stubExternalInterface(t, "wan0", nil)

	args := []string{"key.bin", "203.0.113.1", "auto", "auto", "auto", "auto", "203.0.113.254"}
	c, err := ParseClient(args)
	if err != nil {
		t.Fatalf("ParseClient: %v", err)
	}
	if c.ExtIfName != "wan0" {
		t.Errorf("ExtIfName = %q, want %q", c.ExtIfName, "wan0")
	}
}

func TestParseClientToleratesMissingExternalInterface(t *testing.T) {
	stubExternalInterface(t, "", errors.New("no default route"))

	args := []string{"key.bin", "203.0.113.1", "auto", "auto", "auto", "auto", "203.0.113.254"}
	c, err := ParseClient(args)
	if err != nil {
		t.Fatalf("ParseClient: %v", err)
	}
	if c.ExtIfName != "" {
		t.Errorf("ExtIfName = %q, want empty", c.ExtIfName)
	}
}

func TestParseServerRequiresExternalInterface(t *testing.T) {
	stubExternalInterface(t, "", errors.New("no default route"))

	args := []string{"key.bin", "auto", "auto", "auto", "auto", "auto", "203.0.113.7"}
	if _, err := ParseServer(args); !errors.Is(err, ErrConfig) {
		t.Errorf("got %v, want ErrConfig", err)
	}
}

func TestParseServerPopulatesExternalInterface(t *testing.T) {
	stubExternalInterface(t, "eth0", nil)

	args := []string{"key.bin", "auto", "auto", "auto", "auto", "auto", "203.0.113.7"}
	c, err := ParseServer(args)
	if err != nil {
		t.Fatalf("ParseServer: %v", err)
	}
	if c.ExtIfName != "eth0" {
		t.Errorf("ExtIfName = %q, want %q", c.ExtIfName, "eth0")
	}
}
