// Package netutil discovers the default gateway address and the external
// interface name from the kernel routing table.
package netutil

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"strconv"
	"strings"
)

// ErrNoDefaultRoute is returned when no default route line is found.
var ErrNoDefaultRoute = errors.New("netutil: no default route found")

const procNetRoute = "/proc/net/route"

// DefaultGatewayIP parses /proc/net/route to find the gateway of the default
// route (destination 00000000).
func DefaultGatewayIP() (string, error) {
	f, err := os.Open(procNetRoute)
	if err != nil {
		return "", fmt.Errorf("netutil: %w", err)
	}
	defer f.Close()
	return parseDefaultGatewayIP(f)
}

func parseDefaultGatewayIP(r io.Reader) (string, error) {
	sc := bufio.NewScanner(r)
	sc.Scan() // header line
	for sc.Scan() {
		fields := strings.Fields(sc.Text())
		if len(fields) < 3 {
			continue
		}
		dest := fields[1]
		gateway := fields[2]
		if dest != "00000000" {
			continue
		}
		ip, err := hexLEToIP(gateway)
		if err != nil {
			continue
		}
		return ip, nil
	}
	return "", ErrNoDefaultRoute
}

// DefaultExternalInterfaceName returns the interface name carrying the default
// route.
func DefaultExternalInterfaceName() (string, error) {
	f, err := os.Open(procNetRoute)
	if err != nil {
		return "", fmt.Errorf("netutil: %w", err)
	}
	defer f.Close()
	return parseDefaultExternalInterfaceName(f)
}

func parseDefaultExternalInterfaceName(r io.Reader) (string, error) {
	sc := bufio.NewScanner(r)
	sc.Scan()
	for sc.Scan() {
		fields := strings.Fields(sc.Text())
		if len(fields) < 2 {
			continue
		}
		if fields[1] != "00000000" {
			continue
		}
		return fields[0], nil
	}
	return "", ErrNoDefaultRoute
}

// hexLEToIP converts /proc/net/route's little-endian hex IPv4 field into a dotted
// string.
func hexLEToIP(hexLE string) (string, error) {
	v, err := strconv.ParseUint(hexLE, 16, 32)
	if err != nil {
		return "", err
	}
	var raw [4]byte
	binary.LittleEndian.PutUint32(raw[:], uint32(v))
	return net.IP(raw[:]).String(), nil
}
