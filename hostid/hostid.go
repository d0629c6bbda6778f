// Package hostid resolves stable local identifiers once at process start
// and memoizes them.
package hostid

import (
	"fmt"
	"net"
	"os"
)

const (
	fallbackIPv4 = "127.0.0.1"
	fallbackMAC  = "00:00:00:00:00:00"

	// probeAddr is never actually dialed over the network — a UDP dial
	// just selects a local outbound route, which is enough to read back
	// the interface IPv4 address from the socket's local endpoint.
	probeAddr = "8.8.8.8:80"
)

// Identity exposes the three resolved identifiers. All are resolved once
// at New and memoized for the process lifetime.
type Identity struct {
	hostname string
	ipv4     string
	mac      string
}

// New resolves hostname, IPv4 and MAC once. It never returns an error:
// each field falls back to a documented default on failure.
func New() *Identity {
	return &Identity{
		hostname: resolveHostname(),
		ipv4:     resolveIPv4(),
		mac:      resolveMAC(),
	}
}

func (i *Identity) Hostname() string { return i.hostname }
func (i *Identity) IPv4() string     { return i.ipv4 }
func (i *Identity) MAC() string      { return i.mac }

func resolveHostname() string {
	name, err := os.Hostname()
	if err != nil {
		return "unknown"
	}
	return name
}

func resolveIPv4() string {
	conn, err := net.Dial("udp4", probeAddr)
	if err != nil {
		return fallbackIPv4
	}
	defer conn.Close()

	addr, ok := conn.LocalAddr().(*net.UDPAddr)
	if !ok || addr.IP == nil {
		return fallbackIPv4
	}
	return addr.IP.String()
}

func resolveMAC() string {
	ifaces, err := net.Interfaces()
	if err != nil {
		return fallbackMAC
	}
	for _, iface := range ifaces {
		if iface.Flags&net.FlagLoopback != 0 {
			continue
		}
		if len(iface.HardwareAddr) == 0 {
			continue
		}
		return canonicalMAC(iface.HardwareAddr)
	}
	return fallbackMAC
}

func canonicalMAC(hw net.HardwareAddr) string {
	if len(hw) != 6 {
		return fallbackMAC
	}
	return fmt.Sprintf("%02x:%02x:%02x:%02x:%02x:%02x",
		hw[0], hw[1], hw[2], hw[3], hw[4], hw[5])
}
