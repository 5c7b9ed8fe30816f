package netutil

import (
	"fmt"
	"net"
	"net/netip"
	"os"
)

// routeAddr is only used to pick the outbound interface; no packet is sent.
const routeAddr = "10.255.255.255:1"

// FreePort asks the kernel for an unused TCP port.
func FreePort() (int, error) {
	l, err := net.Listen("tcp", ":0")
	if err != nil {
		return 0, fmt.Errorf("failed to find free port: %w", err)
	}
	defer l.Close()
	return l.Addr().(*net.TCPAddr).Port, nil
}

// IsIPAddr reports whether s is a dotted IPv4 address.
func IsIPAddr(s string) bool {
	addr, err := netip.ParseAddr(s)
	return err == nil && addr.Is4()
}

// LocalIP returns the address of the outbound interface, falling back to
// the resolved hostname and finally to loopback.
func LocalIP() string {
	if conn, err := net.Dial("udp", routeAddr); err == nil {
		defer conn.Close()
		if addr, ok := conn.LocalAddr().(*net.UDPAddr); ok && !addr.IP.IsLoopback() {
			return addr.IP.String()
		}
	}
	if host, err := os.Hostname(); err == nil {
		if addrs, err := net.LookupHost(host); err == nil {
			for _, a := range addrs {
				if IsIPAddr(a) && a != "127.0.0.1" {
					return a
				}
			}
		}
	}
	return "127.0.0.1"
}

// HostNameOrIP returns the hostname, or the local IP when it is unset.
func HostNameOrIP() string {
	if host, err := os.Hostname(); err == nil && host != "" {
		return host
	}
	return LocalIP()
}

// IsLocal reports whether master names this machine: IPv4 addresses are
// compared with LocalIP, anything else with the hostname.
func IsLocal(master string) bool {
	switch master {
	case "localhost", "127.0.0.1":
		return true
	}
	if IsIPAddr(master) {
		return master == LocalIP()
	}
	host, err := os.Hostname()
	return err == nil && host == master
}
