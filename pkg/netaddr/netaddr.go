// Package netaddr resolves and canonicalizes the UDP socket addresses used
// to key peers in the Server's demux table and to identify the Client's
// single remote peer.
package netaddr

import (
	"fmt"
	"net"
)

// Resolve parses a host:port string into a *net.UDPAddr, accepting both
// IPv4 and IPv6 forms.
func Resolve(hostport string) (*net.UDPAddr, error) {
	addr, err := net.ResolveUDPAddr("udp", hostport)
	if err != nil {
		return nil, fmt.Errorf("netaddr: resolve %q: %w", hostport, err)
	}
	return addr, nil
}

// Key returns a canonical string for addr suitable for use as a map key.
// net.UDPAddr.String() already canonicalizes IP+port+zone, but Key guards
// against a nil addr so callers keying maps don't need to check first.
func Key(addr *net.UDPAddr) string {
	if addr == nil {
		return ""
	}
	return addr.String()
}

// Equal reports whether two addresses refer to the same endpoint.
func Equal(a, b *net.UDPAddr) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.IP.Equal(b.IP) && a.Port == b.Port && a.Zone == b.Zone
}
