package protocol

import (
	"cmp"
	"fmt"
	"net"
	"net/netip"
)

// Endpoint is an IP address and port. It is comparable and used as a map key
// for everything keyed by peer.
type Endpoint struct {
	Addr netip.Addr
	Port uint16
}

func NewEndpoint(addr netip.Addr, port uint16) Endpoint {
	return Endpoint{Addr: addr.Unmap(), Port: port}
}

// ParseEndpoint parses "ip:port" or "[ipv6]:port".
func ParseEndpoint(s string) (Endpoint, error) {
	ap, err := netip.ParseAddrPort(s)
	if err != nil {
		return Endpoint{}, fmt.Errorf("%w: %q: %v", ErrInvalidAddress, s, err)
	}
	return NewEndpoint(ap.Addr(), ap.Port()), nil
}

func MustParseEndpoint(s string) Endpoint {
	ep, err := ParseEndpoint(s)
	if err != nil {
		panic(err)
	}
	return ep
}

func EndpointFromAddrPort(ap netip.AddrPort) Endpoint {
	return NewEndpoint(ap.Addr(), ap.Port())
}

// EndpointFromUDPAddr converts a resolved UDP address. IPv4-mapped IPv6
// addresses are unmapped so both socket families agree on the key.
func EndpointFromUDPAddr(addr *net.UDPAddr) (Endpoint, bool) {
	if addr == nil {
		return Endpoint{}, false
	}
	ip, ok := netip.AddrFromSlice(addr.IP)
	if !ok || addr.Port < 0 || addr.Port > 0xFFFF {
		return Endpoint{}, false
	}
	return NewEndpoint(ip, uint16(addr.Port)), true
}

// EndpointFromNetAddr accepts any net.Addr that is a UDP address.
func EndpointFromNetAddr(addr net.Addr) (Endpoint, bool) {
	udpAddr, ok := addr.(*net.UDPAddr)
	if !ok {
		return Endpoint{}, false
	}
	return EndpointFromUDPAddr(udpAddr)
}

func (e Endpoint) AddrPort() netip.AddrPort {
	return netip.AddrPortFrom(e.Addr, e.Port)
}

func (e Endpoint) UDPAddr() *net.UDPAddr {
	return net.UDPAddrFromAddrPort(e.AddrPort())
}

func (e Endpoint) IsValid() bool {
	return e.Addr.IsValid()
}

func (e Endpoint) String() string {
	if !e.Addr.IsValid() {
		return "invalid"
	}
	return e.AddrPort().String()
}

// Compare orders endpoints by address, then port.
func (e Endpoint) Compare(o Endpoint) int {
	if c := e.Addr.Compare(o.Addr); c != 0 {
		return c
	}
	return cmp.Compare(e.Port, o.Port)
}

func (e Endpoint) MarshalText() ([]byte, error) {
	return []byte(e.String()), nil
}

func (e *Endpoint) UnmarshalText(text []byte) error {
	ep, err := ParseEndpoint(string(text))
	if err != nil {
		return err
	}
	*e = ep
	return nil
}
