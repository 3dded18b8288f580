package swarmnet

import (
	"net"
	"net/netip"
)

// bestLocalIPFor picks the local source address the kernel would use to
// reach dst, by opening (and immediately discarding) a transient "connected"
// UDP socket — ported from the original's get_best_ip_for_peer. It never
// actually sends a packet; a connected UDP socket's LocalAddr is populated by
// route lookup alone. Loopback destinations get 127.0.0.1 directly, since a
// route lookup to a loopback address can return an unexpected interface
// address on some platforms.
func bestLocalIPFor(dst netip.Addr) netip.Addr {
	if dst.IsLoopback() {
		return netip.MustParseAddr("127.0.0.1")
	}
	conn, err := net.Dial("udp4", net.JoinHostPort(dst.String(), "1"))
	if err != nil {
		return netip.IPv4Unspecified()
	}
	defer conn.Close()
	local, ok := conn.LocalAddr().(*net.UDPAddr)
	if !ok {
		return netip.IPv4Unspecified()
	}
	addr, ok := netip.AddrFromSlice(local.IP.To4())
	if !ok {
		return netip.IPv4Unspecified()
	}
	return addr
}

func parseHostPort(host string, port int) (netip.AddrPort, error) {
	addr, err := netip.ParseAddr(host)
	if err != nil {
		return netip.AddrPort{}, err
	}
	return netip.AddrPortFrom(addr, uint16(port)), nil
}
