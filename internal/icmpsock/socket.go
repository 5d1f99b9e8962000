// Package icmpsock provides the send/receive/TTL socket abstraction shared
// by the traceroute and ping engines: a portable backend built on
// golang.org/x/net/icmp that works unprivileged on most platforms, and a
// Linux-only raw-socket backend that can bind to a specific interface.
package icmpsock

import (
	"net"
	"runtime"
	"time"

	"golang.org/x/net/icmp"

	"github.com/draymonix/pathlens/internal/diagerr"
)

// Socket is the minimal send/receive/TTL surface both probe engines need.
type Socket interface {
	SetTTL(ttl int) error
	Send(payload []byte, dst net.IP) error
	Recv(buf []byte, deadline time.Time) (n int, peer net.IP, err error)
	Close() error
}

// Open picks the backend for the requested options: a raw, interface-bound
// socket when ifaceName is set, otherwise the portable icmp.PacketConn
// backend. On platforms without interface binding, a non-empty ifaceName
// yields a PlatformNotSupported error; Open does not fall back to the
// portable backend in that case.
func Open(ifaceName string, sourceIP net.IP) (Socket, error) {
	if ifaceName != "" {
		return openBoundSocket(ifaceName, sourceIP)
	}
	return openPortableSocket(sourceIP)
}

// portableSocket wraps golang.org/x/net/icmp, working unprivileged on
// platforms where the kernel supports "udp4" ICMP sockets and falling back
// to a privileged raw socket otherwise.
type portableSocket struct {
	conn    *icmp.PacketConn
	network string
}

func openPortableSocket(sourceIP net.IP) (*portableSocket, error) {
	addr := ""
	if sourceIP != nil {
		addr = sourceIP.String()
	}

	if runtime.GOOS != "windows" {
		if conn, err := icmp.ListenPacket("udp4", addr); err == nil {
			return &portableSocket{conn: conn, network: "udp4"}, nil
		}
	}

	bindAddr := "0.0.0.0"
	if addr != "" {
		bindAddr = addr
	}
	conn, err := icmp.ListenPacket("ip4:icmp", bindAddr)
	if err != nil {
		return nil, diagerr.New(diagerr.SocketCreateFailed, err)
	}
	return &portableSocket{conn: conn, network: "ip4:icmp"}, nil
}

func (s *portableSocket) SetTTL(ttl int) error {
	if err := s.conn.IPv4PacketConn().SetTTL(ttl); err != nil {
		return diagerr.New(diagerr.SetsockoptFailed, err)
	}
	return nil
}

func (s *portableSocket) Send(payload []byte, dst net.IP) error {
	var addr net.Addr
	if s.network == "udp4" {
		addr = &net.UDPAddr{IP: dst}
	} else {
		addr = &net.IPAddr{IP: dst}
	}
	if _, err := s.conn.WriteTo(payload, addr); err != nil {
		return diagerr.New(diagerr.SendFailed, err)
	}
	return nil
}

func (s *portableSocket) Recv(buf []byte, deadline time.Time) (int, net.IP, error) {
	if err := s.conn.SetReadDeadline(deadline); err != nil {
		return 0, nil, err
	}
	n, peer, err := s.conn.ReadFrom(buf)
	if err != nil {
		return 0, nil, err
	}
	var ip net.IP
	switch p := peer.(type) {
	case *net.UDPAddr:
		ip = p.IP
	case *net.IPAddr:
		ip = p.IP
	}
	return n, ip, nil
}

func (s *portableSocket) Close() error { return s.conn.Close() }
