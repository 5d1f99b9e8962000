//go:build linux

package icmpsock

import (
	"fmt"
	"net"
	"time"

	"golang.org/x/sys/unix"

	"github.com/draymonix/pathlens/internal/diagerr"
)

// boundSocket is a raw ICMPv4 socket pinned to a specific interface (and
// optionally a specific local source IP) via SO_BINDTODEVICE, built
// straight on golang.org/x/sys/unix. This is the only backend that can
// honor an explicit source_interface: the portable icmp.PacketConn backend
// has no way to express "egress on exactly this NIC."
type boundSocket struct {
	fd       int
	ifaceIdx int
	ttl      int
}

func openBoundSocket(ifaceName string, sourceIP net.IP) (*boundSocket, error) {
	ifi, err := net.InterfaceByName(ifaceName)
	if err != nil {
		return nil, diagerr.New(diagerr.InterfaceBindFailed, fmt.Errorf("lookup interface %q: %w", ifaceName, err))
	}

	fd, err := unix.Socket(unix.AF_INET, unix.SOCK_RAW, unix.IPPROTO_ICMP)
	if err != nil {
		return nil, diagerr.New(diagerr.SocketCreateFailed, err)
	}

	if err := unix.SetsockoptString(fd, unix.SOL_SOCKET, unix.SO_BINDTODEVICE, ifaceName); err != nil {
		unix.Close(fd)
		return nil, diagerr.New(diagerr.InterfaceBindFailed, fmt.Errorf("bind to device %q: %w", ifaceName, err))
	}

	if sourceIP != nil {
		v4 := sourceIP.To4()
		if v4 == nil {
			unix.Close(fd)
			return nil, diagerr.New(diagerr.InvalidConfiguration, fmt.Errorf("source ip %s is not ipv4", sourceIP))
		}
		var sa unix.SockaddrInet4
		copy(sa.Addr[:], v4)
		if err := unix.Bind(fd, &sa); err != nil {
			unix.Close(fd)
			return nil, diagerr.New(diagerr.SourceIPBindFailed, fmt.Errorf("bind to source ip %s: %w", sourceIP, err))
		}
	}

	if err := unix.SetNonblock(fd, true); err != nil {
		unix.Close(fd)
		return nil, diagerr.New(diagerr.SetsockoptFailed, err)
	}

	return &boundSocket{fd: fd, ifaceIdx: ifi.Index, ttl: 64}, nil
}

func (s *boundSocket) SetTTL(ttl int) error {
	if err := unix.SetsockoptInt(s.fd, unix.IPPROTO_IP, unix.IP_TTL, ttl); err != nil {
		return diagerr.New(diagerr.SetsockoptFailed, err)
	}
	s.ttl = ttl
	return nil
}

func (s *boundSocket) Send(payload []byte, dst net.IP) error {
	v4 := dst.To4()
	if v4 == nil {
		return diagerr.New(diagerr.InvalidConfiguration, fmt.Errorf("destination %s is not ipv4", dst))
	}
	var sa unix.SockaddrInet4
	copy(sa.Addr[:], v4)
	if err := unix.Sendto(s.fd, payload, 0, &sa); err != nil {
		return diagerr.New(diagerr.SendFailed, err)
	}
	return nil
}

// Recv polls the socket fd with a timeout computed from the deadline (in
// whole milliseconds), so a caller blocked here returns a timeout error once
// the deadline passes — the cancellation responsiveness a cooperative engine
// needs.
func (s *boundSocket) Recv(buf []byte, deadline time.Time) (int, net.IP, error) {
	for {
		timeoutMs := int(time.Until(deadline) / time.Millisecond)
		if timeoutMs < 0 {
			timeoutMs = 0
		}

		pfd := []unix.PollFd{{Fd: int32(s.fd), Events: unix.POLLIN}}
		n, err := unix.Poll(pfd, timeoutMs)
		if err != nil {
			if err == unix.EINTR {
				continue
			}
			return 0, nil, err
		}
		if n == 0 {
			return 0, nil, fmt.Errorf("icmpsock: recv timeout")
		}

		nr, from, err := unix.Recvfrom(s.fd, buf, 0)
		if err != nil {
			if err == unix.EAGAIN || err == unix.EWOULDBLOCK || err == unix.EINTR {
				continue
			}
			return 0, nil, err
		}

		var peer net.IP
		if sa4, ok := from.(*unix.SockaddrInet4); ok {
			peer = net.IP(sa4.Addr[:]).To4()
		}
		return nr, peer, nil
	}
}

func (s *boundSocket) Close() error {
	return unix.Close(s.fd)
}
