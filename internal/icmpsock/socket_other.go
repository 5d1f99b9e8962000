//go:build !linux

package icmpsock

import (
	"fmt"
	"net"

	"github.com/draymonix/pathlens/internal/diagerr"
)

// openBoundSocket is unavailable outside Linux: SO_BINDTODEVICE is a
// Linux-specific socket option, so binding a probe to a named interface
// (rather than just a source IP, which the portable backend already
// supports) isn't something pathlens can offer on other platforms.
func openBoundSocket(ifaceName string, _ net.IP) (Socket, error) {
	return nil, diagerr.New(diagerr.PlatformNotSupported,
		fmt.Errorf("binding to interface %q is only supported on linux", ifaceName))
}
