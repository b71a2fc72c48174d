// Package media is the RTP/RTCP media-session collaborator behind the
// session registry: it receives streams on a multicast or unicast address,
// tracks their sources and reports source events to a listener.
package media

import (
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
)

// ErrInvalidAddress indicates a session address that cannot be parsed.
var ErrInvalidAddress = errors.New("invalid session address")

// ParseAddress parses a session address. Both "host:port" and the Access
// Grid "host/port" forms are accepted. The host must be an IP literal:
// handles are initialised under the registry lock, where no name lookup
// may run. Port 0 binds an ephemeral port and disables the RTCP socket.
func ParseAddress(s string) (*net.UDPAddr, error) {
	var host, port string
	if i := strings.LastIndex(s, "/"); i >= 0 {
		host, port = s[:i], s[i+1:]
	} else {
		var err error
		host, port, err = net.SplitHostPort(s)
		if err != nil {
			return nil, fmt.Errorf("%w %q: %w", ErrInvalidAddress, s, err)
		}
	}
	host = strings.Trim(host, "[]")

	p, err := strconv.Atoi(port)
	if err != nil || p < 0 || p > 65534 {
		return nil, fmt.Errorf("%w %q: bad port", ErrInvalidAddress, s)
	}

	ip := net.ParseIP(host)
	if ip == nil {
		return nil, fmt.Errorf("%w %q: host must be an IP literal", ErrInvalidAddress, s)
	}

	return &net.UDPAddr{IP: ip, Port: p}, nil
}

// rtcpAddr returns the RTCP companion of an RTP address, or nil for port 0.
func rtcpAddr(rtp *net.UDPAddr) *net.UDPAddr {
	if rtp.Port == 0 {
		return nil
	}
	return &net.UDPAddr{IP: rtp.IP, Port: rtp.Port + 1, Zone: rtp.Zone}
}

func listen(addr *net.UDPAddr) (*net.UDPConn, error) {
	if addr.IP.IsMulticast() {
		return net.ListenMulticastUDP("udp", nil, addr)
	}
	return net.ListenUDP("udp", addr)
}
