package netlink

import (
	"errors"
	"net"
	"strconv"
)

// ErrBadAddress is returned when a dial target is malformed.
var ErrBadAddress = errors.New("malformed address")

// ParseHost validates a dial target and returns the bare hostname. The
// service port is fixed, so a target must be a hostname, an IP literal,
// or either of those with an explicit ":20048" suffix; any other port
// is rejected.
//
// Example targets:
//
//	play.example.com
//	play.example.com:20048
//	192.0.2.17
//	[2001:db8::17]:20048
func ParseHost(target string) (string, error) {
	if target == "" {
		return "", prefixError(ErrBadAddress, "empty host")
	}

	host, port, err := net.SplitHostPort(target)
	if err != nil {
		// No port suffix: the target is the hostname. Strip brackets
		// from a bare IPv6 literal.
		if len(target) >= 2 && target[0] == '[' && target[len(target)-1] == ']' {
			return target[1 : len(target)-1], nil
		}
		return target, nil
	}
	if host == "" {
		return "", prefixError(ErrBadAddress, "empty host")
	}
	if port != strconv.Itoa(Port) {
		return "", prefixError(ErrBadAddress, "port is fixed to %d, got %q", Port, port)
	}
	return host, nil
}
