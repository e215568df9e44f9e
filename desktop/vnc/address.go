package vnc

import (
	"fmt"
	"net"
	"strconv"
	"strings"
)

const basePort = 5900

// ParseServerAddress converts the address forms VNC users type into a dial
// address:
//
//	host           -> host:5900
//	host:N         -> host:5900+N when N < 100, else host:N
//	host::port     -> host:port
//	[v6]::port     -> [v6]:port
func ParseServerAddress(addr string) (string, error) {
	addr = strings.TrimSpace(addr)
	if addr == "" {
		return "", fmt.Errorf("empty vnc address")
	}
	host := addr
	rest := ""
	hasPort := false
	if strings.HasPrefix(addr, "[") {
		end := strings.Index(addr, "]")
		if end < 0 {
			return "", fmt.Errorf("malformed vnc address %q", addr)
		}
		host = addr[1:end]
		tail := addr[end+1:]
		if tail != "" {
			if !strings.HasPrefix(tail, ":") {
				return "", fmt.Errorf("malformed vnc address %q", addr)
			}
			rest = tail[1:]
			hasPort = true
		}
	} else if i := strings.Index(addr, ":"); i >= 0 {
		host = addr[:i]
		rest = addr[i+1:]
		hasPort = true
	}
	if host == "" {
		host = "localhost"
	}
	port := basePort
	if hasPort {
		literal := strings.HasPrefix(rest, ":")
		rest = strings.TrimPrefix(rest, ":")
		n, err := strconv.Atoi(rest)
		if err != nil || n < 0 || n > 65535 {
			return "", fmt.Errorf("invalid vnc port or display in %q", addr)
		}
		switch {
		case literal:
			port = n
		case n < 100:
			port = basePort + n
		default:
			port = n
		}
	}
	return net.JoinHostPort(host, strconv.Itoa(port)), nil
}
