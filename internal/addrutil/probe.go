package addrutil

import (
	"net"
	"strconv"
	"strings"
)

// ProbeAddr joins the host part of addr with port. addr may be a bare host,
// an IP, or a host:port whose port is replaced.
func ProbeAddr(addr string, port int) (string, bool) {
	if port <= 0 {
		return "", false
	}

	host := Host(addr)
	if host == "" {
		return "", false
	}

	return net.JoinHostPort(host, strconv.Itoa(port)), true
}

// Host strips any port and brackets from addr.
func Host(addr string) string {
	a := strings.TrimSpace(addr)
	if a == "" {
		return ""
	}

	// Fast path: "host:port" (IPv4 or bracketed IPv6).
	if h, _, err := net.SplitHostPort(a); err == nil {
		return h
	}

	// Raw IPv6 without port.
	if ip := net.ParseIP(strings.Trim(a, "[]")); ip != nil {
		return ip.String()
	}

	// Handle unbracketed IPv6 "host:port" by peeling off the last ":port".
	if strings.Count(a, ":") > 1 && !strings.HasPrefix(a, "[") {
		if last := strings.LastIndexByte(a, ':'); last > 0 && last < len(a)-1 {
			host := a[:last]
			port := a[last+1:]
			if _, err := strconv.Atoi(port); err == nil {
				return host
			}
		}
	}

	return strings.Trim(a, "[]")
}
