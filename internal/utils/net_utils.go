package utils

import (
	"net"
	"regexp"
)

// PrivateLANPrefix matches the address ranges a dev machine usually has on
// the local network.
var PrivateLANPrefix = regexp.MustCompile(`^(192\.168\.|10\.)`)

// LocalIP returns the first IPv4 address of a local interface matching
// prefix, or "" when there is none.
func LocalIP(prefix *regexp.Regexp) string {
	addrs, err := net.InterfaceAddrs()
	if err != nil {
		return ""
	}
	return firstMatchingIPv4(addrs, prefix)
}

func firstMatchingIPv4(addrs []net.Addr, prefix *regexp.Regexp) string {
	for _, addr := range addrs {
		ipNet, ok := addr.(*net.IPNet)
		if !ok {
			continue
		}
		ip := ipNet.IP.To4()
		if ip == nil {
			continue
		}
		if prefix.MatchString(ip.String()) {
			return ip.String()
		}
	}
	return ""
}
