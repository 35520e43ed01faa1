package spec

import (
	"net"
	"strconv"
	"strings"
)

// A ServerName is the name a matrix homeserver is identified by.
// It is a DNS name or IP address optionally followed by a port.
//
// https://spec.matrix.org/v1.8/appendices/#server-name
type ServerName string

// ParseAndValidateServerName splits a ServerName into a host and port part,
// and checks that it is a valid server name. If there is no explicit port
// then the returned port is -1.
func ParseAndValidateServerName(serverName ServerName) (host string, port int, valid bool) {
	if serverName == "" {
		return "", -1, false
	}
	host, port = splitServerName(serverName)
	switch {
	case host == "":
		return host, port, false
	case host[0] == '[':
		// IPv6 literals are bracketed.
		if host[len(host)-1] != ']' {
			return host, port, false
		}
		return host, port, net.ParseIP(host[1:len(host)-1]) != nil
	}
	if ip := net.ParseIP(host); ip != nil && ip.To4() != nil {
		return host, port, true
	}
	return host, port, strings.IndexFunc(host, func(r rune) bool { return !isDNSNameChar(r) }) < 0
}

func isDNSNameChar(r rune) bool {
	switch {
	case r >= 'A' && r <= 'Z', r >= 'a' && r <= 'z', r >= '0' && r <= '9':
		return true
	case r == '-' || r == '.':
		return true
	}
	return false
}

// splitServerName splits a ServerName into host and port without
// validating either.
func splitServerName(serverName ServerName) (string, int) {
	name := string(serverName)
	lastColon := strings.LastIndex(name, ":")
	if lastColon < 0 {
		return name, -1
	}
	port, err := strconv.ParseUint(name[lastColon+1:], 10, 16)
	if err != nil {
		// Probably the tail of an IPv6 literal rather than a port.
		return name, -1
	}
	return name[:lastColon], int(port)
}
