package util

import (
	"net"
	"strings"
)

// NormalizeIP returns the canonical text form of an IP address so that
// equivalent spellings ("::ffff:1.2.3.4", "1.2.3.4") share one key. The
// second return is false when s is not an IP address.
func NormalizeIP(s string) (string, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return "", false
	}
	// Strip an IPv6 zone or surrounding brackets from header values.
	s = strings.TrimSuffix(strings.TrimPrefix(s, "["), "]")
	if i := strings.IndexByte(s, '%'); i != -1 {
		s = s[:i]
	}
	ip := net.ParseIP(s)
	if ip == nil {
		return "", false
	}
	if v4 := ip.To4(); v4 != nil {
		return v4.String(), true
	}
	return ip.String(), true
}

// IPKey normalizes s when it parses and otherwise returns it trimmed, so
// lookups on odd inputs still behave consistently.
func IPKey(s string) string {
	if n, ok := NormalizeIP(s); ok {
		return n
	}
	return strings.TrimSpace(s)
}
