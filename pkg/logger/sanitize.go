package logger

import "strings"

// SanitizedOrigin masks the tail of a network origin for logging, keeping
// enough of the prefix to correlate events without recording the full
// address (e.g. "192.168.1.*" or "2001:db8:*").
func SanitizedOrigin(origin string) string {
	if origin == "" {
		return ""
	}

	// IPv6: keep the first two groups
	if strings.Contains(origin, ":") {
		groups := strings.Split(origin, ":")
		if len(groups) <= 2 {
			return origin
		}
		return strings.Join(groups[:2], ":") + ":*"
	}

	// IPv4: mask the last octet
	octets := strings.Split(origin, ".")
	if len(octets) != 4 {
		return "[invalid-origin]"
	}
	return strings.Join(octets[:3], ".") + ".*"
}
