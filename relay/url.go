package relay

import (
	"fmt"
	"strings"
)

// URL is a normalized relay address: scheme and host lowercased,
// default ports (80 for ws, 443 for wss) stripped, and any trailing
// slash removed — two relays that differ only by casing or an explicit
// default port are the same relay.
type URL string

// Normalize validates and canonicalizes a relay URL string.
func Normalize(raw string) (URL, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return "", fmt.Errorf("relay: empty url")
	}
	schemeSep := strings.Index(s, "://")
	if schemeSep < 0 {
		return "", fmt.Errorf("relay: url %q has no scheme", raw)
	}
	scheme := strings.ToLower(s[:schemeSep])
	if scheme != "ws" && scheme != "wss" {
		return "", fmt.Errorf("relay: url %q must use ws or wss", raw)
	}
	rest := s[schemeSep+3:]

	hostEnd := strings.IndexAny(rest, "/?#")
	host := rest
	path := ""
	if hostEnd >= 0 {
		host = rest[:hostEnd]
		path = rest[hostEnd:]
	}
	if host == "" {
		return "", fmt.Errorf("relay: url %q has no host", raw)
	}
	host = strings.ToLower(host)

	if i := strings.LastIndex(host, ":"); i >= 0 && !strings.Contains(host[i:], "]") {
		port := host[i+1:]
		hostname := host[:i]
		if (scheme == "ws" && port == "80") || (scheme == "wss" && port == "443") {
			host = hostname
		}
	}

	path = strings.TrimSuffix(path, "/")
	return URL(scheme + "://" + host + path), nil
}

func (u URL) String() string { return string(u) }
