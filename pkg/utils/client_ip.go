package utils

import (
	"net"
	"net/http"
	"strings"

	"github.com/turtacn/accessgate/pkg/constants"
)

// ClientIP resolves the caller's address with the precedence
// X-Forwarded-For (first entry) → X-Real-IP → CF-Connecting-IP → peer address → "unknown".
func ClientIP(header http.Header, remoteAddr string) string {
	if header != nil {
		if xff := header.Get(constants.HeaderForwardedFor); xff != "" {
			first := strings.TrimSpace(strings.Split(xff, ",")[0])
			if first != "" {
				return first
			}
		}
		if ip := strings.TrimSpace(header.Get(constants.HeaderRealIP)); ip != "" {
			return ip
		}
		if ip := strings.TrimSpace(header.Get(constants.HeaderCDNRealIP)); ip != "" {
			return ip
		}
	}
	if ip := stripPort(remoteAddr); ip != "" {
		return ip
	}
	return constants.UnknownClientIP
}

// stripPort removes the port from an address string.
// Handles both IPv4 ("192.168.1.1:8080") and IPv6 ("[::1]:8080") formats.
func stripPort(addr string) string {
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		return strings.TrimSpace(addr)
	}
	return host
}
