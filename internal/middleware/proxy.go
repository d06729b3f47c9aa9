package middleware

import (
	"fmt"
	"net"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
)

// TrustedProxies configures Echo to believe X-Real-IP and X-Forwarded-For
// only when the direct peer is inside one of trustedCIDRs. Rate limiting,
// failed-login logs and the audit trail all key on c.RealIP(), so a client
// must not be able to spoof it by sending the headers itself.
//
// An invalid CIDR is a configuration error and is reported at startup.
func TrustedProxies(e *echo.Echo, trustedCIDRs []string) error {
	var trusted []*net.IPNet
	for _, cidr := range trustedCIDRs {
		_, network, err := net.ParseCIDR(cidr)
		if err != nil {
			return fmt.Errorf("parsing trusted proxy %q: %w", cidr, err)
		}
		trusted = append(trusted, network)
	}

	e.IPExtractor = buildIPExtractor(trusted)
	return nil
}

// buildIPExtractor returns an Echo IPExtractor that trusts forwarding
// headers only from connections originating in trusted networks.
func buildIPExtractor(trusted []*net.IPNet) echo.IPExtractor {
	return func(req *http.Request) string {
		directIP := extractDirectIP(req.RemoteAddr)
		if !isTrusted(directIP, trusted) {
			return directIP
		}

		if realIP := req.Header.Get("X-Real-IP"); realIP != "" {
			return strings.TrimSpace(realIP)
		}

		// Leftmost entry is the original client.
		if xff := req.Header.Get("X-Forwarded-For"); xff != "" {
			client, _, _ := strings.Cut(xff, ",")
			if client = strings.TrimSpace(client); client != "" {
				return client
			}
		}

		return directIP
	}
}

// extractDirectIP extracts the IP address from a "host:port" RemoteAddr string.
func extractDirectIP(remoteAddr string) string {
	host, _, err := net.SplitHostPort(remoteAddr)
	if err != nil {
		return remoteAddr
	}
	return host
}

// isTrusted returns true if the given IP falls within any of the trusted networks.
func isTrusted(ipStr string, trusted []*net.IPNet) bool {
	ip := net.ParseIP(ipStr)
	if ip == nil {
		return false
	}
	for _, network := range trusted {
		if network.Contains(ip) {
			return true
		}
	}
	return false
}
