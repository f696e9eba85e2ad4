package security

import (
	"net"
	"net/http"
	"strings"
)

// ClientIPResolver extracts the client address used for rate limiting and
// audit logs.
//
// Only set TrustProxy when running behind a reverse proxy that overwrites
// X-Forwarded-For; otherwise clients can spoof their address.
type ClientIPResolver struct {
	// TrustProxy enables the X-Forwarded-For and X-Real-IP headers.
	TrustProxy bool

	// TrustedProxyCount is the number of proxies, counted from the right of
	// X-Forwarded-For, that belong to this deployment. 0 means 1.
	TrustedProxyCount int
}

// Resolve returns the client IP of r.
func (c ClientIPResolver) Resolve(r *http.Request) string {
	if c.TrustProxy {
		if ip := ipFromForwardedFor(r.Header.Get("X-Forwarded-For"), c.TrustedProxyCount); ip != "" {
			return ip
		}
		if ip := validIP(strings.TrimSpace(r.Header.Get("X-Real-IP"))); ip != "" {
			return ip
		}
	}
	return ipFromRemoteAddr(r.RemoteAddr)
}

// ipFromForwardedFor picks the entry just left of the trusted proxies in a
// "client, proxy1, proxy2" header. Too short a list yields the leftmost entry.
func ipFromForwardedFor(xff string, trustedProxyCount int) string {
	if xff == "" {
		return ""
	}
	if trustedProxyCount <= 0 {
		trustedProxyCount = 1
	}

	ips := strings.Split(xff, ",")
	idx := max(len(ips)-trustedProxyCount-1, 0)
	return validIP(strings.TrimSpace(ips[idx]))
}

func validIP(s string) string {
	if s != "" && net.ParseIP(s) != nil {
		return s
	}
	return ""
}

func ipFromRemoteAddr(remoteAddr string) string {
	host, _, err := net.SplitHostPort(remoteAddr)
	if err != nil {
		return remoteAddr
	}
	return host
}
