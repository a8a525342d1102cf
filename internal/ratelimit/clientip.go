package ratelimit

import (
	"fmt"
	"net"
	"net/http"
	"strings"
)

// ClientIPResolver determines the client address of a request. Forwarding
// headers are honoured only when the peer is a trusted proxy; with no
// trusted proxies the peer address is always used.
type ClientIPResolver struct {
	trustedCIDRs []*net.IPNet
}

// NewClientIPResolver creates a resolver trusting the given proxies. Each
// entry is a CIDR or a single IP address.
func NewClientIPResolver(trustedProxies []string) (*ClientIPResolver, error) {
	cidrs := make([]*net.IPNet, 0, len(trustedProxies))
	for _, proxy := range trustedProxies {
		cidr, err := parseTrustedProxy(proxy)
		if err != nil {
			return nil, err
		}
		cidrs = append(cidrs, cidr)
	}
	return &ClientIPResolver{trustedCIDRs: cidrs}, nil
}

// ValidateTrustedProxy checks that proxy is a CIDR or an IP address.
func ValidateTrustedProxy(proxy string) error {
	_, err := parseTrustedProxy(proxy)
	return err
}

func parseTrustedProxy(proxy string) (*net.IPNet, error) {
	proxy = strings.TrimSpace(proxy)
	if _, cidr, err := net.ParseCIDR(proxy); err == nil {
		return cidr, nil
	}

	ip := net.ParseIP(proxy)
	if ip == nil {
		return nil, fmt.Errorf("invalid trusted proxy %q", proxy)
	}
	bits := 32
	if ip.To4() == nil {
		bits = 128
	}
	return &net.IPNet{IP: ip, Mask: net.CIDRMask(bits, bits)}, nil
}

// Resolve returns the client address for a request from remoteAddr. When
// the peer is trusted, X-Forwarded-For is walked right to left and the
// first untrusted hop is returned. A nil resolver trusts nobody.
func (r *ClientIPResolver) Resolve(remoteAddr string, headers http.Header) string {
	remoteIP := peerAddress(remoteAddr)
	if r == nil || len(r.trustedCIDRs) == 0 || !r.isTrusted(remoteIP) {
		return remoteIP
	}

	xff := headers.Get(headerXFF)
	if xff == "" {
		return remoteIP
	}

	hops := strings.Split(xff, ",")
	for i := len(hops) - 1; i >= 0; i-- {
		hop := strings.TrimSpace(hops[i])
		if hop == "" {
			continue
		}
		if !r.isTrusted(hop) {
			return hop
		}
	}
	return remoteIP
}

func (r *ClientIPResolver) isTrusted(addr string) bool {
	ip := net.ParseIP(addr)
	if ip == nil {
		return false
	}
	for _, cidr := range r.trustedCIDRs {
		if cidr.Contains(ip) {
			return true
		}
	}
	return false
}

// peerAddress strips the port from a peer address.
func peerAddress(addr string) string {
	if addr == "" {
		return unknownAddress
	}
	if host, _, err := net.SplitHostPort(addr); err == nil {
		return host
	}
	return strings.Trim(addr, "[]")
}
