package handlers

import (
	"net"
	"net/http"
	"net/netip"
	"slices"
	"strings"
)

// RateLimiter throttles the /auth endpoints by key.
type RateLimiter interface {
	Allow(key string) bool
}

// authFlow names an /auth endpoint with its own rate-limit budget.
type authFlow string

const (
	flowSignUp    authFlow = "signup"
	flowInitiate  authFlow = "initiate"
	flowChallenge authFlow = "challenge"
)

// ClientResolver finds the client address of a request. X-Forwarded-For is
// read only when the connection comes from a trusted proxy, and then from
// the right: the first hop outside the trusted ranges is the client.
type ClientResolver struct {
	TrustedProxies []netip.Prefix
}

// ClientIP returns the client address of r.
func (c ClientResolver) ClientIP(r *http.Request) string {
	peer := remoteHost(r.RemoteAddr)
	addr, err := netip.ParseAddr(peer)
	if err != nil || !c.trusted(addr) {
		return peer
	}

	client := addr
	for _, header := range slices.Backward(r.Header.Values("X-Forwarded-For")) {
		hops := strings.Split(header, ",")
		for i := len(hops) - 1; i >= 0; i-- {
			hop, err := netip.ParseAddr(strings.TrimSpace(hops[i]))
			if err != nil {
				return client.String()
			}
			client = hop.Unmap()
			if !c.trusted(client) {
				return client.String()
			}
		}
	}
	return client.String()
}

func (c ClientResolver) trusted(addr netip.Addr) bool {
	addr = addr.Unmap()
	for _, prefix := range c.TrustedProxies {
		if prefix.Contains(addr) {
			return true
		}
	}
	return false
}

func remoteHost(remoteAddr string) string {
	remoteAddr = strings.TrimSpace(remoteAddr)
	if host, _, err := net.SplitHostPort(remoteAddr); err == nil && host != "" {
		return host
	}
	return remoteAddr
}

func rateLimitKey(flow authFlow, client string) string {
	return string(flow) + ":" + client
}
