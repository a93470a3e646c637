package gateway

import (
	"context"
	"net"
	"net/http"
	"net/netip"
	"strings"
)

type clientIPKey struct{}

// ProxyTrust derives the client address of a request. X-Forwarded-For is read
// only when the peer is a trusted proxy, and then from the right: the first hop
// that is not itself a trusted proxy is the client.
type ProxyTrust struct {
	trusted []netip.Prefix
}

// NewProxyTrust trusts peers inside prefixes. With none, X-Forwarded-For is
// ignored.
func NewProxyTrust(prefixes []netip.Prefix) ProxyTrust {
	return ProxyTrust{trusted: prefixes}
}

func (p ProxyTrust) trusts(addr netip.Addr) bool {
	addr = addr.Unmap()
	for _, prefix := range p.trusted {
		if prefix.Contains(addr) {
			return true
		}
	}
	return false
}

// ClientIP resolves the client address of r.
func (p ProxyTrust) ClientIP(r *http.Request) string {
	peer := remoteHost(r)
	addr, err := netip.ParseAddr(peer)
	if err != nil || !p.trusts(addr) {
		return peer
	}
	client := addr
	hops := strings.Split(strings.Join(r.Header.Values("X-Forwarded-For"), ","), ",")
	for i := len(hops) - 1; i >= 0; i-- {
		hop, err := netip.ParseAddr(strings.TrimSpace(hops[i]))
		if err != nil {
			break
		}
		client = hop.Unmap()
		if !p.trusts(client) {
			break
		}
	}
	return client.String()
}

// Middleware records the resolved client address for ClientIP.
func (p ProxyTrust) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := context.WithValue(r.Context(), clientIPKey{}, p.ClientIP(r))
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// ClientIP returns the address recorded by ProxyTrust.Middleware, else the
// peer address. Forwarding headers are never read here.
func ClientIP(r *http.Request) string {
	if ip, ok := r.Context().Value(clientIPKey{}).(string); ok && ip != "" {
		return ip
	}
	return remoteHost(r)
}

func remoteHost(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
