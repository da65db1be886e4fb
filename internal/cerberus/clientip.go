package cerberus

import (
	"net"
	"net/http"
	"strings"

	"github.com/Wikid82/warden/internal/util"
)

// UnknownIP is recorded when no address can be resolved for a request.
const UnknownIP = "unknown"

// TrustedProxies decides whether forwarded-address headers on a request
// can be believed. It is immutable after construction and safe for
// concurrent use.
type TrustedProxies struct {
	nets []*net.IPNet
	ips  []net.IP
}

// NewTrustedProxies parses a list of IP addresses and CIDR ranges. Entries
// that parse as neither are ignored.
func NewTrustedProxies(entries []string) *TrustedProxies {
	tp := &TrustedProxies{}
	for _, entry := range entries {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		if strings.Contains(entry, "/") {
			if _, network, err := net.ParseCIDR(entry); err == nil {
				tp.nets = append(tp.nets, network)
				continue
			}
		}
		if ip := net.ParseIP(entry); ip != nil {
			tp.ips = append(tp.ips, ip)
		}
	}
	return tp
}

// Configured reports whether any proxy is trusted.
func (tp *TrustedProxies) Configured() bool {
	return tp != nil && (len(tp.nets) > 0 || len(tp.ips) > 0)
}

// IsTrusted reports whether ip is a trusted proxy.
func (tp *TrustedProxies) IsTrusted(ip string) bool {
	if !tp.Configured() {
		return false
	}
	key, ok := util.NormalizeIP(ip)
	if !ok {
		return false
	}
	parsed := net.ParseIP(key)
	for _, t := range tp.ips {
		if t.Equal(parsed) {
			return true
		}
	}
	for _, n := range tp.nets {
		if n.Contains(parsed) {
			return true
		}
	}
	return false
}

// ClientIP resolves the caller's address. Headers are consulted in a fixed
// order: CF-Connecting-IP, the first hop of X-Forwarded-For, X-Real-IP; the
// socket peer comes last. With trusted proxies configured, headers count
// only when the peer is one of them. Returns UnknownIP if nothing parses.
func ClientIP(r *http.Request, trusted *TrustedProxies) string {
	peer := peerIP(r.RemoteAddr)

	if !trusted.Configured() || trusted.IsTrusted(peer) {
		if ip, ok := util.NormalizeIP(r.Header.Get("CF-Connecting-IP")); ok {
			return ip
		}
		if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
			first, _, _ := strings.Cut(xff, ",")
			if ip, ok := util.NormalizeIP(first); ok {
				return ip
			}
		}
		if ip, ok := util.NormalizeIP(r.Header.Get("X-Real-IP")); ok {
			return ip
		}
	}

	if ip, ok := util.NormalizeIP(peer); ok {
		return ip
	}
	return UnknownIP
}

func peerIP(remoteAddr string) string {
	if host, _, err := net.SplitHostPort(remoteAddr); err == nil {
		return host
	}
	return remoteAddr
}
