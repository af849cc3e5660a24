package telenet

import (
	"net"
	"net/url"
	"strings"
	"sync/atomic"
)

func addrString(a net.Addr) string {
	if a == nil {
		return ""
	}
	return a.String()
}

func parseURI(s string) (scheme, hostport string, err error) {
	u, err := url.ParseRequestURI(s)
	if err != nil {
		return "", "", err
	}
	return u.Scheme, u.Host, nil
}

func nextSeq(addr *uint32) uint32 {
	seq := atomic.AddUint32(addr, 1)
	if atomic.CompareAndSwapUint32(addr, 0, 1) {
		return 1
	}
	return seq
}

// BearerToken extracts token from "Bearer <token>" header value.
func BearerToken(header string) (string, bool) {
	const prefix = "Bearer "
	if len(header) < len(prefix) || !strings.EqualFold(header[:len(prefix)], prefix) {
		return "", false
	}
	return strings.TrimSpace(header[len(prefix):]), true
}

func BearerHeader(token string) string { return "Bearer " + token }
