// Package discovery turns resolved service records into connection targets.
// Network resolution itself (mDNS browsing) is outside of this package.
package discovery

import (
	"fmt"
	"strings"
	"sync"

	"github.com/juju/errors"
)

const (
	DefaultScheme = "wss"
	DefaultPath   = "/ws"
)

var ErrNoAddresses = errors.New("record has no addresses")

// Record is externally resolved service presence.
type Record struct {
	Addresses  []string          // ordered, only first is used
	Port       int
	Attributes map[string]string // TXT key=value pairs
	Hostname   string            // advertised, may be empty
}

type Target struct {
	URI string
	// PeerIdentity is expected TLS server name. Empty means none.
	PeerIdentity string
}

// BuildURI uses only the first address. Failover across addresses is left to caller.
func BuildURI(r Record) (Target, error) {
	if len(r.Addresses) == 0 {
		return Target{}, ErrNoAddresses
	}
	attr := func(k string) string { return r.Attributes[k] }

	scheme := attr("proto")
	if scheme == "" {
		scheme = DefaultScheme
	}
	path := attr("path")
	if u := attr("uri"); u != "" {
		if i := strings.Index(u, "://"); i >= 0 {
			scheme = u[:i]
			rest := u[i+3:]
			if j := strings.IndexByte(rest, '/'); j >= 0 {
				path = "/" + rest[j+1:]
			}
		}
	}
	path = sanitizePath(path)

	identity := attr("host")
	if identity == "" {
		identity = attr("sni")
	}
	if identity == "" {
		identity = r.Hostname
	}

	host := r.Addresses[0]
	if strings.Contains(host, ":") {
		host = "[" + host + "]"
	}
	return Target{
		URI:          fmt.Sprintf("%s://%s:%d%s", scheme, host, r.Port, path),
		PeerIdentity: identity,
	}, nil
}

func sanitizePath(p string) string {
	if p == "" {
		return DefaultPath
	}
	if !strings.HasPrefix(p, "/") {
		return "/" + p
	}
	return p
}

// ParseTXT converts DNS-SD TXT strings "key=value" into attributes.
// Keys are case-insensitive, first occurrence wins, key without "=" has empty value.
func ParseTXT(txt []string) map[string]string {
	m := make(map[string]string, len(txt))
	for _, s := range txt {
		k, v := s, ""
		if i := strings.IndexByte(s, '='); i >= 0 {
			k, v = s[:i], s[i+1:]
		}
		k = strings.ToLower(k)
		if k == "" {
			continue
		}
		if _, ok := m[k]; !ok {
			m[k] = v
		}
	}
	return m
}

// Cache is single slot of last resolved target. Safe for concurrent use.
type Cache struct {
	mu  sync.RWMutex
	t   Target
	set bool
}

// Update overwrites unconditionally.
func (c *Cache) Update(t Target) {
	c.mu.Lock()
	c.t, c.set = t, true
	c.mu.Unlock()
}

// Recall returns current slot, ok=false when never updated.
func (c *Cache) Recall() (Target, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.t, c.set
}
