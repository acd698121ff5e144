package browser

import (
	"net/url"
	"slices"
	"strings"
	"sync"

	"github.com/bmatcuk/doublestar/v4"
)

// Blocklist holds sites agents must not visit. A plain host pattern
// ("example.com") blocks the host and its subdomains; anything with a slash
// or glob characters is matched against host+path with doublestar, e.g.
// "*.example.com/private/**".
type Blocklist struct {
	mu       sync.RWMutex
	patterns []string
}

func NewBlocklist(patterns ...string) *Blocklist {
	b := &Blocklist{}
	for _, p := range patterns {
		b.Add(p)
	}
	return b
}

// Add records a pattern. Adding the same pattern twice is a no-op.
func (b *Blocklist) Add(pattern string) {
	pattern = strings.ToLower(strings.TrimSpace(pattern))
	if pattern == "" {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if !slices.Contains(b.patterns, pattern) {
		b.patterns = append(b.patterns, pattern)
	}
}

func (b *Blocklist) Patterns() []string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return slices.Clone(b.patterns)
}

// Blocked reports whether rawURL matches any pattern. Unparseable URLs are
// not blocked.
func (b *Blocklist) Blocked(rawURL string) bool {
	u, err := url.Parse(rawURL)
	if err != nil || u.Host == "" {
		return false
	}
	host := strings.ToLower(u.Hostname())
	p := u.EscapedPath()
	if p == "" {
		p = "/"
	}
	target := host + p

	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, pat := range b.patterns {
		if !strings.ContainsAny(pat, "/*?[{") {
			if host == pat || strings.HasSuffix(host, "."+pat) {
				return true
			}
			continue
		}
		if ok, _ := doublestar.Match(pat, target); ok {
			return true
		}
	}
	return false
}

// Host returns the lowercase host of rawURL, or "" if it has none.
func Host(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	return strings.ToLower(u.Hostname())
}
