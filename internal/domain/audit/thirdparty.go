package audit

import (
	"net"
	"net/url"
	"strings"

	"golang.org/x/net/publicsuffix"
)

// OriginClassifier decides whether captured request URLs are first- or
// third-party relative to a page's final URL. Two hosts are first-party to
// each other when they share a registrable domain (eTLD+1 per the public
// suffix list); when a registrable domain cannot be derived (IP literals,
// localhost, single-label hosts) the comparison falls back to exact hosts.
// Extra first-party host patterns widen the first-party set, e.g. for a
// CDN the site owns under a different domain.
type OriginClassifier struct {
	finalHost        string
	finalRegistrable string
	patterns         []string
}

// NewOriginClassifier builds a classifier for the given final URL and
// optional first-party host patterns ("cdn.example" or "*.cdn.example").
func NewOriginClassifier(finalURL string, firstPartyPatterns []string) *OriginClassifier {
	c := &OriginClassifier{}
	if host, ok := HostFromURL(finalURL); ok {
		c.finalHost = host
		c.finalRegistrable = registrableDomain(host)
	}
	for _, p := range firstPartyPatterns {
		normalized := strings.ToLower(strings.TrimSpace(p))
		if normalized != "" {
			c.patterns = append(c.patterns, normalized)
		}
	}
	return c
}

// IsThirdParty reports whether the request URL belongs to a different party
// than the final URL. Unparseable URLs and requests to the page's own host
// are never third-party; with no usable final URL nothing is.
func (c *OriginClassifier) IsThirdParty(rawURL string) bool {
	if c.finalHost == "" {
		return false
	}
	host, ok := HostFromURL(rawURL)
	if !ok {
		return false
	}
	if host == c.finalHost {
		return false
	}
	if matchAnyHostPattern(host, c.patterns) {
		return false
	}
	if c.finalRegistrable != "" {
		if rd := registrableDomain(host); rd != "" {
			return rd != c.finalRegistrable
		}
	}
	return true
}

// HostFromURL extracts the lower-cased host (port stripped, IPv6 brackets
// trimmed) from a raw URL. Scheme-less URLs like "example.com/path" are
// retried with a default scheme before giving up.
func HostFromURL(raw string) (string, bool) {
	u := strings.TrimSpace(raw)
	if u == "" {
		return "", false
	}
	parsed, err := url.Parse(u)
	//nolint:nestif // layered parsing handles scheme-less URLs without splitting logic across helpers
	if err != nil || parsed.Host == "" {
		if !strings.Contains(u, "://") {
			prefixed := u
			if strings.HasPrefix(prefixed, "//") {
				prefixed = "http:" + prefixed
			} else {
				prefixed = "http://" + prefixed
			}
			if p2, err2 := url.Parse(prefixed); err2 == nil && p2.Host != "" {
				parsed = p2
			} else {
				return "", false
			}
		} else {
			return "", false
		}
	}
	// Hostname strips the port and IPv6 brackets without mangling bracketed
	// IPv6 literals that carry no port.
	host := strings.ToLower(parsed.Hostname())
	if host == "" {
		return "", false
	}
	return host, true
}

// registrableDomain extracts the eTLD+1 from a host using the public suffix
// list, or "" when none can be derived. IP literals have no registrable
// domain; the suffix list's wildcard default would otherwise fabricate one
// from the trailing octets.
func registrableDomain(host string) string {
	host = strings.TrimSpace(strings.ToLower(host))
	if host == "" || net.ParseIP(host) != nil {
		return ""
	}
	etld1, err := publicsuffix.EffectiveTLDPlusOne(host)
	if err != nil {
		return ""
	}
	return etld1
}

// matchAnyHostPattern reports whether the host matches any pattern.
func matchAnyHostPattern(host string, patterns []string) bool {
	for _, p := range patterns {
		if matchHostPattern(host, p) {
			return true
		}
	}
	return false
}

// matchHostPattern performs simple wildcard matching ("*.example.com").
// A wildcard pattern also matches its own base domain.
func matchHostPattern(host, pattern string) bool {
	if host == pattern {
		return true
	}
	if !strings.HasPrefix(pattern, "*.") {
		return false
	}
	baseDomain := pattern[2:]
	if baseDomain == "" {
		return false
	}
	if !strings.HasSuffix(host, baseDomain) {
		return false
	}
	if len(host) == len(baseDomain) {
		return true
	}
	// Require a dot boundary so "evilexample.com" never matches "*.example.com".
	prefixLen := len(host) - len(baseDomain)
	return host[prefixLen-1] == '.'
}
