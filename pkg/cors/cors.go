// Package cors implements the cross-origin policy evaluator for the gateway.
//
// The gateway speaks raw HTTP/1.1 on the wire, so the evaluator produces
// ready-to-write header lines rather than mutating an http.ResponseWriter.
// Evaluation is exact-match only: an origin that merely contains an allowed
// origin as a substring is denied.
package cors

import (
	"strconv"
	"strings"
)

// MaxOriginLength is the longest Origin header value the evaluator will
// consider. Longer values are denied outright, which keeps pathological
// header values from costing anything beyond a length check.
const MaxOriginLength = 2048

// Fixed preflight policy. The gateway fronts a single inference backend,
// so the method and header sets never vary per route.
const (
	allowedMethods = "GET, POST, OPTIONS"
	allowedHeaders = "Authorization, Content-Type"
	maxAgeSeconds  = 86400
)

// Policy evaluates Origin headers against a configured allow-list.
// A Policy is immutable once built and safe for concurrent use.
type Policy struct {
	enabled  bool
	wildcard bool
	origins  map[string]struct{}
}

// HeaderLine is a single "Name: value" response header pair.
type HeaderLine struct {
	Name  string
	Value string
}

// NewPolicy parses a comma-separated origin list into a Policy.
// Entries are trimmed and one trailing slash is stripped from each.
// A "*" anywhere in the list selects wildcard mode. An empty list
// disables CORS entirely.
func NewPolicy(originList string) *Policy {
	p := &Policy{origins: make(map[string]struct{})}

	for _, entry := range strings.Split(originList, ",") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		if entry == "*" {
			p.wildcard = true
			p.enabled = true
			continue
		}
		entry = strings.TrimSuffix(entry, "/")
		p.origins[entry] = struct{}{}
		p.enabled = true
	}

	return p
}

// Enabled reports whether any origin configuration is present.
func (p *Policy) Enabled() bool {
	return p.enabled
}

// Evaluate returns the CORS header lines to attach for the given Origin
// header value, or nil when cross-origin access is not granted.
//
// Wildcard mode returns a fixed header set with no Vary header. Allow-list
// mode echoes the origin on an exact, case-sensitive match and adds
// "Vary: Origin" so caches do not serve one origin's grant to another.
func (p *Policy) Evaluate(origin string) []HeaderLine {
	if !p.enabled || origin == "" || len(origin) > MaxOriginLength {
		return nil
	}

	if p.wildcard {
		return []HeaderLine{
			{"Access-Control-Allow-Origin", "*"},
			{"Access-Control-Allow-Methods", allowedMethods},
			{"Access-Control-Allow-Headers", allowedHeaders},
			{"Access-Control-Max-Age", strconv.Itoa(maxAgeSeconds)},
		}
	}

	if _, ok := p.origins[origin]; !ok {
		return nil
	}

	return []HeaderLine{
		{"Access-Control-Allow-Origin", origin},
		{"Access-Control-Allow-Methods", allowedMethods},
		{"Access-Control-Allow-Headers", allowedHeaders},
		{"Access-Control-Max-Age", strconv.Itoa(maxAgeSeconds)},
		{"Vary", "Origin"},
	}
}
