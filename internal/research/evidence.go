package research

import (
	"net/url"
	"strings"
)

// EvidenceSet accumulates sources across iterations, keyed by canonical URL
// with insertion order preserved for stable citation numbering. Growth is
// union-only: a URL seen once is never replaced or removed. It is owned and
// mutated solely by the controller, so it carries no locking.
type EvidenceSet struct {
	order []string
	byURL map[string]Source
}

// NewEvidenceSet returns an empty evidence set.
func NewEvidenceSet() *EvidenceSet {
	return &EvidenceSet{byURL: make(map[string]Source)}
}

// Add stores a source under its canonical URL. The first source seen for a
// URL wins; later duplicates are discarded, not merged. Reports whether the
// source was stored.
func (e *EvidenceSet) Add(src Source) bool {
	key := CanonicalURL(src.URL)
	if key == "" {
		return false
	}
	if _, seen := e.byURL[key]; seen {
		return false
	}
	src.URL = key
	e.byURL[key] = src
	e.order = append(e.order, key)
	return true
}

// Merge adds every source from a batch, returning how many were new.
func (e *EvidenceSet) Merge(sources []Source) int {
	added := 0
	for _, s := range sources {
		if e.Add(s) {
			added++
		}
	}
	return added
}

// Len returns the number of unique sources.
func (e *EvidenceSet) Len() int { return len(e.order) }

// Sources returns the sources in insertion order.
func (e *EvidenceSet) Sources() []Source {
	out := make([]Source, 0, len(e.order))
	for _, key := range e.order {
		out = append(out, e.byURL[key])
	}
	return out
}

// Get returns the source stored for the canonical form of rawURL.
func (e *EvidenceSet) Get(rawURL string) (Source, bool) {
	s, ok := e.byURL[CanonicalURL(rawURL)]
	return s, ok
}

// CanonicalURL normalizes a URL into the identity key used for
// deduplication: lowercased scheme and host, default port dropped, fragment
// dropped, trailing slash trimmed. A string that does not parse is used
// as-is after trimming, so malformed-but-distinct sources still dedup
// exactly.
func CanonicalURL(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ""
	}
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return raw
	}
	u.Scheme = strings.ToLower(u.Scheme)
	host := strings.ToLower(u.Host)
	switch {
	case u.Scheme == "http" && strings.HasSuffix(host, ":80"):
		host = strings.TrimSuffix(host, ":80")
	case u.Scheme == "https" && strings.HasSuffix(host, ":443"):
		host = strings.TrimSuffix(host, ":443")
	}
	u.Host = host
	u.Fragment = ""
	u.Path = strings.TrimSuffix(u.Path, "/")
	return u.String()
}
