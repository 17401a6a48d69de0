package research

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEvidenceSetDedup(t *testing.T) {
	ev := NewEvidenceSet()

	assert.True(t, ev.Add(Source{URL: "https://example.com/a", Title: "first", Query: "q1"}))
	assert.False(t, ev.Add(Source{URL: "https://example.com/a", Title: "second", Query: "q2"}))
	assert.Equal(t, 1, ev.Len())

	// First-seen wins; later duplicates are discarded, not merged.
	s, ok := ev.Get("https://example.com/a")
	assert.True(t, ok)
	assert.Equal(t, "first", s.Title)
}

func TestEvidenceSetDedupCanonical(t *testing.T) {
	ev := NewEvidenceSet()

	assert.True(t, ev.Add(Source{URL: "https://Example.com/a/"}))
	assert.False(t, ev.Add(Source{URL: "https://example.com:443/a#section"}))
	assert.Equal(t, 1, ev.Len())
}

func TestEvidenceSetOrderStable(t *testing.T) {
	ev := NewEvidenceSet()
	ev.Add(Source{URL: "https://a.test/1"})
	ev.Add(Source{URL: "https://b.test/2"})
	ev.Add(Source{URL: "https://c.test/3"})
	ev.Add(Source{URL: "https://b.test/2"}) // duplicate must not reorder

	urls := make([]string, 0, ev.Len())
	for _, s := range ev.Sources() {
		urls = append(urls, s.URL)
	}
	assert.Equal(t, []string{"https://a.test/1", "https://b.test/2", "https://c.test/3"}, urls)
}

func TestEvidenceSetMergeCounts(t *testing.T) {
	ev := NewEvidenceSet()
	added := ev.Merge([]Source{
		{URL: "https://a.test/1"},
		{URL: "https://a.test/1"},
		{URL: "https://b.test/2"},
		{URL: ""},
	})
	assert.Equal(t, 2, added)
	assert.Equal(t, 2, ev.Len())
}

func TestCanonicalURL(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"lowercases host", "https://EXAMPLE.com/Path", "https://example.com/Path"},
		{"strips fragment", "https://example.com/a#frag", "https://example.com/a"},
		{"strips trailing slash", "https://example.com/a/", "https://example.com/a"},
		{"strips default https port", "https://example.com:443/a", "https://example.com/a"},
		{"strips default http port", "http://example.com:80/a", "http://example.com/a"},
		{"keeps explicit port", "https://example.com:8443/a", "https://example.com:8443/a"},
		{"keeps query", "https://example.com/a?x=1", "https://example.com/a?x=1"},
		{"unparseable passthrough", "not a url", "not a url"},
		{"empty", "   ", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, CanonicalURL(tt.in))
		})
	}
}
