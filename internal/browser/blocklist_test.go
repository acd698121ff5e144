package browser

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBlocklist(t *testing.T) {
	b := NewBlocklist("example.com", "*.news.test/paywall/**", "  ")

	tests := []struct {
		url  string
		want bool
	}{
		{"https://example.com/a", true},
		{"https://www.EXAMPLE.com", true},
		{"https://notexample.com/", false},
		{"https://daily.news.test/paywall/2024/story", true},
		{"https://daily.news.test/free/story", false},
		{"not a url", false},
		{"", false},
	}
	for _, tt := range tests {
		t.Run(tt.url, func(t *testing.T) {
			assert.Equal(t, tt.want, b.Blocked(tt.url))
		})
	}
}

func TestBlocklistAddDeduplicates(t *testing.T) {
	b := NewBlocklist()
	b.Add("Site.test")
	b.Add("site.test")
	assert.Equal(t, []string{"site.test"}, b.Patterns())
	assert.True(t, b.Blocked("http://site.test:8080/x"))
}

func TestHost(t *testing.T) {
	assert.Equal(t, "example.com", Host("https://Example.com:443/path"))
	assert.Equal(t, "", Host("::"))
}
