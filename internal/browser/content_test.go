package browser

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMarkdownify(t *testing.T) {
	html := `<div><h1>Title</h1><script>alert(1)</script><p>See <a href="https://x.test">the docs</a>.</p></div>`

	withLinks, err := Markdownify(html, true)
	require.NoError(t, err)
	assert.Contains(t, withLinks, "# Title")
	assert.Contains(t, withLinks, "[the docs](https://x.test)")
	assert.NotContains(t, withLinks, "alert")

	noLinks, err := Markdownify(html, false)
	require.NoError(t, err)
	assert.Contains(t, noLinks, "See the docs.")
	assert.NotContains(t, noLinks, "https://x.test")
}

func TestPageMarkdownFallsBackToWholeDocument(t *testing.T) {
	out, err := PageMarkdown(`<html><body><p>tiny</p></body></html>`, "https://x.test/")
	require.NoError(t, err)
	assert.Contains(t, out, "tiny")
}
