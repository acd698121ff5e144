package browser

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"

	md "github.com/JohannesKaufmann/html-to-markdown"
	"github.com/PuerkitoBio/goquery"
	"github.com/go-shiori/go-readability"
)

var blankLines = regexp.MustCompile(`\n{3,}`)

// Markdownify converts an HTML fragment or document to Markdown. With
// includeLinks false, anchors are replaced by their text.
func Markdownify(html string, includeLinks bool) (string, error) {
	conv := md.NewConverter("", true, nil)
	conv.Remove("script", "style", "noscript", "svg", "iframe")
	if !includeLinks {
		conv.AddRules(md.Rule{
			Filter: []string{"a"},
			Replacement: func(content string, _ *goquery.Selection, _ *md.Options) *string {
				return md.String(content)
			},
		})
	}
	out, err := conv.ConvertString(html)
	if err != nil {
		return "", fmt.Errorf("markdownify: %w", err)
	}
	return strings.TrimSpace(blankLines.ReplaceAllString(out, "\n\n")), nil
}

// Article is the readable part of a page.
type Article struct {
	Title   string
	Byline  string
	Content string // HTML
	Text    string
}

// Readable extracts the main content of an HTML page.
func Readable(html, pageURL string) (Article, error) {
	u, err := url.Parse(pageURL)
	if err != nil {
		return Article{}, fmt.Errorf("readable: %w", err)
	}
	article, err := readability.FromReader(strings.NewReader(html), u)
	if err != nil {
		return Article{}, fmt.Errorf("readable: %w", err)
	}
	return Article{
		Title:   article.Title,
		Byline:  article.Byline,
		Content: article.Content,
		Text:    article.TextContent,
	}, nil
}

// PageMarkdown reduces a full page to its readable content as Markdown,
// falling back to the whole document when extraction finds nothing.
func PageMarkdown(html, pageURL string) (string, error) {
	if a, err := Readable(html, pageURL); err == nil && strings.TrimSpace(a.Content) != "" {
		if out, err := Markdownify(a.Content, true); err == nil && out != "" {
			return out, nil
		}
		return strings.TrimSpace(a.Text), nil
	}
	return Markdownify(html, true)
}
