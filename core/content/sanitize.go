/*
Package content provides helpers for user generated content: HTML sanitizing,
mention extraction, slugs, previews and file name handling.
*/
package content

import (
	"html"
	"regexp"
	"strings"

	"github.com/microcosm-cc/bluemonday"
)

var (
	imageSource     = regexp.MustCompile(`(?i)^(https?:|data:image/)`)
	richTextPolicy  = newRichTextPolicy()
	plainTextPolicy = bluemonday.StrictPolicy()
)

func newRichTextPolicy() *bluemonday.Policy {
	p := bluemonday.NewPolicy()
	p.AllowElements("p", "br", "strong", "em", "u", "h1", "h2", "h3", "h4", "h5", "h6",
		"blockquote", "code", "pre", "ul", "ol", "li")
	p.AllowAttrs("href", "title", "target").OnElements("a")
	p.AllowAttrs("src").Matching(imageSource).OnElements("img")
	p.AllowAttrs("alt", "title").OnElements("img")
	p.AllowAttrs("width", "height").Matching(bluemonday.Number).OnElements("img")
	p.AllowURLSchemes("http", "https", "mailto")
	p.AllowDataURIImages()
	p.AllowRelativeURLs(true)
	p.RequireParseableURLs(true)
	p.RequireNoFollowOnLinks(true)
	return p
}

// Sanitize removes every tag, attribute and URL scheme which is not on the rich text
// allow-list. Links always carry rel="nofollow noopener", images only load from http,
// https and data URLs.
func Sanitize(s string) string {
	return strings.ReplaceAll(richTextPolicy.Sanitize(s), ` rel="nofollow"`, ` rel="nofollow noopener"`)
}

// StripHTML removes all tags and returns plain, unescaped text
func StripHTML(s string) string {
	return html.UnescapeString(plainTextPolicy.Sanitize(s))
}

var mentionPattern = regexp.MustCompile(`@(\w+)`)

// ExtractMentions returns the names of all @mentions in text, without the @ and
// without duplicates, in order of first appearance.
func ExtractMentions(text string) []string {
	matches := mentionPattern.FindAllStringSubmatch(text, -1)
	seen := make(map[string]bool, len(matches))
	mentions := []string{}
	for _, m := range matches {
		if !seen[m[1]] {
			seen[m[1]] = true
			mentions = append(mentions, m[1])
		}
	}
	return mentions
}

var slugPattern = regexp.MustCompile(`[^a-z0-9]+`)

// Slug lower-cases name and replaces every run of characters other than a-z and 0-9 with a dash
func Slug(name string) string {
	return slugPattern.ReplaceAllString(strings.ToLower(name), "-")
}

// Preview returns the first n runes of s
func Preview(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n])
}
