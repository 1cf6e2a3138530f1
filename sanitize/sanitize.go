/*
sanitize.go - HTML allowlist for user-authored content

PURPOSE:
  Post and answer bodies arrive as HTML from a rich-text editor. Everything
  outside a small formatting allowlist is stripped before the text reaches
  the store.

ALLOWED:
  p br strong em ul ol li code pre blockquote h1-h6
  a   (href, target, rel)
  img (src, alt, width, height)
  Links and images must use standard URL schemes (http, https, mailto).

SEE ALSO:
  - qa/store.go: Sanitizer interface consumed by the workflows
*/
package sanitize

import (
	"github.com/microcosm-cc/bluemonday"
)

// HTML strips disallowed markup from user content.
type HTML struct {
	policy *bluemonday.Policy
}

// New builds the content policy.
func New() *HTML {
	p := bluemonday.NewPolicy()
	p.AllowElements(
		"p", "br", "strong", "em", "ul", "ol", "li",
		"code", "pre", "blockquote",
		"h1", "h2", "h3", "h4", "h5", "h6",
	)
	p.AllowAttrs("href", "target", "rel").OnElements("a")
	p.AllowAttrs("src", "alt").OnElements("img")
	p.AllowAttrs("width", "height").Matching(bluemonday.Integer).OnElements("img")
	p.AllowStandardURLs()
	return &HTML{policy: p}
}

// Sanitize implements qa.Sanitizer.
func (h *HTML) Sanitize(text string) string {
	return h.policy.Sanitize(text)
}
