package sanitize

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/warp/qa-engine/qa"
)

var _ qa.Sanitizer = (*HTML)(nil)

func TestSanitize(t *testing.T) {
	s := New()

	tests := []struct {
		name string
		in   string
		want string
	}{
		{"formatting kept", "<p>Use <strong>ctx</strong> and <em>errgroup</em></p>", "<p>Use <strong>ctx</strong> and <em>errgroup</em></p>"},
		{"code kept", "<pre><code>go run .</code></pre>", "<pre><code>go run .</code></pre>"},
		{"script stripped", `<p>hi</p><script>alert(1)</script>`, "<p>hi</p>"},
		{"event handler stripped", `<p onclick="steal()">click</p>`, "<p>click</p>"},
		{"unknown element unwrapped", "<div>inside</div>", "inside"},
		{"javascript link dropped", `<a href="javascript:alert(1)">x</a>`, "x"},
		{"image size must be numeric", `<img src="https://example.com/a.png" width="abc" alt="a">`, `<img src="https://example.com/a.png" alt="a">`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, s.Sanitize(tt.in))
		})
	}
}

func TestSanitize_LinksKeepAllowedAttributes(t *testing.T) {
	out := New().Sanitize(`<a href="https://go.dev" target="_blank" rel="noopener" style="color:red">go</a>`)

	assert.Contains(t, out, `href="https://go.dev"`)
	assert.Contains(t, out, `target="_blank"`)
	assert.NotContains(t, out, "style")
}
