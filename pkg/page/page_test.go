package page

import (
	"strings"
	"testing"

	"github.com/marmos91/zest/pkg/fsys"
	"github.com/stretchr/testify/assert"
)

func TestListing(t *testing.T) {
	body := Listing("docs", []fsys.Entry{
		{Name: "images", IsDir: true},
		{Name: "latest", IsSymlink: true},
		{Name: "read me.txt"},
	})

	assert.True(t, strings.HasPrefix(body, "<!DOCTYPE HTML>"))
	assert.Contains(t, body, "<title>Directory listing for /docs</title>")
	assert.Contains(t, body, "<h1>Directory listing for /docs</h1>")
	assert.Contains(t, body, `<li><a href="/docs/images/">images/</a></li>`)
	assert.Contains(t, body, `<li><a href="/docs/latest">latest@</a></li>`)
	assert.Contains(t, body, `<li><a href="/docs/read%20me.txt">read me.txt</a></li>`)
	assert.True(t, strings.HasSuffix(body, "</ul>\n<hr>\n</body>\n</html>\n"))

	// Entry order is preserved
	assert.Less(t, strings.Index(body, "images/"), strings.Index(body, "latest@"))
}

func TestListingRoot(t *testing.T) {
	body := Listing("", []fsys.Entry{{Name: "a.txt"}})

	assert.Contains(t, body, "<title>Directory listing for /</title>")
	assert.Contains(t, body, `<a href="/a.txt">a.txt</a>`)
}

func TestListingEscapesNames(t *testing.T) {
	body := Listing("x", []fsys.Entry{{Name: `<script>"&`}})

	assert.NotContains(t, body, "<script>")
	assert.Contains(t, body, "&lt;script&gt;&#34;&amp;")
}

func TestStatus(t *testing.T) {
	body := Status(404, "Zest/1.0.0 (Powered by Go)")

	assert.Contains(t, body, "<title>404 Not Found</title>")
	assert.Contains(t, body, "Zest/1.0.0 (Powered by Go)")
}

func TestReason(t *testing.T) {
	tests := map[int]string{
		200: "OK",
		301: "Moved Permanently",
		400: "Bad Request",
		404: "Not Found",
		501: "Not Implemented",
		500: "Internal Server Error",
		418: "Internal Server Error",
	}
	for code, want := range tests {
		assert.Equal(t, want, Reason(code), "code %d", code)
	}
}
