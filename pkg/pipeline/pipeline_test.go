package pipeline

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/marmos91/zest/pkg/cache"
	"github.com/marmos91/zest/pkg/config"
	"github.com/marmos91/zest/pkg/fsys"
	"github.com/marmos91/zest/pkg/page"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// countingLister wraps OSLister and counts enumerations.
type countingLister struct {
	calls atomic.Int32
	err   error
}

func (l *countingLister) List(dir string) ([]fsys.Entry, error) {
	l.calls.Add(1)
	if l.err != nil {
		return nil, l.err
	}
	return fsys.OSLister{}.List(dir)
}

type fixture struct {
	root   string
	cfg    *config.Config
	cache  *cache.ContentCache
	lister *countingLister
	p      *Pipeline
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "docs", "guide"), 0755))
	writeFile(t, filepath.Join(root, "hello.txt"), "hello world")
	writeFile(t, filepath.Join(root, "docs", "a.md"), "# a")
	writeFile(t, filepath.Join(root, "404.html"), "<p>custom</p>")

	cfg := config.GetDefaultConfig()
	cfg.Server.Root = root
	cfg.Server.ReadTimeout = 2 * time.Second
	cfg.Server.WriteTimeout = 2 * time.Second

	c, err := cache.New(4, 4, 1024, nil)
	require.NoError(t, err)

	lister := &countingLister{}
	return &fixture{
		root:   root,
		cfg:    cfg,
		cache:  c,
		lister: lister,
		p:      New(config.NewHolder(cfg), c, lister),
	}
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
}

type result struct {
	status int
	line   string
	resp   *http.Response
	body   string
}

// roundTrip sends request over an in-memory connection and parses the reply.
func (f *fixture) roundTrip(t *testing.T, request string) result {
	t.Helper()

	server, client := net.Pipe()
	type handled struct {
		status int
		line   string
	}
	done := make(chan handled, 1)
	go func() {
		status, line := f.p.Handle(context.Background(), server)
		done <- handled{status, line}
	}()

	require.NoError(t, client.SetDeadline(time.Now().Add(5*time.Second)))
	_, err := client.Write([]byte(request))
	require.NoError(t, err)

	raw, err := io.ReadAll(client)
	require.NoError(t, err)
	_ = client.Close()

	h := <-done

	resp, err := http.ReadResponse(bufio.NewReader(bytes.NewReader(raw)), nil)
	require.NoError(t, err, "raw response: %q", raw)
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	return result{status: h.status, line: h.line, resp: resp, body: string(body)}
}

func TestServeFile(t *testing.T) {
	f := newFixture(t)

	r := f.roundTrip(t, "GET /hello.txt HTTP/1.1\r\nHost: x\r\n\r\n")

	assert.Equal(t, 200, r.status)
	assert.Equal(t, "GET /hello.txt HTTP/1.1", r.line)
	assert.Equal(t, 200, r.resp.StatusCode)
	assert.Equal(t, "hello world", r.body)
	assert.Equal(t, "text/plain", r.resp.Header.Get("Content-Type"))
	assert.EqualValues(t, 11, r.resp.ContentLength)
	assert.True(t, strings.HasPrefix(r.resp.Header.Get("Server"), "Zest/"))
	assert.NotEmpty(t, r.resp.Header.Get("Date"))

	lastModified, err := http.ParseTime(r.resp.Header.Get("Last-Modified"))
	require.NoError(t, err)
	info, err := os.Stat(filepath.Join(f.root, "hello.txt"))
	require.NoError(t, err)
	assert.Equal(t, info.ModTime().Unix(), lastModified.Unix())
}

func TestServeFileFromCache(t *testing.T) {
	f := newFixture(t)

	f.roundTrip(t, "GET /hello.txt?v=1 HTTP/1.1\r\n\r\n")
	require.NoError(t, os.WriteFile(filepath.Join(f.root, "hello.txt"), []byte("changed"), 0644))
	r := f.roundTrip(t, "GET /hello.txt HTTP/1.1\r\n\r\n")

	assert.Equal(t, "hello world", r.body, "second request is served from cache")
	assert.Equal(t, 1, f.cache.Len(cache.File), "query string is not part of the key")
}

func TestOversizedFileIsServedButNotCached(t *testing.T) {
	f := newFixture(t)
	big := strings.Repeat("x", 2048)
	writeFile(t, filepath.Join(f.root, "big.bin"), big)

	r := f.roundTrip(t, "GET /big.bin HTTP/1.1\r\n\r\n")

	assert.Equal(t, 200, r.status)
	assert.Equal(t, big, r.body)
	assert.Equal(t, "application/octet-stream", r.resp.Header.Get("Content-Type"))
	assert.Equal(t, 0, f.cache.Len(cache.File))
}

func TestServeListing(t *testing.T) {
	f := newFixture(t)

	r := f.roundTrip(t, "GET /docs HTTP/1.1\r\n\r\n")

	assert.Equal(t, 200, r.status)
	assert.Equal(t, page.ContentType, r.resp.Header.Get("Content-Type"))
	assert.Contains(t, r.body, "Directory listing for /docs")
	assert.Contains(t, r.body, `<a href="/docs/a.md">a.md</a>`)
	assert.Contains(t, r.body, `<a href="/docs/guide/">guide/</a>`)
	assert.Empty(t, r.resp.Header.Get("Last-Modified"))

	again := f.roundTrip(t, "GET /docs/ HTTP/1.1\r\n\r\n")
	assert.Equal(t, r.body, again.body)
	assert.EqualValues(t, 1, f.lister.calls.Load(), "second listing is a cache hit")
}

func TestListingFailureIsRedirect(t *testing.T) {
	f := newFixture(t)
	f.lister.err = errors.New("permission denied")

	r := f.roundTrip(t, "GET /docs HTTP/1.1\r\n\r\n")

	assert.Equal(t, 301, r.status)
	assert.Contains(t, r.body, "301 Moved Permanently")
}

func TestLocationRules(t *testing.T) {
	f := newFixture(t)
	writeFile(t, filepath.Join(f.root, "docs", "guide", "index.html"), "<h1>guide</h1>")
	require.NoError(t, f.cfg.SetLocations(map[string]map[string]any{
		"/docs":       {"auto_index": false},
		"/docs/guide": {"index": "index.html"},
	}))

	r := f.roundTrip(t, "GET /docs HTTP/1.1\r\n\r\n")
	assert.Equal(t, 301, r.status, "auto_index disabled")

	r = f.roundTrip(t, "GET /docs/guide HTTP/1.1\r\n\r\n")
	assert.Equal(t, 200, r.status)
	assert.Equal(t, "<h1>guide</h1>", r.body)
	assert.Equal(t, "text/html", r.resp.Header.Get("Content-Type"))

	r = f.roundTrip(t, "GET /docs/a.md HTTP/1.1\r\n\r\n")
	assert.Equal(t, 200, r.status, "files below a non-indexed location are still served")
}

func TestErrorStatuses(t *testing.T) {
	tests := []struct {
		name    string
		request string
		status  int
		line    string
	}{
		{"missing file", "GET /missing.txt HTTP/1.1\r\n\r\n", 404, "GET /missing.txt HTTP/1.1"},
		{"escapes root", "GET /../../../../../../../../etc/passwd HTTP/1.1\r\n\r\n", 301, "GET /../../../../../../../../etc/passwd HTTP/1.1"},
		{"post", "POST /hello.txt HTTP/1.1\r\n\r\n", 501, "POST /hello.txt HTTP/1.1"},
		{"garbage", "hello\r\n", 400, "hello"},
		{"missing version", "GET /hello.txt\r\n", 400, "GET /hello.txt"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)

			r := f.roundTrip(t, tt.request)

			assert.Equal(t, tt.status, r.status)
			assert.Equal(t, tt.status, r.resp.StatusCode)
			assert.Equal(t, tt.line, r.line)
			assert.Equal(t, page.ContentType, r.resp.Header.Get("Content-Type"))
			assert.Equal(t, page.Status(tt.status, Banner(f.cfg.Server.Info)), r.body)
		})
	}
}

func TestEscapedPathIsRedirectEvenWhenTargetExists(t *testing.T) {
	f := newFixture(t)
	outside := filepath.Join(t.TempDir(), "secret.txt")
	writeFile(t, outside, "secret")
	require.NoError(t, os.Symlink(outside, filepath.Join(f.root, "secret")))

	r := f.roundTrip(t, "GET /secret HTTP/1.1\r\n\r\n")

	assert.Equal(t, 301, r.status)
	assert.NotContains(t, r.body, "secret")
}

func TestUnreadableFileIsInternalError(t *testing.T) {
	if os.Geteuid() == 0 {
		t.Skip("permissions are not enforced for root")
	}
	f := newFixture(t)
	path := filepath.Join(f.root, "locked.txt")
	writeFile(t, path, "locked")
	require.NoError(t, os.Chmod(path, 0))

	r := f.roundTrip(t, "GET /locked.txt HTTP/1.1\r\n\r\n")

	assert.Equal(t, 500, r.status)
	assert.Contains(t, r.body, "500 Internal Server Error")
}

func TestResponseEchoesRequestVersion(t *testing.T) {
	f := newFixture(t)

	r := f.roundTrip(t, "GET /hello.txt HTTP/1.0\r\n\r\n")

	assert.Equal(t, "HTTP/1.0", r.resp.Proto)
}

func TestSnapshotIsReadPerRequest(t *testing.T) {
	f := newFixture(t)
	holder := config.NewHolder(f.cfg)
	f.p = New(holder, f.cache, f.lister)

	next := *f.cfg
	next.Server.Info = "reloaded"
	holder.Store(&next)

	r := f.roundTrip(t, "GET /hello.txt HTTP/1.1\r\n\r\n")
	assert.Contains(t, r.resp.Header.Get("Server"), "(reloaded)")
}

func TestCancelledContextClosesConnection(t *testing.T) {
	f := newFixture(t)
	server, client := net.Pipe()
	defer client.Close()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan int, 1)
	go func() {
		status, _ := f.p.Handle(ctx, server)
		done <- status
	}()

	// No request is sent; cancellation must unblock the read
	cancel()

	select {
	case status := <-done:
		assert.Equal(t, 400, status)
	case <-time.After(3 * time.Second):
		t.Fatal("Handle did not return after cancellation")
	}
}
