package pipeline

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"syscall"
	"time"

	"github.com/marmos91/zest/internal/logger"
	"github.com/marmos91/zest/pkg/config"
	"github.com/marmos91/zest/pkg/contenttype"
	"github.com/marmos91/zest/pkg/page"
	"github.com/marmos91/zest/pkg/resolve"
	"github.com/marmos91/zest/pkg/wire"
)

// content is what a 200 response carries.
type content struct {
	body         []byte
	contentType  string
	lastModified time.Time
}

// serve answers a well-formed GET.
func (p *Pipeline) serve(cfg *config.Config, req *wire.Request) *wire.Response {
	res := resolve.Resolve(req.Target, cfg)

	switch res.Outcome {
	case resolve.Escaped:
		logger.Debug("Refusing %s: resolves outside root (%s)", req.Target, res.Path)
		return statusResponse(cfg, req, 301)
	case resolve.NotFound:
		return statusResponse(cfg, req, 404)
	}

	info, err := os.Stat(res.Path)
	if err != nil {
		logger.Error("Failed to stat %s: %v", res.Path, err)
		return statusResponse(cfg, req, 500)
	}

	var (
		c      *content
		status int
	)
	switch {
	case info.IsDir():
		c, status = p.serveDirectory(cfg, res)
	case info.Mode().IsRegular():
		c, status = p.serveFile(cfg, res)
	default:
		// FIFOs, sockets and devices: opening may block, reading may never end
		logger.Error("Refusing %s: not a regular file (%s)", res.Path, info.Mode().Type())
		status = 500
	}

	if status != 200 {
		return statusResponse(cfg, req, status)
	}

	return &wire.Response{
		Proto:        req.ResponseProto(),
		Status:       200,
		Reason:       page.Reason(200),
		Server:       Banner(cfg.Server.Info),
		Date:         time.Now(),
		ContentType:  c.contentType,
		LastModified: c.lastModified,
		Body:         c.body,
	}
}

// serveDirectory serves the location's index file when one is configured
// and present, otherwise the (cached) listing. Listings refused by a
// location rule or that cannot be enumerated are answered with 301.
func (p *Pipeline) serveDirectory(cfg *config.Config, res resolve.Result) (*content, int) {
	rule, hasRule := cfg.Location(res.Location)

	if hasRule && rule.Index != "" {
		index := resolve.Child(res, rule.Index, cfg)
		if index.Outcome == resolve.Found {
			if info, err := os.Stat(index.Path); err == nil && info.Mode().IsRegular() {
				return p.serveFile(cfg, index)
			}
		}
	}

	if hasRule && !rule.Listable() {
		logger.Debug("Listing of /%s disabled by location rule", res.Location)
		return nil, 301
	}

	if html, ok := p.cache.LookupListing(res.Location); ok {
		return &content{body: []byte(html), contentType: page.ContentType}, 200
	}

	entries, err := p.lister.List(res.Path)
	if err != nil {
		logger.Warn("Failed to list /%s: %v", res.Location, err)
		return nil, 301
	}

	html := page.Listing(res.Location, entries)
	p.cache.InsertListing(res.Location, html)

	return &content{body: []byte(html), contentType: page.ContentType}, 200
}

// serveFile serves file bytes from the cache, reading and caching them on a
// miss. Open and read failures are answered with 500.
func (p *Pipeline) serveFile(cfg *config.Config, res resolve.Result) (*content, int) {
	if data, ok := p.cache.LookupFile(res.Location); ok {
		c := &content{body: data, contentType: p.contentType(cfg, res.Path, data)}
		if info, err := os.Stat(res.Path); err == nil {
			c.lastModified = info.ModTime()
		}
		return c, 200
	}

	data, modTime, err := readFile(res.Path)
	if err != nil {
		logger.Error("Failed to read %s: %v", res.Path, err)
		return nil, 500
	}

	if !p.cache.InsertFile(res.Location, data) {
		logger.Debug("Not caching /%s: %d bytes exceeds file_maxsize", res.Location, len(data))
	}

	return &content{
		body:         data,
		contentType:  p.contentType(cfg, res.Path, data),
		lastModified: modTime,
	}, 200
}

func (p *Pipeline) contentType(cfg *config.Config, path string, data []byte) string {
	name := filepath.Base(path)
	if cfg.Server.SniffContentType {
		return contenttype.Detect(name, data)
	}
	return contenttype.Lookup(name)
}

// errNotRegular is returned by readFile for anything but a regular file.
var errNotRegular = errors.New("not a regular file")

// readFile reads a regular file. The open does not block if path has been
// replaced by a FIFO since it was checked.
func readFile(path string) ([]byte, time.Time, error) {
	f, err := os.OpenFile(path, os.O_RDONLY|syscall.O_NONBLOCK, 0)
	if err != nil {
		return nil, time.Time{}, err
	}
	defer func() { _ = f.Close() }()

	info, err := f.Stat()
	if err != nil {
		return nil, time.Time{}, fmt.Errorf("stat: %w", err)
	}
	if !info.Mode().IsRegular() {
		return nil, time.Time{}, errNotRegular
	}

	data, err := io.ReadAll(f)
	if err != nil {
		return nil, time.Time{}, fmt.Errorf("read: %w", err)
	}
	return data, info.ModTime(), nil
}
