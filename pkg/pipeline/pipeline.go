// Package pipeline turns one accepted connection into one response.
//
// Each connection carries exactly one request: the request line is read,
// the target resolved under the document root of the current configuration
// snapshot, content served from cache or disk, and the connection closed.
package pipeline

import (
	"context"
	"errors"
	"io"
	"net"
	"time"

	"github.com/marmos91/zest/internal/logger"
	"github.com/marmos91/zest/pkg/cache"
	"github.com/marmos91/zest/pkg/config"
	"github.com/marmos91/zest/pkg/fsys"
	"github.com/marmos91/zest/pkg/page"
	"github.com/marmos91/zest/pkg/wire"
)

// Version is reported in the Server header. Set at build time with
// -ldflags "-X github.com/marmos91/zest/pkg/pipeline.Version=...".
var Version = "0.4.0"

// lingerTimeout bounds how long unread request bytes are drained after the
// response has been written.
const lingerTimeout = 500 * time.Millisecond

// Banner returns the Server header value for info.
func Banner(info string) string {
	return "Zest/" + Version + " (" + info + ")"
}

// Pipeline serves requests. It is shared by every connection of every
// listener generation.
type Pipeline struct {
	holder *config.Holder
	cache  *cache.ContentCache
	lister fsys.Lister
}

// New creates a Pipeline. A nil lister uses the local filesystem.
func New(holder *config.Holder, c *cache.ContentCache, lister fsys.Lister) *Pipeline {
	if lister == nil {
		lister = fsys.OSLister{}
	}
	return &Pipeline{holder: holder, cache: c, lister: lister}
}

// Handle serves the single request carried by conn and closes it.
//
// It returns the response status and the raw request line for access
// logging. Handle never panics and never returns an error: failures become
// status codes. Cancelling ctx closes the connection mid-request.
func (p *Pipeline) Handle(ctx context.Context, conn net.Conn) (status int, requestLine string) {
	cfg := p.holder.Load()
	remote := conn.RemoteAddr().String()

	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()

	wrote := false
	defer func() {
		// Panic recovery - a single bad request must not take the server down
		if r := recover(); r != nil {
			logger.Error("Panic while serving %s (%q): %v", remote, requestLine, r)
			status = 500
			if !wrote {
				p.write(conn, cfg, statusResponse(cfg, nil, status))
			}
		}
		closeConn(conn)
	}()

	if cfg.Server.ReadTimeout > 0 {
		if err := conn.SetReadDeadline(time.Now().Add(cfg.Server.ReadTimeout)); err != nil {
			logger.Debug("Failed to set read deadline for %s: %v", remote, err)
		}
	}

	req, err := wire.ReadRequest(wire.NewReader(conn))
	requestLine = req.Line

	var resp *wire.Response
	switch {
	case errors.Is(err, wire.ErrUnsupportedMethod):
		resp = statusResponse(cfg, req, 501)
	case err != nil:
		logger.Debug("Bad request from %s: %v", remote, err)
		resp = statusResponse(cfg, req, 400)
	default:
		resp = p.serve(cfg, req)
	}

	wrote = true
	p.write(conn, cfg, resp)
	return resp.Status, requestLine
}

func (p *Pipeline) write(conn net.Conn, cfg *config.Config, resp *wire.Response) {
	if cfg.Server.WriteTimeout > 0 {
		if err := conn.SetWriteDeadline(time.Now().Add(cfg.Server.WriteTimeout)); err != nil {
			logger.Debug("Failed to set write deadline: %v", err)
		}
	}

	if _, err := resp.WriteTo(conn); err != nil {
		logger.Debug("Failed to write response to %s: %v", conn.RemoteAddr(), err)
	}
}

// closeConn half-closes TCP connections and drains what the client still
// sends (usually headers) so the kernel does not answer with a reset that
// could discard the response.
func closeConn(conn net.Conn) {
	if cw, ok := conn.(interface{ CloseWrite() error }); ok {
		if err := cw.CloseWrite(); err == nil {
			_ = conn.SetReadDeadline(time.Now().Add(lingerTimeout))
			_, _ = io.Copy(io.Discard, io.LimitReader(conn, wire.MaxRequestLine*8))
		}
	}
	_ = conn.Close()
}

// statusResponse builds a response whose body is the generated status page.
func statusResponse(cfg *config.Config, req *wire.Request, status int) *wire.Response {
	return &wire.Response{
		Proto:       req.ResponseProto(),
		Status:      status,
		Reason:      page.Reason(status),
		Server:      Banner(cfg.Server.Info),
		Date:        time.Now(),
		ContentType: page.ContentType,
		Body:        []byte(page.Status(status, Banner(cfg.Server.Info))),
	}
}
