// Package wire implements the subset of HTTP/1.x framing the server speaks:
// one request line in, one response with a fixed header set out.
package wire

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strings"
)

// MaxRequestLine is the longest request line accepted, including CRLF.
const MaxRequestLine = 8 << 10

var (
	// ErrMalformedRequest covers every request line that is not
	// "METHOD /target HTTP/x.y".
	ErrMalformedRequest = errors.New("malformed request line")

	// ErrRequestLineTooLong is returned when no newline is found within
	// MaxRequestLine bytes.
	ErrRequestLineTooLong = fmt.Errorf("%w: exceeds %d bytes", ErrMalformedRequest, MaxRequestLine)

	// ErrUnsupportedMethod is returned for well-formed lines whose method is not GET.
	ErrUnsupportedMethod = errors.New("unsupported method")
)

// Request is a parsed request line.
type Request struct {
	Method string
	Target string
	Proto  string

	// Line is the raw request line without the trailing CRLF
	Line string
}

// NewReader returns a reader sized so that ReadRequest can enforce
// MaxRequestLine.
func NewReader(r io.Reader) *bufio.Reader {
	return bufio.NewReaderSize(r, MaxRequestLine)
}

// ReadRequest reads and parses the first line of a request. r must come from
// NewReader. Headers and body are never read.
//
// On a parse failure the returned Request still carries Line (and Proto when
// it was recognizable) so the caller can log it and answer in kind.
func ReadRequest(r *bufio.Reader) (*Request, error) {
	raw, err := r.ReadSlice('\n')
	switch {
	case errors.Is(err, bufio.ErrBufferFull):
		return &Request{Line: string(raw)}, ErrRequestLineTooLong
	case errors.Is(err, io.EOF) && len(raw) > 0:
		// Line terminated by the client closing its write side
	case err != nil:
		return &Request{}, fmt.Errorf("%w: %w", ErrMalformedRequest, err)
	}

	line := strings.TrimRight(string(raw), "\r\n")
	return ParseRequestLine(line)
}

// ParseRequestLine parses "METHOD /target HTTP/x.y".
func ParseRequestLine(line string) (*Request, error) {
	req := &Request{Line: line}

	parts := strings.Fields(line)
	if len(parts) != 3 {
		return req, ErrMalformedRequest
	}

	method, target, proto := parts[0], parts[1], parts[2]
	if !strings.HasPrefix(target, "/") || !validProto(proto) {
		return req, ErrMalformedRequest
	}

	req.Method, req.Target, req.Proto = method, target, proto

	if method != "GET" {
		return req, ErrUnsupportedMethod
	}
	return req, nil
}

// validProto accepts HTTP/<digit>[.<digit>].
func validProto(proto string) bool {
	version, ok := strings.CutPrefix(proto, "HTTP/")
	if !ok || version == "" {
		return false
	}

	major, minor, hasMinor := strings.Cut(version, ".")
	if !isDigits(major) {
		return false
	}
	return !hasMinor || isDigits(minor)
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, c := range s {
		if c < '0' || c > '9' {
			return false
		}
	}
	return true
}

// ResponseProto returns the protocol to answer with: the request's own when
// it was valid, HTTP/1.1 otherwise.
func (r *Request) ResponseProto() string {
	if r != nil && r.Proto != "" {
		return r.Proto
	}
	return DefaultProto
}
