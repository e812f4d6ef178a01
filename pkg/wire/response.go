package wire

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"time"
)

// DefaultProto answers requests whose own protocol could not be parsed.
const DefaultProto = "HTTP/1.1"

// TimeFormat is the IMF-fixdate layout used by Date and Last-Modified.
const TimeFormat = "Mon, 02 Jan 2006 15:04:05 GMT"

// FormatTime renders t in TimeFormat, in UTC.
func FormatTime(t time.Time) string {
	return t.UTC().Format(TimeFormat)
}

// Response is a complete response. Headers are always written in the order
// Server, Date, Content-Length, Content-Type, Last-Modified.
type Response struct {
	Proto  string
	Status int
	Reason string

	Server      string
	Date        time.Time
	ContentType string

	// LastModified is omitted when zero
	LastModified time.Time

	Body []byte
}

// WriteTo writes the status line, headers and body to w and flushes.
func (r *Response) WriteTo(w io.Writer) (int64, error) {
	bw := bufio.NewWriter(w)

	proto := r.Proto
	if proto == "" {
		proto = DefaultProto
	}

	fmt.Fprintf(bw, "%s %d %s\r\n", proto, r.Status, r.Reason)
	writeHeader(bw, "Server", r.Server)
	writeHeader(bw, "Date", FormatTime(r.Date))
	writeHeader(bw, "Content-Length", strconv.Itoa(len(r.Body)))
	writeHeader(bw, "Content-Type", r.ContentType)
	if !r.LastModified.IsZero() {
		writeHeader(bw, "Last-Modified", FormatTime(r.LastModified))
	}
	bw.WriteString("\r\n")

	headerLen := int64(bw.Buffered())
	bw.Write(r.Body)

	// bufio.Writer keeps the first write error and reports it on Flush
	if err := bw.Flush(); err != nil {
		return 0, fmt.Errorf("write response: %w", err)
	}
	return headerLen + int64(len(r.Body)), nil
}

func writeHeader(w *bufio.Writer, name, value string) {
	w.WriteString(name)
	w.WriteString(": ")
	w.WriteString(value)
	w.WriteString("\r\n")
}
