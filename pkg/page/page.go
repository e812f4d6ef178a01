// Package page renders the HTML bodies generated by the server: directory
// listings and status pages.
package page

import (
	"fmt"
	"html"
	"net/url"
	"strings"

	"github.com/marmos91/zest/pkg/fsys"
)

// ContentType of every generated page.
const ContentType = "text/html; charset=utf-8"

// Listing renders the directory listing of location (root-relative, slash
// form, "" for the root). Directories are suffixed with "/", symlinks with "@".
func Listing(location string, entries []fsys.Entry) string {
	title := html.EscapeString("/" + location)

	var b strings.Builder
	fmt.Fprintf(&b, `<!DOCTYPE HTML>
<html lang="en">
<head>
<meta charset="utf-8">
<title>Directory listing for %s</title>
</head>
<body>
<h1>Directory listing for %s</h1>
<hr>
<ul>`, title, title)

	base := "/"
	if location != "" {
		base = "/" + escapePath(location) + "/"
	}

	for _, e := range entries {
		href := base + url.PathEscape(e.Name)
		display := e.Name
		switch {
		case e.IsDir:
			href += "/"
			display += "/"
		case e.IsSymlink:
			display += "@"
		}
		fmt.Fprintf(&b, "\n<li><a href=\"%s\">%s</a></li>",
			html.EscapeString(href), html.EscapeString(display))
	}

	b.WriteString("\n</ul>\n<hr>\n</body>\n</html>\n")
	return b.String()
}

func escapePath(location string) string {
	segments := strings.Split(location, "/")
	for i, s := range segments {
		segments[i] = url.PathEscape(s)
	}
	return strings.Join(segments, "/")
}

// Status renders the body sent with every non-200 response.
func Status(code int, banner string) string {
	line := fmt.Sprintf("%d %s", code, Reason(code))
	return fmt.Sprintf(`<!DOCTYPE HTML>
<html lang="en">
<head>
<meta charset="utf-8">
<title>%s</title>
</head>
<body>
<center><h1>%s</h1></center>
<hr>
<center>%s</center>
</body>
</html>
`, line, line, html.EscapeString(banner))
}

// Reason returns the reason phrase for the status codes the server emits.
// Anything else is reported as an internal error.
func Reason(code int) string {
	switch code {
	case 200:
		return "OK"
	case 301:
		return "Moved Permanently"
	case 400:
		return "Bad Request"
	case 404:
		return "Not Found"
	case 501:
		return "Not Implemented"
	default:
		return "Internal Server Error"
	}
}
