// Package resolve maps a request target onto a canonical filesystem path
// under the document root.
package resolve

import (
	"net/url"
	"path/filepath"
	"strings"

	"github.com/marmos91/zest/pkg/config"
)

// Outcome classifies a resolution.
type Outcome int

const (
	// Found: Path exists and is inside the root.
	Found Outcome = iota

	// NotFound: the target does not exist. Path is the canonical error page,
	// or empty when the error page is missing too.
	NotFound

	// Escaped: the target exists but canonicalizes outside the root.
	Escaped
)

func (o Outcome) String() string {
	switch o {
	case Found:
		return "found"
	case NotFound:
		return "not_found"
	case Escaped:
		return "escaped"
	default:
		return "unknown"
	}
}

// Result is the outcome of resolving one request target.
type Result struct {
	Outcome Outcome

	// Path is the canonical absolute path (symlinks evaluated)
	Path string

	// Location is Path relative to the canonical root in slash form, "" for
	// the root itself. It is the cache key for Path.
	Location string
}

// Resolve maps fragment, the request target ("/docs/a%20b.txt?v=1"), onto
// the document root of cfg.
//
// The query string and fragment are dropped before percent-decoding, so an
// encoded '?' stays part of the file name. Resolve only touches the
// filesystem to canonicalize paths.
func Resolve(fragment string, cfg *config.Config) Result {
	root := canonicalRoot(cfg.Server.Root)

	target := strings.TrimPrefix(fragment, "/")
	if i := strings.IndexAny(target, "?#"); i >= 0 {
		target = target[:i]
	}

	decoded, err := url.PathUnescape(target)
	if err != nil || strings.ContainsRune(decoded, 0) {
		return notFound(root, cfg)
	}

	canonical, err := canonicalize(filepath.Join(root, filepath.FromSlash(decoded)))
	if err != nil {
		return notFound(root, cfg)
	}

	location, inside := relative(root, canonical)
	if !inside && !cfg.Server.AllowOutsideRoot {
		return Result{Outcome: Escaped, Path: canonical, Location: location}
	}

	return Result{Outcome: Found, Path: canonical, Location: location}
}

// Child resolves name inside the directory parent (a Found result) with the
// same containment rule as Resolve. A missing child is NotFound with an
// empty Path; the error page is not substituted.
func Child(parent Result, name string, cfg *config.Config) Result {
	root := canonicalRoot(cfg.Server.Root)

	canonical, err := canonicalize(filepath.Join(parent.Path, filepath.FromSlash(name)))
	if err != nil {
		return Result{Outcome: NotFound}
	}

	location, inside := relative(root, canonical)
	if !inside && !cfg.Server.AllowOutsideRoot {
		return Result{Outcome: Escaped, Path: canonical, Location: location}
	}
	return Result{Outcome: Found, Path: canonical, Location: location}
}

// notFound resolves the configured error page. The error page is subject to
// the same containment rule as any other path.
func notFound(root string, cfg *config.Config) Result {
	page, err := canonicalize(filepath.Join(root, filepath.FromSlash(cfg.Server.ErrorPage)))
	if err != nil {
		return Result{Outcome: NotFound}
	}

	location, inside := relative(root, page)
	if !inside && !cfg.Server.AllowOutsideRoot {
		return Result{Outcome: NotFound}
	}

	return Result{Outcome: NotFound, Path: page, Location: location}
}

func canonicalRoot(root string) string {
	canonical, err := canonicalize(root)
	if err != nil {
		return filepath.Clean(root)
	}
	return canonical
}

func canonicalize(path string) (string, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", err
	}
	return filepath.EvalSymlinks(abs)
}

// relative returns path relative to root in slash form and whether path is
// inside root.
func relative(root, path string) (string, bool) {
	rel, err := filepath.Rel(root, path)
	if err != nil {
		return filepath.ToSlash(path), false
	}

	if rel == "." {
		return "", true
	}

	rel = filepath.ToSlash(rel)
	if rel == ".." || strings.HasPrefix(rel, "../") {
		return rel, false
	}
	return rel, true
}
