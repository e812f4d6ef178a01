// Package access decides whether a client address may be served.
//
// Rules:
//   - a non-empty allow-list admits only matching addresses; the block-list
//     is then never consulted
//   - otherwise a matching block-list entry denies
//   - otherwise the client is allowed
package access

import (
	"fmt"
	"net/netip"
	"strings"
)

// Filter is an immutable allow/block decision built from one configuration
// snapshot.
type Filter struct {
	allow []netip.Prefix
	block []netip.Prefix
}

// New parses allow and block entries. Each entry is a CIDR range or a single
// address, which is treated as a full-length prefix.
func New(allow, block []string) (*Filter, error) {
	allowPrefixes, err := parsePrefixes(allow)
	if err != nil {
		return nil, fmt.Errorf("allowlist: %w", err)
	}
	blockPrefixes, err := parsePrefixes(block)
	if err != nil {
		return nil, fmt.Errorf("blocklist: %w", err)
	}

	return &Filter{allow: allowPrefixes, block: blockPrefixes}, nil
}

func parsePrefixes(entries []string) ([]netip.Prefix, error) {
	prefixes := make([]netip.Prefix, 0, len(entries))
	for _, entry := range entries {
		entry = strings.TrimSpace(entry)

		if strings.Contains(entry, "/") {
			p, err := netip.ParsePrefix(entry)
			if err != nil {
				return nil, fmt.Errorf("invalid CIDR %q: %w", entry, err)
			}
			prefixes = append(prefixes, p.Masked())
			continue
		}

		addr, err := netip.ParseAddr(entry)
		if err != nil {
			return nil, fmt.Errorf("invalid address %q: %w", entry, err)
		}
		addr = addr.Unmap()
		prefixes = append(prefixes, netip.PrefixFrom(addr, addr.BitLen()))
	}
	return prefixes, nil
}

// Allowed reports whether addr may be served.
func (f *Filter) Allowed(addr netip.Addr) bool {
	addr = addr.Unmap()

	if len(f.allow) > 0 {
		return matchAny(f.allow, addr)
	}
	if len(f.block) > 0 && matchAny(f.block, addr) {
		return false
	}
	return true
}

func matchAny(prefixes []netip.Prefix, addr netip.Addr) bool {
	for _, p := range prefixes {
		if p.Contains(addr) {
			return true
		}
	}
	return false
}
