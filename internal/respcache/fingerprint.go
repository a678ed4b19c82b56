// Package respcache is a durable HTTP response cache with generation-scoped
// entries. It stores snapshots of successful responses keyed by a normalized
// request fingerprint and replays them without a network round-trip. Entries
// are versioned out-of-band: bumping the cache generation and activating it
// purges everything cached under prior generations.
//
// The response cache is independent of the record store. An entry's presence
// never implies the structured data behind it is fresh; the record store is
// the source of truth for structured reads, this cache only replays raw
// document and asset responses.
package respcache

import (
	"net/url"
	"path"
	"strings"

	"golang.org/x/text/unicode/norm"
)

// Fingerprint normalizes a request into the cache key: upper-case method and
// NFC-normalized path. The query string is dropped for route-like paths (no
// file extension on the last segment) so "/restaurant.html?id=3" and
// "/restaurant.html?id=7" share one document entry, while asset URLs keep
// their query in canonical sorted form.
func Fingerprint(method string, u *url.URL) string {
	p := u.Path
	if p == "" {
		p = "/"
	}
	p = norm.NFC.String(p)

	key := strings.ToUpper(method) + " " + p
	if routeLike(p) {
		return key
	}
	if q := u.Query().Encode(); q != "" {
		key += "?" + q
	}
	return key
}

// routeLike reports whether a path addresses a document route rather than a
// versioned asset. Documents carry an .html extension or none at all.
func routeLike(p string) bool {
	ext := path.Ext(p)
	return ext == "" || ext == ".html"
}
