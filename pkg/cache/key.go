package cache

import (
	"net/url"
	"strings"
)

// Key builds a stable cache key from an entity kind, optional path parts and
// query parameters. Parameters are encoded in sorted order.
func Key(kind string, params url.Values, parts ...string) string {
	var b strings.Builder
	b.WriteString(kind)
	for _, p := range parts {
		b.WriteByte('/')
		b.WriteString(p)
	}
	if len(params) > 0 {
		b.WriteByte('?')
		b.WriteString(params.Encode())
	}
	return b.String()
}
