// Package etag encodes task versions as weak entity tags of the form W/"<n>".
package etag

import (
	"errors"
	"strconv"
	"strings"
)

var ErrMalformed = errors.New(`malformed entity tag, expected W/"<version>"`)

const (
	weakPrefix = `W/"`
	suffix     = `"`
)

func Format(version int64) string {
	return weakPrefix + strconv.FormatInt(version, 10) + suffix
}

// Parse extracts the version from a weak tag. Strong tags, "*", lists and
// anything that is not a non-negative decimal are rejected.
func Parse(s string) (int64, error) {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, weakPrefix) || !strings.HasSuffix(s, suffix) || len(s) < len(weakPrefix)+len(suffix) {
		return 0, ErrMalformed
	}
	body := s[len(weakPrefix) : len(s)-len(suffix)]
	if body == "" {
		return 0, ErrMalformed
	}
	for _, ch := range body {
		if ch < '0' || ch > '9' {
			return 0, ErrMalformed
		}
	}
	v, err := strconv.ParseInt(body, 10, 64)
	if err != nil {
		return 0, ErrMalformed
	}
	return v, nil
}
