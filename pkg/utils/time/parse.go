// ABOUTME: Timestamp parsing for the date strings the parsing API passes through
// ABOUTME: Accepts RFC 3339, RFC 1123/822 variants and numeric Unix epochs

package time

import (
	"strconv"
	"strings"
	"time"
)

// layouts seen in RSS, Atom and podcast feeds, most common first
var layouts = []string{
	time.RFC3339,
	time.RFC3339Nano,
	time.RFC1123Z,
	time.RFC1123,
	"Mon, 2 Jan 2006 15:04:05 -0700",
	"Mon, 2 Jan 2006 15:04:05 MST",
	time.RFC822Z,
	time.RFC822,
	"02 Jan 2006 15:04:05 -0700",
	"02 Jan 2006 15:04:05 MST",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// millisThreshold separates epoch seconds from epoch milliseconds; it is
// roughly the year 2286 in seconds
const millisThreshold = 1e10

// ParseFlexibleTime parses s with every known layout and returns the zero
// time when none matches. Numeric strings are Unix epochs in seconds or
// milliseconds. Results are in UTC.
func ParseFlexibleTime(s string) time.Time {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}
	}

	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		return FromEpoch(n)
	}

	for _, layout := range layouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC()
		}
	}
	return time.Time{}
}

// FromEpoch converts a Unix epoch in seconds or milliseconds. Non-positive
// values yield the zero time.
func FromEpoch(n int64) time.Time {
	switch {
	case n <= 0:
		return time.Time{}
	case n >= millisThreshold:
		return time.UnixMilli(n).UTC()
	}
	return time.Unix(n, 0).UTC()
}
