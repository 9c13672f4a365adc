// ABOUTME: Podcast episode duration normalization
// ABOUTME: Converts itunes:duration style values into a clock string

package duration

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Seconds reads s as whole seconds, a Go duration ("1h30m"), or a clock
// value ("HH:MM:SS" / "MM:SS"). ok is false when s is none of these.
func Seconds(s string) (int, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, false
	}
	if n, err := strconv.Atoi(s); err == nil {
		return n, n >= 0
	}
	if d, err := time.ParseDuration(s); err == nil {
		return int(d.Seconds()), d >= 0
	}

	parts := strings.Split(s, ":")
	if len(parts) < 2 || len(parts) > 3 {
		return 0, false
	}
	total := 0
	for _, p := range parts {
		n, err := strconv.Atoi(p)
		if err != nil || n < 0 {
			return 0, false
		}
		total = total*60 + n
	}
	return total, true
}

// Clock formats seconds as HH:MM:SS, or MM:SS under an hour
func Clock(seconds int) string {
	h, m, s := seconds/3600, (seconds%3600)/60, seconds%60
	if h > 0 {
		return fmt.Sprintf("%02d:%02d:%02d", h, m, s)
	}
	return fmt.Sprintf("%02d:%02d", m, s)
}

// Normalize returns s as a clock string. Values that cannot be read are
// returned unchanged.
func Normalize(s string) string {
	n, ok := Seconds(s)
	if !ok {
		return s
	}
	return Clock(n)
}
