package pattern

import (
	"reflect"
	"testing"
)

func TestMatch(t *testing.T) {
	tests := []struct {
		pattern string
		key     string
		want    bool
	}{
		{"", "anything", true},
		{"*", "anything", true},
		{"feeds", "feeds", true},
		{"feeds", "feeds:x", false},
		{"feeds:*", "feeds:https://a.com/feed.xml", true},
		{"feeds:*", "articles:x", false},
		{"*:token", "auth:token", true},
		{"*:token", "auth:token:refresh", false},
		{"user:*:profile", "user:42:profile", true},
		{"user:*:profile", "user:42:settings", false},
		{"prefs:?", "prefs:a", true},
		{"prefs:?", "prefs:ab", false},
		{"a.b*", "a.bc", true},
		{"a.b*", "axbc", false},
		{"[x]*", "[x]y", true},
	}

	for _, tt := range tests {
		t.Run(tt.pattern+"|"+tt.key, func(t *testing.T) {
			if got := Match(tt.pattern, tt.key); got != tt.want {
				t.Errorf("Match(%q, %q) = %v, want %v", tt.pattern, tt.key, got, tt.want)
			}
		})
	}
}

func TestFilter(t *testing.T) {
	keys := []string{"feeds:a", "articles:b", "feeds:c"}

	got := Filter("feeds:*", keys)
	want := []string{"feeds:a", "feeds:c"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("Filter() = %v, want %v", got, want)
	}
}

func TestMatchAny(t *testing.T) {
	patterns := []string{"auth:*", "session*"}

	if !MatchAny(patterns, "session-1") {
		t.Error("MatchAny should match the second pattern")
	}
	if MatchAny(patterns, "feeds:x") {
		t.Error("MatchAny should not match unrelated keys")
	}
	if MatchAny(nil, "feeds:x") {
		t.Error("MatchAny with no patterns should be false")
	}
}
