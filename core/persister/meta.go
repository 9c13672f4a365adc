// ABOUTME: Derives coarse metadata from the shape of a logical query key
// ABOUTME: Tags persisted entries as feed, article or user data with an optional feed URL

package persister

import (
	"strings"

	"digests-reader/core/cachekey"
	"digests-reader/core/domain"
)

var (
	feedRoots    = []string{"feed", "items", "subscription"}
	articleRoots = []string{"article", "reader"}
	userRoots    = []string{"user", "auth", "pref", "setting"}
)

// ExtractMeta classifies key by its first segment and picks up the first
// URL-looking segment as the feed URL
func ExtractMeta(key domain.QueryKey) domain.EntryMeta {
	var meta domain.EntryMeta
	if len(key) == 0 {
		return meta
	}

	root := strings.ToLower(key[0])
	switch {
	case hasAnyPrefix(root, articleRoots):
		meta.QueryType = domain.QueryTypeArticle
	case hasAnyPrefix(root, feedRoots):
		meta.QueryType = domain.QueryTypeFeed
	case hasAnyPrefix(root, userRoots):
		meta.QueryType = domain.QueryTypeUser
		if len(key) > 1 {
			meta.UserID = key[1]
		}
	}
	meta.Tags = []string{key[0]}

	if meta.QueryType == domain.QueryTypeFeed {
		for _, part := range key[1:] {
			if strings.HasPrefix(part, "http://") || strings.HasPrefix(part, "https://") {
				meta.FeedURL = cachekey.NormalizeURL(part)
				break
			}
		}
	}
	return meta
}

func hasAnyPrefix(s string, prefixes []string) bool {
	for _, p := range prefixes {
		if strings.HasPrefix(s, p) {
			return true
		}
	}
	return false
}
