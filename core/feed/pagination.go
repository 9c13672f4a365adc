// ABOUTME: Timeline helpers for feed items
// ABOUTME: Merges items across feeds newest first and pages through them

package feed

import (
	"sort"

	"digests-reader/core/domain"
)

// MergeItems flattens the items of feeds into one timeline, newest first.
// Items sharing an ID appear once.
func MergeItems(feeds []*domain.Feed) []domain.FeedItem {
	seen := make(map[string]struct{})
	var items []domain.FeedItem
	for _, f := range feeds {
		if f == nil {
			continue
		}
		for _, item := range f.Items {
			if _, dup := seen[item.ID]; dup {
				continue
			}
			seen[item.ID] = struct{}{}
			items = append(items, item)
		}
	}

	sort.SliceStable(items, func(i, j int) bool {
		return items[i].Published.After(items[j].Published)
	})
	return items
}

// PaginateItems returns a paginated slice of feed items
func PaginateItems(items []domain.FeedItem, page, perPage int) []domain.FeedItem {
	if page < 1 {
		page = 1
	}
	if perPage < 1 {
		perPage = 10
	}

	start := (page - 1) * perPage
	if start >= len(items) {
		return []domain.FeedItem{}
	}
	end := start + perPage
	if end > len(items) {
		end = len(items)
	}
	return items[start:end]
}
