// ABOUTME: FeedItem domain model represents an individual entry within a feed
// ABOUTME: Provides validation to ensure item has required fields

package domain

import "time"

// FeedItem represents an individual item/entry in a feed
type FeedItem struct {
	// ID is the stable identifier for the item
	ID string `json:"id"`

	// FeedURL links the item back to its feed
	FeedURL string `json:"feedUrl,omitempty"`

	// Title is the item's headline
	Title string `json:"title"`

	// Description contains the item's content or summary
	Description string `json:"description"`

	// Link is the URL to the full article
	Link string `json:"link"`

	// Published is when the item was published
	Published time.Time `json:"published"`

	// Author is the creator of the item
	Author string `json:"author,omitempty"`

	// Additional content fields
	Content        string     `json:"content,omitempty"`        // Plain text content
	ContentEncoded string     `json:"contentEncoded,omitempty"` // HTML encoded content
	Created        *time.Time `json:"created,omitempty"`        // Creation timestamp
	Categories     []string   `json:"categories,omitempty"`     // Item categories

	// Media fields
	Enclosures []Enclosure `json:"enclosures,omitempty"` // Media enclosures
	Thumbnail  string      `json:"thumbnail,omitempty"`  // Thumbnail image URL
	Duration   string      `json:"duration,omitempty"`   // Media duration (e.g., "00:28:19")

	// Podcast-specific fields
	Episode     int    `json:"episode,omitempty"`
	Season      int    `json:"season,omitempty"`
	EpisodeType string `json:"episodeType,omitempty"`
	Subtitle    string `json:"subtitle,omitempty"`
	Summary     string `json:"summary,omitempty"`
	Image       string `json:"image,omitempty"`
}

// Enclosure represents media attachment information
type Enclosure struct {
	URL    string `json:"url"`              // Media file URL
	Length string `json:"length,omitempty"` // File size in bytes
	Type   string `json:"type,omitempty"`   // MIME type
}

// IsValid checks if the feed item has all required fields
func (fi *FeedItem) IsValid() bool {
	if fi.Title == "" {
		return false
	}

	if fi.Link == "" {
		return false
	}

	return true
}

// AudioEnclosure returns the first audio enclosure, if any
func (fi *FeedItem) AudioEnclosure() (Enclosure, bool) {
	for _, enc := range fi.Enclosures {
		if len(enc.Type) >= 6 && enc.Type[:6] == "audio/" {
			return enc, true
		}
	}
	return Enclosure{}, false
}
