// ABOUTME: Feed domain model represents a subscribed RSS/Atom/podcast feed
// ABOUTME: Provides validation logic to ensure feed data integrity

package domain

import (
	"errors"
	"net/url"
	"time"
)

// Feed represents an RSS or Atom feed as returned by the parsing API
type Feed struct {
	// ID is the stable identifier for the feed
	ID string `json:"id"`

	// Title is the human-readable title of the feed
	Title string `json:"title"`

	// Description provides a brief description of the feed's content
	Description string `json:"description"`

	// URL is the feed's source URL (the actual RSS/Atom URL)
	URL string `json:"url"`

	// Link is the website URL associated with the feed
	Link string `json:"link"`

	// Items contains the feed entries
	Items []FeedItem `json:"items"`

	// LastUpdated indicates when the feed was last refreshed upstream
	LastUpdated time.Time `json:"lastUpdated"`

	// Additional metadata fields
	Language   string     `json:"language,omitempty"`   // Feed language (e.g., "en-US")
	Favicon    string     `json:"favicon,omitempty"`    // URL to the feed's favicon
	Author     *Author    `json:"author,omitempty"`     // Feed author information
	Categories string     `json:"categories,omitempty"` // Feed categories as a string
	FeedType   string     `json:"feedType,omitempty"`   // Type: "article", "podcast", or "rss"
	Image      string     `json:"image,omitempty"`      // Feed image URL
	Subtitle   string     `json:"subtitle,omitempty"`   // Feed subtitle (for podcasts)
	Published  *time.Time `json:"published,omitempty"`  // Feed publication date
}

// Author represents author information
type Author struct {
	Name  string `json:"name,omitempty"`
	Email string `json:"email,omitempty"`
}

// IsPodcast reports whether the feed carries audio/video episodes
func (f *Feed) IsPodcast() bool {
	return f.FeedType == "podcast"
}

// Validate checks if the feed has valid required fields
func (f *Feed) Validate() error {
	if f.URL == "" {
		return errors.New("feed URL cannot be empty")
	}

	u, err := url.Parse(f.URL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return errors.New("feed URL is not valid format")
	}

	return nil
}
