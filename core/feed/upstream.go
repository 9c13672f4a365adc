// ABOUTME: Payload shapes of the upstream feed parsing API (v1 schema)
// ABOUTME: Converts parsed feeds and items into domain models with stable identifiers

package feed

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"

	"digests-reader/core/cachekey"
	"digests-reader/core/domain"
	"digests-reader/pkg/utils/duration"
	"digests-reader/pkg/utils/html"
	timeutil "digests-reader/pkg/utils/time"
)

const upstreamStatusOK = "ok"

// urlsRequest is the body of both POST endpoints
type urlsRequest struct {
	URLs []string `json:"urls"`
}

type parseResponse struct {
	Feeds []upstreamFeed `json:"feeds"`
}

type upstreamFeed struct {
	Type        string          `json:"type,omitempty"`
	GUID        string          `json:"guid"`
	Status      string          `json:"status"`
	Error       string          `json:"error,omitempty"`
	SiteTitle   string          `json:"siteTitle,omitempty"`
	FeedTitle   string          `json:"feedTitle"`
	FeedURL     string          `json:"feedUrl"`
	Description string          `json:"description"`
	Link        string          `json:"link"`
	LastUpdated string          `json:"lastUpdated"`
	Published   string          `json:"published,omitempty"`
	Author      *upstreamAuthor `json:"author,omitempty"`
	Language    string          `json:"language,omitempty"`
	Favicon     string          `json:"favicon,omitempty"`
	Image       string          `json:"image,omitempty"`
	Categories  string          `json:"categories,omitempty"`
	Subtitle    string          `json:"subtitle,omitempty"`
	Items       []upstreamItem  `json:"items"`
}

type upstreamAuthor struct {
	Name  string `json:"name,omitempty"`
	Email string `json:"email,omitempty"`
}

type upstreamItem struct {
	ID             string              `json:"id"`
	Title          string              `json:"title"`
	Description    string              `json:"description"`
	Link           string              `json:"link"`
	Author         string              `json:"author,omitempty"`
	Published      string              `json:"published"`
	Created        string              `json:"created,omitempty"`
	Content        string              `json:"content,omitempty"`
	ContentEncoded string              `json:"content_encoded,omitempty"`
	Categories     []string            `json:"categories,omitempty"`
	Duration       string              `json:"duration,omitempty"`
	Thumbnail      string              `json:"thumbnail,omitempty"`
	Enclosures     []upstreamEnclosure `json:"enclosures,omitempty"`
	Episode        int                 `json:"episode,omitempty"`
	Season         int                 `json:"season,omitempty"`
	EpisodeType    string              `json:"episodeType,omitempty"`
	Subtitle       string              `json:"subtitle,omitempty"`
	Summary        string              `json:"summary,omitempty"`
	Image          string              `json:"image,omitempty"`
}

type upstreamEnclosure struct {
	URL    string `json:"url"`
	Length string `json:"length,omitempty"`
	Type   string `json:"type,omitempty"`
}

// generateID derives a stable identifier from the given parts
func generateID(parts ...string) string {
	hash := sha256.Sum256([]byte(strings.Join(parts, "\x00")))
	return hex.EncodeToString(hash[:])
}

func (u *upstreamFeed) ok() bool {
	return u.Status == "" || u.Status == upstreamStatusOK
}

// toDomain converts an upstream feed. requestedURL is used when the
// upstream omits the feed URL.
func (u *upstreamFeed) toDomain(requestedURL string) *domain.Feed {
	feedURL := u.FeedURL
	if feedURL == "" {
		feedURL = requestedURL
	}

	id := u.GUID
	if id == "" {
		id = generateID(cachekey.NormalizeURL(feedURL))
	}

	title := u.FeedTitle
	if title == "" {
		title = u.SiteTitle
	}

	f := &domain.Feed{
		ID:          id,
		Title:       title,
		Description: u.Description,
		URL:         feedURL,
		Link:        u.Link,
		LastUpdated: timeutil.ParseFlexibleTime(u.LastUpdated),
		Language:    u.Language,
		Favicon:     u.Favicon,
		Categories:  u.Categories,
		FeedType:    u.Type,
		Image:       u.Image,
		Subtitle:    u.Subtitle,
		Items:       make([]domain.FeedItem, 0, len(u.Items)),
	}
	if u.Author != nil {
		f.Author = &domain.Author{Name: u.Author.Name, Email: u.Author.Email}
	}
	if published := timeutil.ParseFlexibleTime(u.Published); !published.IsZero() {
		f.Published = &published
	}

	for _, item := range u.Items {
		f.Items = append(f.Items, item.toDomain(feedURL))
	}
	return f
}

func (u *upstreamItem) toDomain(feedURL string) domain.FeedItem {
	id := u.ID
	if id == "" {
		id = generateID(feedURL, u.Link, u.Title, u.Published)
	}

	item := domain.FeedItem{
		ID:             id,
		FeedURL:        feedURL,
		Title:          u.Title,
		Description:    u.Description,
		Link:           u.Link,
		Published:      timeutil.ParseFlexibleTime(u.Published),
		Author:         u.Author,
		Content:        u.Content,
		ContentEncoded: u.ContentEncoded,
		Categories:     u.Categories,
		Thumbnail:      u.Thumbnail,
		Duration:       duration.Normalize(u.Duration),
		Episode:        u.Episode,
		Season:         u.Season,
		EpisodeType:    u.EpisodeType,
		Subtitle:       u.Subtitle,
		Summary:        u.Summary,
		Image:          u.Image,
	}
	if created := timeutil.ParseFlexibleTime(u.Created); !created.IsZero() {
		item.Created = &created
	}
	if item.Content == "" && item.ContentEncoded != "" {
		item.Content = html.StripHTML(item.ContentEncoded)
	}
	if item.Thumbnail == "" && item.ContentEncoded != "" {
		item.Thumbnail = html.FirstImage(item.ContentEncoded)
	}
	for _, enc := range u.Enclosures {
		item.Enclosures = append(item.Enclosures, domain.Enclosure(enc))
	}
	return item
}
