// ABOUTME: Domain models for durable persistence of query results
// ABOUTME: Defines query keys, persisted entries, adapter records and storage stats

package domain

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"strings"
	"time"
)

// Query types derived from the shape of a query key
const (
	QueryTypeFeed    = "feed"
	QueryTypeArticle = "article"
	QueryTypeUser    = "user"
)

// QueryKey identifies a logical query in the reactive cache, e.g.
// {"feeds", "https://a.com/feed.xml"}.
type QueryKey []string

// String renders the key as a colon-joined string for pattern matching
func (k QueryKey) String() string {
	return strings.Join(k, ":")
}

// Hash returns a stable SHA-256 digest of the key's JSON form.
// It is the key under which the query is persisted.
func (k QueryKey) Hash() string {
	data, _ := json.Marshal([]string(k))
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// Equal reports whether two keys are identical
func (k QueryKey) Equal(other QueryKey) bool {
	if len(k) != len(other) {
		return false
	}
	for i := range k {
		if k[i] != other[i] {
			return false
		}
	}
	return true
}

// EntryMeta is coarse metadata stored next to a persisted payload
type EntryMeta struct {
	FeedURL   string   `json:"feedUrl,omitempty"`
	UserID    string   `json:"userId,omitempty"`
	QueryType string   `json:"queryType,omitempty"`
	Tags      []string `json:"tags,omitempty"`
}

// PersistedEntry is a query result mirrored into durable storage
type PersistedEntry struct {
	Key           QueryKey        `json:"key"`
	Data          json.RawMessage `json:"data"`
	DataUpdatedAt time.Time       `json:"dataUpdatedAt"`
	ExpiresAt     *time.Time      `json:"expiresAt,omitempty"`
	Meta          EntryMeta       `json:"meta"`
}

// Expired reports whether the entry is past its expiry at now
func (e *PersistedEntry) Expired(now time.Time) bool {
	return e.ExpiresAt != nil && now.After(*e.ExpiresAt)
}

// Record is a single value held by a persistence adapter
type Record struct {
	Key       string          `json:"key"`
	Value     json.RawMessage `json:"value"`
	UpdatedAt time.Time       `json:"updatedAt"`
	ExpiresAt *time.Time      `json:"expiresAt,omitempty"`
	Meta      EntryMeta       `json:"meta"`
}

// NewRecord builds a record updated now that expires after ttl.
// A ttl <= 0 means the record does not expire.
func NewRecord(key string, value json.RawMessage, ttl time.Duration) *Record {
	now := time.Now()
	rec := &Record{
		Key:       key,
		Value:     value,
		UpdatedAt: now,
	}
	if ttl > 0 {
		expiresAt := now.Add(ttl)
		rec.ExpiresAt = &expiresAt
	}
	return rec
}

// Expired reports whether the record is past its expiry at now
func (r *Record) Expired(now time.Time) bool {
	return r.ExpiresAt != nil && r.ExpiresAt.Before(now)
}

// Size returns the number of payload bytes the record occupies
func (r *Record) Size() int64 {
	return int64(len(r.Key) + len(r.Value))
}

// StorageInfo reports usage of a persistence adapter
type StorageInfo struct {
	Used        int64     `json:"used"`
	Quota       int64     `json:"quota"`
	Count       int       `json:"count"`
	OldestEntry time.Time `json:"oldestEntry"`
}

// UsagePercent returns used/quota as a percentage, 0 when quota is unknown
func (s StorageInfo) UsagePercent() float64 {
	if s.Quota <= 0 {
		return 0
	}
	return float64(s.Used) / float64(s.Quota) * 100
}
