// ABOUTME: Deterministic, order-independent cache key derivation
// ABOUTME: Hashes normalized, sorted, JSON-serialized inputs with SHA-256

package cachekey

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sort"
)

// BuildKey derives a collision-resistant key for a set of URLs.
// The result is independent of input order, textual URL variants and
// duplicates, and is stable across process restarts.
func BuildKey(prefix string, items []string) string {
	return prefix + ":" + HashKey(serialize(items))
}

// BuildRawKey is BuildKey without the digest. Only use it for short-lived
// in-memory keys; long input lists produce long keys.
func BuildRawKey(prefix string, items []string) string {
	return prefix + ":" + serialize(items)
}

// SortedSet returns the normalized, deduplicated, sorted form of items
func SortedSet(items []string) []string {
	set := NormalizeAll(items)
	sort.Strings(set)
	return set
}

// HashKey returns the hex SHA-256 digest of s
func HashKey(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}

// serialize encodes the sorted set as a JSON array so items containing
// commas or quotes cannot be confused with element boundaries.
func serialize(items []string) string {
	data, _ := json.Marshal(SortedSet(items))
	return string(data)
}
