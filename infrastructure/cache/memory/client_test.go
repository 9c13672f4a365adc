package memory

import (
	"sort"
	"testing"
	"time"
)

func TestNewMemoryCache(t *testing.T) {
	cache := NewMemoryCache(time.Hour, 0)

	if cache == nil {
		t.Fatal("NewMemoryCache returned nil")
	}
	if cache.DefaultTTL() != time.Hour {
		t.Errorf("DefaultTTL() = %v, want %v", cache.DefaultTTL(), time.Hour)
	}
}

func TestMemoryCache_Get_ExistingKey(t *testing.T) {
	cache := NewMemoryCache(time.Hour, 0)

	cache.Set("test-key", "test-value", time.Hour)

	got, ok := cache.Get("test-key")
	if !ok {
		t.Fatal("Get should find the stored key")
	}
	if got != "test-value" {
		t.Errorf("Get returned %v, want test-value", got)
	}
}

func TestMemoryCache_Get_NonExistentKey(t *testing.T) {
	cache := NewMemoryCache(time.Hour, 0)

	got, ok := cache.Get("non-existent")

	if ok {
		t.Error("Get should report a miss for a non-existent key")
	}
	if got != nil {
		t.Error("Get should return nil value for non-existent key")
	}
}

func TestMemoryCache_Get_ExpiredKey(t *testing.T) {
	cache := NewMemoryCache(time.Hour, 0)

	cache.Set("test-key", "test-value", 10*time.Millisecond)

	if _, ok := cache.Get("test-key"); !ok {
		t.Fatal("entry should be readable before its TTL elapses")
	}

	time.Sleep(20 * time.Millisecond)

	got, ok := cache.Get("test-key")
	if ok || got != nil {
		t.Error("Get should report a miss for an expired key")
	}
	if cache.Len() != 0 {
		t.Errorf("expired entry should be removed on read, Len() = %d", cache.Len())
	}
}

func TestMemoryCache_Set_ZeroTTLUsesDefault(t *testing.T) {
	cache := NewMemoryCache(10*time.Millisecond, 0)

	cache.Set("test-key", "test-value", 0)
	time.Sleep(20 * time.Millisecond)

	if cache.Has("test-key") {
		t.Error("entry written with ttl 0 should expire after the default TTL")
	}
}

func TestMemoryCache_Set_NegativeTTLNeverExpires(t *testing.T) {
	cache := NewMemoryCache(10*time.Millisecond, 0)

	cache.Set("test-key", "test-value", -1)
	time.Sleep(20 * time.Millisecond)

	if !cache.Has("test-key") {
		t.Error("entry written with a negative ttl should not expire")
	}
}

func TestMemoryCache_Set_UpdatesExisting(t *testing.T) {
	cache := NewMemoryCache(time.Hour, 0)

	cache.Set("test-key", "value1", time.Hour)
	cache.Set("test-key", "value2", time.Hour)

	got, _ := cache.Get("test-key")
	if got != "value2" {
		t.Errorf("Get returned %v, want value2", got)
	}
}

func TestMemoryCache_Delete_RemovesKey(t *testing.T) {
	cache := NewMemoryCache(time.Hour, 0)

	cache.Set("test-key", "test-value", time.Hour)
	cache.Delete("test-key")

	if cache.Has("test-key") {
		t.Error("deleted key should be gone")
	}

	// Deleting a missing key is a no-op
	cache.Delete("non-existent")
}

func TestMemoryCache_ClearAndKeys(t *testing.T) {
	cache := NewMemoryCache(time.Hour, 0)

	cache.Set("key1", 1, time.Hour)
	cache.Set("key2", 2, time.Hour)
	cache.Set("key3", 3, 10*time.Millisecond)
	time.Sleep(20 * time.Millisecond)

	keys := cache.Keys()
	sort.Strings(keys)
	if len(keys) != 2 || keys[0] != "key1" || keys[1] != "key2" {
		t.Errorf("Keys() = %v, want [key1 key2]", keys)
	}

	cache.Clear()
	if len(cache.Keys()) != 0 {
		t.Error("Clear should remove every entry")
	}
}

func TestGetAs(t *testing.T) {
	cache := NewMemoryCache(time.Hour, 0)
	cache.Set("numbers", []int{1, 2, 3}, time.Hour)

	nums, ok := GetAs[[]int](cache, "numbers")
	if !ok || len(nums) != 3 {
		t.Errorf("GetAs[[]int]() = %v, %v", nums, ok)
	}

	if _, ok := GetAs[string](cache, "numbers"); ok {
		t.Error("GetAs with the wrong type should report a miss")
	}
	if _, ok := GetAs[[]int](cache, "missing"); ok {
		t.Error("GetAs on a missing key should report a miss")
	}
}
