package sqlite

import (
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"
)

func TestAdapter_SQLInjectionAttempts(t *testing.T) {
	a, _ := newTestAdapter(t, 0)
	ctx := context.Background()

	injectionKeys := []string{
		"key'; DROP TABLE entries; --",
		"key' OR '1'='1",
		"key\" OR \"1\"=\"1",
		"key' UNION SELECT null, null, null--",
		"key'/**/OR/**/1=1--",
		"key'); INSERT INTO entries VALUES ('hack', 'data', 1, 1, NULL, '', '', '', '[]'); --",
		"key with spaces",
		"key\twith\ttabs",
		"key\nwith\nnewlines",
		"key™",
		"key🔥emoji",
	}

	for _, key := range injectionKeys {
		t.Run(key[:min(20, len(key))], func(t *testing.T) {
			if err := a.Set(ctx, record(key, `"value"`, time.Now())); err != nil {
				t.Fatalf("Set(%q) returned error: %v", key, err)
			}

			got, err := a.Get(ctx, key)
			if err != nil || got == nil {
				t.Fatalf("Get(%q) = %v, %v", key, got, err)
			}
			if got.Key != key {
				t.Errorf("key round trip = %q, want %q", got.Key, key)
			}

			if err := a.Delete(ctx, key); err != nil {
				t.Errorf("Delete(%q) returned error: %v", key, err)
			}
		})
	}

	// Table still exists and nothing was injected
	if _, err := a.StorageInfo(ctx); err != nil {
		t.Fatalf("entries table damaged: %v", err)
	}
	if rec, _ := a.Get(ctx, "hack"); rec != nil {
		t.Error("injected row should not exist")
	}
}

func TestAdapter_RejectsInvalidKeys(t *testing.T) {
	a, _ := newTestAdapter(t, 0)
	ctx := context.Background()

	invalid := []string{
		"",
		"key\x00nullbyte",
		strings.Repeat("k", maxKeyLength+1),
	}
	for _, key := range invalid {
		if err := a.Set(ctx, record(key, `1`, time.Now())); err == nil {
			t.Errorf("Set should reject key of length %d", len(key))
		}
	}
}

func TestAdapter_InjectionInValues(t *testing.T) {
	a, _ := newTestAdapter(t, 0)
	ctx := context.Background()

	values := []string{
		`"'); DROP TABLE entries; --"`,
		`{"sql":"1' OR '1'='1"}`,
	}
	for i, v := range values {
		key := string(rune('a' + i))
		if err := a.Set(ctx, record(key, v, time.Now())); err != nil {
			t.Fatalf("Set returned error: %v", err)
		}
		got, _ := a.Get(ctx, key)
		if got == nil || string(got.Value) != v || !json.Valid(got.Value) {
			t.Errorf("value round trip = %v, want %s", got, v)
		}
	}
}

func TestValidateKey_LogsSuspiciousPatterns(t *testing.T) {
	tests := []struct {
		name      string
		key       string
		shouldLog bool
	}{
		{"normal hashed key", "5f2b8c9e0d", false},
		{"namespaced key", "prefs:theme", false},
		{"comment pattern", "key--with--comments", true},
		{"semicolon", "key;with;semicolons", true},
		{"single quote", "key'with'quotes", true},
		{"newline", "key\nwith\nnewlines", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			logger := &mockLogger{}
			if err := ValidateKey(tt.key, logger); err != nil {
				t.Fatalf("ValidateKey returned error: %v", err)
			}
			logged := len(logger.warnings()) > 0
			if logged != tt.shouldLog {
				t.Errorf("logged = %v, want %v", logged, tt.shouldLog)
			}
			if logged && len(logger.warnData[0]["key_preview"].(string)) > 53 {
				t.Error("key preview should be truncated")
			}
		})
	}
}

func TestValidateValue(t *testing.T) {
	if err := ValidateValue(nil); err == nil {
		t.Error("empty values should be rejected")
	}
	if err := ValidateValue(make([]byte, maxValueLength+1)); err == nil {
		t.Error("oversized values should be rejected")
	}
	if err := ValidateValue([]byte(`{}`)); err != nil {
		t.Errorf("valid value rejected: %v", err)
	}
}
