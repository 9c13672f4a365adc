// ABOUTME: In-flight request tracking for deduplication and cancellation
// ABOUTME: Maps request identities to their cancel handles until the request settles

package standard

import (
	"context"
	"sync"
	"time"

	"digests-reader/core/cachekey"
	"digests-reader/core/interfaces"
)

// trackedRequest is one in-flight request
type trackedRequest struct {
	cancel  context.CancelFunc
	started time.Time
	request interfaces.Request
}

type tracker struct {
	mu       sync.Mutex
	inFlight map[string][]*trackedRequest
}

func newTracker() *tracker {
	return &tracker{inFlight: make(map[string][]*trackedRequest)}
}

// track derives a cancellable context for req and registers it under id.
// The returned release func must be called once the request settles.
func (t *tracker) track(ctx context.Context, id string, req interfaces.Request) (context.Context, func()) {
	ctx, cancel := context.WithCancel(ctx)
	entry := &trackedRequest{cancel: cancel, started: time.Now(), request: req}

	t.mu.Lock()
	t.inFlight[id] = append(t.inFlight[id], entry)
	t.mu.Unlock()

	release := func() {
		cancel()
		t.mu.Lock()
		defer t.mu.Unlock()
		entries := t.inFlight[id]
		for i, e := range entries {
			if e == entry {
				entries = append(entries[:i], entries[i+1:]...)
				break
			}
		}
		if len(entries) == 0 {
			delete(t.inFlight, id)
		} else {
			t.inFlight[id] = entries
		}
	}
	return ctx, release
}

// cancel aborts every in-flight request registered under id
func (t *tracker) cancel(id string) bool {
	t.mu.Lock()
	entries := t.inFlight[id]
	t.mu.Unlock()

	for _, e := range entries {
		e.cancel()
	}
	return len(entries) > 0
}

// cancelAll aborts every in-flight request
func (t *tracker) cancelAll() int {
	t.mu.Lock()
	var all []*trackedRequest
	for _, entries := range t.inFlight {
		all = append(all, entries...)
	}
	t.mu.Unlock()

	for _, e := range all {
		e.cancel()
	}
	return len(all)
}

func (t *tracker) count() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	n := 0
	for _, entries := range t.inFlight {
		n += len(entries)
	}
	return n
}

// requestIdentity names a request for deduplication. An explicit ID wins,
// otherwise method, URL and a digest of the body are combined.
func requestIdentity(req interfaces.Request) string {
	if req.ID != "" {
		return "id:" + req.ID
	}
	return req.Method + " " + req.URL + " " + cachekey.HashKey(string(req.Body))
}
