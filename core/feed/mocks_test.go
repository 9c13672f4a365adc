package feed

import (
	"context"
	"encoding/json"
	"sync"

	"digests-reader/core/interfaces"
)

// mockHTTPClient is a mock implementation of the HTTPClient interface that
// records every request
type mockHTTPClient struct {
	mu       sync.Mutex
	requests []interfaces.Request
	doFunc   func(ctx context.Context, req interfaces.Request) (*interfaces.Response, error)
}

func (m *mockHTTPClient) Do(ctx context.Context, req interfaces.Request) (*interfaces.Response, error) {
	m.mu.Lock()
	m.requests = append(m.requests, req)
	m.mu.Unlock()
	if m.doFunc != nil {
		return m.doFunc(ctx, req)
	}
	return &interfaces.Response{StatusCode: 200, Body: []byte(`{}`)}, nil
}

func (m *mockHTTPClient) calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.requests)
}

// requestedURLs decodes the urls field of the i-th request body
func (m *mockHTTPClient) requestedURLs(i int) []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	var body urlsRequest
	json.Unmarshal(m.requests[i].Body, &body)
	return body.URLs
}

func jsonResponse(v any) *interfaces.Response {
	body, _ := json.Marshal(v)
	return &interfaces.Response{StatusCode: 200, Body: body}
}

// echoParse answers /parse with one ok feed per requested URL, except for
// URLs listed in failing
func echoParse(failing map[string]string) func(ctx context.Context, req interfaces.Request) (*interfaces.Response, error) {
	return func(ctx context.Context, req interfaces.Request) (*interfaces.Response, error) {
		var body urlsRequest
		json.Unmarshal(req.Body, &body)

		resp := parseResponse{}
		for _, u := range body.URLs {
			if msg, bad := failing[u]; bad {
				resp.Feeds = append(resp.Feeds, upstreamFeed{FeedURL: u, Status: "error", Error: msg})
				continue
			}
			resp.Feeds = append(resp.Feeds, upstreamFeed{
				FeedURL:   u,
				Status:    "ok",
				FeedTitle: "Feed " + u,
				Items: []upstreamItem{
					{Title: "Post", Link: u + "/post", Published: "2024-01-02T15:04:05Z"},
				},
			})
		}
		return jsonResponse(resp), nil
	}
}

// mockLogger records warnings and discards everything else
type mockLogger struct {
	mu    sync.Mutex
	warns []string
}

func (m *mockLogger) Debug(msg string, fields map[string]interface{}) {}
func (m *mockLogger) Info(msg string, fields map[string]interface{})  {}
func (m *mockLogger) Error(msg string, fields map[string]interface{}) {}

func (m *mockLogger) Warn(msg string, fields map[string]interface{}) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.warns = append(m.warns, msg)
}

func (m *mockLogger) warnings() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.warns...)
}
