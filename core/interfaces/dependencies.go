// ABOUTME: Dependencies container provides dependency injection for core services
// ABOUTME: Defines the contract for dependencies required by the core business logic

package interfaces

// Dependencies holds all external dependencies required by the core business logic
type Dependencies struct {
	// Cache provides short-lived in-memory caching of fetch results
	Cache Cache

	// HTTPClient performs calls to the feed parsing API
	HTTPClient HTTPClient

	// Logger provides structured logging
	Logger Logger
}
