// Package core contains the reader's cache and persistence logic.
// It is framework-agnostic: storage, transport and logging are injected
// through the contracts in core/interfaces.
//
// The core package is organized into several sub-packages:
//
// - domain: Feeds, items, reader views, query keys and persisted records
// - cachekey: Deterministic cache keys and URL normalization
// - querycache: Reactive in-memory query cache with change subscriptions
// - persister: Mirrors the query cache into a durable adapter and restores it
// - migration: Batched, verified migration of legacy stores
// - feed: Fetches feeds and reader views from the parsing API
// - errors: Request, storage and batch error types
// - interfaces: Contracts for cache, HTTP, logger, persistence and legacy stores
//
// # Design Principles
//
// - No external framework dependencies
// - All external dependencies are injected via interfaces
// - Business logic is testable in isolation
// - The query cache is the single source of truth; storage only mirrors it
package core
