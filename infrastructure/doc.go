// Package infrastructure provides concrete implementations of the interfaces
// defined in the core package.
//
// The infrastructure package is organized by technical concern:
//
// - cache/memory: TTL fetch cache backed by patrickmn/go-cache
// - http/standard: Request client with retry, breakers, dedup and rate limiting
// - logger/standard: logrus-backed structured logger
// - persistence/sqlite: Durable adapter over a single SQLite file
// - persistence/redis: Durable adapter over a Redis namespace
// - persistence/memory: Durable adapter contract over a map, used as fallback
// - legacy/file: JSON file holding legacy key/value entries for migration
//
// # Persistence Adapters
//
// Every adapter honors the same contract: expired and corrupt entries read
// as misses and are deleted, writes over quota trigger cleanup and one
// retry, and batch writes report partial failure with a BatchError.
//
//	adapter := sqlite.NewAdapter("reader.db", persistence.DefaultOptions(logger))
//	defer adapter.Destroy()
//	err := persistence.SetValue(ctx, adapter, "prefs:theme", "dark", 0)
//	theme, ok, err := persistence.GetValue[string](ctx, adapter, "prefs:theme")
//
// # HTTP Client
//
//	client := standard.NewStandardHTTPClient(standard.DefaultOptions(logger))
//	resp, err := client.Do(ctx, interfaces.Request{Method: "POST", URL: u, Body: body})
//
// # Logger
//
//	logger := standard.NewLogger(os.Stderr, "debug", standard.FormatJSON)
//	logger.Info("Restored persisted queries", map[string]interface{}{
//	    "restored": 12,
//	})
package infrastructure
