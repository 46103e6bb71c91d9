// Package resource implements the Controller for cache-wide limits.
//
// The Controller governs three resources:
//
//   - Memory: bytes held by the buffered tile store's write-back buffer
//     (non-blocking, fail-fast; the store flushes and retries)
//   - Fetches: parallel backing-source calls issued by one query
//   - Flush IO: token bucket throttling page flushes to disk so foreground
//     reads are not starved
//
//	rc := resource.NewController(resource.Config{
//	    MemoryLimitBytes:     64 << 20,
//	    MaxConcurrentFetches: 4,
//	    FlushBytesPerSec:     32 << 20,
//	})
//
// # Nil Safety
//
// All methods handle a nil Controller gracefully - they become no-ops.
package resource
