// Package tracker enforces the cache capacity over a grid and a tile store.
//
// The tracker owns the LRU order of registered tiles, their measured sizes
// and the read/write/eviction statistics. Mutating calls (Admit, Replace,
// MarkValid, Drop, Evict, Clear) must be serialized by the caller; Get, Peek
// and Stats may run concurrently with each other.
package tracker
