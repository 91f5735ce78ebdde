// Package cache provides the bounded, self-expiring store used by warp-aqi.
// The FIFO cache holds a fixed number of entries, evicts them in insertion
// order and treats entries older than its TTL as absent. Expiry is lazy:
// there is no background goroutine, and an expired entry is removed by the
// first read that observes it.
package cache
