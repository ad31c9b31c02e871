// Package cache provides the TTL caches used in front of remote lookups such
// as the price index. Both implementations satisfy Cache[T].
package cache
