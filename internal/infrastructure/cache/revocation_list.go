// Package cache holds in-process caches used by the token service.
package cache

import (
	"time"

	gocache "github.com/patrickmn/go-cache"
)

// RevocationList is the in-memory set of revoked token ids.
// Entries for access tokens carry a TTL so they disappear once the token could no
// longer verify anyway; refresh-token entries live until removed by the expiry sweep.
type RevocationList struct {
	entries *gocache.Cache
}

// NewRevocationList creates an empty list whose expired entries are purged every cleanupInterval.
func NewRevocationList(cleanupInterval time.Duration) *RevocationList {
	if cleanupInterval <= 0 {
		cleanupInterval = 5 * time.Minute
	}
	return &RevocationList{
		entries: gocache.New(gocache.NoExpiration, cleanupInterval),
	}
}

// Add revokes jti. A non-positive ttl keeps the entry until Remove is called.
func (r *RevocationList) Add(jti string, ttl time.Duration) {
	if ttl <= 0 {
		ttl = gocache.NoExpiration
	}
	r.entries.Set(jti, struct{}{}, ttl)
}

// Contains reports whether jti is revoked.
func (r *RevocationList) Contains(jti string) bool {
	_, found := r.entries.Get(jti)
	return found
}

// Remove drops jti from the list.
func (r *RevocationList) Remove(jti string) {
	r.entries.Delete(jti)
}

// Len returns the number of entries, including expired ones not yet purged.
func (r *RevocationList) Len() int {
	return r.entries.ItemCount()
}
