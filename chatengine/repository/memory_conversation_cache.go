package repository

import (
	"sync"
	"time"

	domain "github.com/AzielCF/az-medchat/chatengine/domain"
	"github.com/google/uuid"
)

const (
	DefaultCacheCapacity = 1000
	DefaultCacheTTL      = 30 * time.Minute
)

// ConversationCache is a bounded, TTL-expiring, LRU-evicting in-memory map of
// active conversations with a secondary per-owner index.
//
// entries, byUser and lastAccess are only touched under mu and always change
// together, so no reader sees an id in one index and not the others.
type ConversationCache struct {
	mu         sync.Mutex
	capacity   int
	ttl        time.Duration
	now        func() time.Time
	entries    map[uuid.UUID]*domain.ConversationContext
	byUser     map[string]map[uuid.UUID]struct{}
	lastAccess map[uuid.UUID]time.Time
}

// CacheOption customizes a ConversationCache.
type CacheOption func(*ConversationCache)

// WithClock replaces time.Now, mainly for tests.
func WithClock(now func() time.Time) CacheOption {
	return func(c *ConversationCache) {
		c.now = now
	}
}

// CacheStats is a snapshot of cache occupancy.
type CacheStats struct {
	Resident int           `json:"resident"`
	Owners   int           `json:"owners"`
	Capacity int           `json:"capacity"`
	TTL      time.Duration `json:"ttl"`
}

// NewConversationCache crea un caché con la capacidad y TTL indicados.
// Valores no positivos usan los valores por defecto.
func NewConversationCache(capacity int, ttl time.Duration, opts ...CacheOption) *ConversationCache {
	if capacity <= 0 {
		capacity = DefaultCacheCapacity
	}
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	c := &ConversationCache{
		capacity:   capacity,
		ttl:        ttl,
		now:        time.Now,
		entries:    make(map[uuid.UUID]*domain.ConversationContext),
		byUser:     make(map[string]map[uuid.UUID]struct{}),
		lastAccess: make(map[uuid.UUID]time.Time),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Get returns the resident context for id. Expired entries are removed and
// reported as absent.
func (c *ConversationCache) Get(id uuid.UUID) (*domain.ConversationContext, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	ctx, ok := c.entries[id]
	if !ok {
		return nil, false
	}
	if !c.isValid(ctx) {
		c.removeLocked(id)
		return nil, false
	}
	c.lastAccess[id] = c.now()
	return ctx, true
}

// Put inserts or overwrites a context, evicting the least recently accessed
// entry first when the cache is full.
func (c *ConversationCache) Put(ctx *domain.ConversationContext) {
	if ctx == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	id := ctx.ConversationID
	if prev, exists := c.entries[id]; exists {
		// overwrite; the owner may differ from the previous one
		c.unindexOwner(prev.OwnerID, id)
	} else if len(c.entries) >= c.capacity {
		c.evictOldestLocked()
	}

	c.entries[id] = ctx
	owned, ok := c.byUser[ctx.OwnerID]
	if !ok {
		owned = make(map[uuid.UUID]struct{})
		c.byUser[ctx.OwnerID] = owned
	}
	owned[id] = struct{}{}
	c.lastAccess[id] = c.now()
}

// Update overwrites a resident context. It is a no-op for unknown ids.
func (c *ConversationCache) Update(id uuid.UUID, ctx *domain.ConversationContext) bool {
	if ctx == nil {
		return false
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	prev, ok := c.entries[id]
	if !ok {
		return false
	}
	if prev.OwnerID != ctx.OwnerID {
		c.unindexOwner(prev.OwnerID, id)
		owned, exists := c.byUser[ctx.OwnerID]
		if !exists {
			owned = make(map[uuid.UUID]struct{})
			c.byUser[ctx.OwnerID] = owned
		}
		owned[id] = struct{}{}
	}
	c.entries[id] = ctx
	c.lastAccess[id] = c.now()
	return true
}

// EvictOldest removes the entry with the oldest access time.
// Ties go to the smallest id in string order.
func (c *ConversationCache) EvictOldest() (uuid.UUID, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.evictOldestLocked()
}

func (c *ConversationCache) evictOldestLocked() (uuid.UUID, bool) {
	var (
		oldestID uuid.UUID
		oldestAt time.Time
		found    bool
	)
	for id, at := range c.lastAccess {
		if !found || at.Before(oldestAt) || (at.Equal(oldestAt) && id.String() < oldestID.String()) {
			oldestID, oldestAt, found = id, at, true
		}
	}
	if !found {
		return uuid.Nil, false
	}
	c.removeLocked(oldestID)
	return oldestID, true
}

// CleanupExpired removes every entry idle for longer than the TTL and returns
// how many were dropped.
func (c *ConversationCache) CleanupExpired() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	var expired []uuid.UUID
	for id, ctx := range c.entries {
		if !c.isValid(ctx) {
			expired = append(expired, id)
		}
	}
	for _, id := range expired {
		c.removeLocked(id)
	}
	return len(expired)
}

// UserConversations returns the owner's non-expired contexts. Expired entries
// are skipped but left in place; Get or CleanupExpired removes them.
func (c *ConversationCache) UserConversations(ownerID string) []*domain.ConversationContext {
	c.mu.Lock()
	defer c.mu.Unlock()

	owned := c.byUser[ownerID]
	result := make([]*domain.ConversationContext, 0, len(owned))
	for id := range owned {
		ctx, ok := c.entries[id]
		if ok && c.isValid(ctx) {
			result = append(result, ctx)
		}
	}
	return result
}

// Contains reports residency without refreshing the access time or evicting.
func (c *ConversationCache) Contains(id uuid.UUID) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.entries[id]
	return ok
}

// IDs returns the resident conversation ids, expired or not.
func (c *ConversationCache) IDs() map[uuid.UUID]struct{} {
	c.mu.Lock()
	defer c.mu.Unlock()
	ids := make(map[uuid.UUID]struct{}, len(c.entries))
	for id := range c.entries {
		ids[id] = struct{}{}
	}
	return ids
}

func (c *ConversationCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

func (c *ConversationCache) Stats() CacheStats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return CacheStats{
		Resident: len(c.entries),
		Owners:   len(c.byUser),
		Capacity: c.capacity,
		TTL:      c.ttl,
	}
}

func (c *ConversationCache) isValid(ctx *domain.ConversationContext) bool {
	return c.now().Sub(ctx.LastActivity()) < c.ttl
}

// removeLocked drops id from all three indices.
func (c *ConversationCache) removeLocked(id uuid.UUID) {
	ctx, ok := c.entries[id]
	if !ok {
		return
	}
	delete(c.entries, id)
	delete(c.lastAccess, id)
	c.unindexOwner(ctx.OwnerID, id)
}

func (c *ConversationCache) unindexOwner(ownerID string, id uuid.UUID) {
	owned, ok := c.byUser[ownerID]
	if !ok {
		return
	}
	delete(owned, id)
	if len(owned) == 0 {
		delete(c.byUser, ownerID)
	}
}
