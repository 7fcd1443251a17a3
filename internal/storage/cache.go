package storage

import (
	"context"
	"fmt"
	"sync"
	"time"

	"helpdesk/backend/internal/models"

	lru "github.com/hashicorp/golang-lru"
)

type cacheEntry struct {
	value     any
	expiresAt time.Time
}

// CachedAutoReplyStore serves settings, rules and business hours from a short-lived
// in-memory snapshot. A few seconds of staleness is fine for the matching engine.
type CachedAutoReplyStore struct {
	AutoReplyStore

	cache *lru.Cache
	ttl   time.Duration
	now   func() time.Time
	mu    sync.Mutex
}

// NewCachedAutoReplyStore wraps next with a TTL cache holding at most size keys.
func NewCachedAutoReplyStore(next AutoReplyStore, size int, ttl time.Duration) (*CachedAutoReplyStore, error) {
	cache, err := lru.New(size)
	if err != nil {
		return nil, err
	}
	return &CachedAutoReplyStore{AutoReplyStore: next, cache: cache, ttl: ttl, now: time.Now}, nil
}

func (c *CachedAutoReplyStore) get(key string) (any, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	val, found := c.cache.Get(key)
	if !found {
		return nil, false
	}
	entry := val.(cacheEntry)
	if c.now().After(entry.expiresAt) {
		c.cache.Remove(key)
		return nil, false
	}
	return entry.value, true
}

func (c *CachedAutoReplyStore) set(key string, value any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cache.Add(key, cacheEntry{value: value, expiresAt: c.now().Add(c.ttl)})
}

// Invalidate drops every cached snapshot.
func (c *CachedAutoReplyStore) Invalidate() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cache.Purge()
}

// LoadAutoReplySettings returns the cached settings snapshot.
func (c *CachedAutoReplyStore) LoadAutoReplySettings(ctx context.Context) (*models.AutoReplySettings, error) {
	if v, ok := c.get("settings"); ok {
		s := v.(models.AutoReplySettings)
		return &s, nil
	}
	settings, err := c.AutoReplyStore.LoadAutoReplySettings(ctx)
	if err != nil {
		return nil, err
	}
	c.set("settings", *settings)
	return settings, nil
}

// ActiveRules returns the cached rule list. Callers must not mutate it.
func (c *CachedAutoReplyStore) ActiveRules(ctx context.Context) ([]models.AutoReplyRule, error) {
	if v, ok := c.get("rules"); ok {
		return v.([]models.AutoReplyRule), nil
	}
	rules, err := c.AutoReplyStore.ActiveRules(ctx)
	if err != nil {
		return nil, err
	}
	c.set("rules", rules)
	return rules, nil
}

// BusinessHours returns the cached windows of one weekday.
func (c *CachedAutoReplyStore) BusinessHours(ctx context.Context, weekday time.Weekday) ([]models.BusinessHour, error) {
	key := fmt.Sprintf("hours:%d", weekday)
	if v, ok := c.get(key); ok {
		return v.([]models.BusinessHour), nil
	}
	hours, err := c.AutoReplyStore.BusinessHours(ctx, weekday)
	if err != nil {
		return nil, err
	}
	c.set(key, hours)
	return hours, nil
}

// SaveRuleEmbedding writes through and drops the cached rules.
func (c *CachedAutoReplyStore) SaveRuleEmbedding(ctx context.Context, ruleID uint, vector []float64, at time.Time) error {
	if err := c.AutoReplyStore.SaveRuleEmbedding(ctx, ruleID, vector, at); err != nil {
		return err
	}
	c.mu.Lock()
	c.cache.Remove("rules")
	c.mu.Unlock()
	return nil
}
