package cache

import (
	"context"
	"sync"
	"time"

	"loyalty-rewards-api/internal/rules"
)

// RuleCache caches decoded reward rules per business identifier.
//
// Each business has a generation that Invalidate bumps. Readers take the
// generation before loading a rule from the store and hand it back to Put;
// a Put that raced with an invalidation never leaves its entry behind.
type RuleCache struct {
	backend Cache
	ttl     time.Duration

	mu   sync.Mutex
	gens map[string]uint64
}

// NewRuleCache wraps backend; entries expire after ttl.
func NewRuleCache(backend Cache, ttl time.Duration) *RuleCache {
	return &RuleCache{backend: backend, ttl: ttl, gens: make(map[string]uint64)}
}

func ruleKey(businessID string) string {
	return "rule:" + businessID
}

// Get returns the cached rule. Any backend failure or unreadable entry is a miss.
func (c *RuleCache) Get(ctx context.Context, businessID string) (rules.RewardRule, bool) {
	data, err := c.backend.Get(ctx, ruleKey(businessID))
	if err != nil {
		return rules.RewardRule{}, false
	}

	rule, err := rules.TryParse(string(data))
	if err != nil {
		return rules.RewardRule{}, false
	}
	return rule, true
}

// Generation returns the current generation for businessID. Take it before
// reading the rule that will be passed to Put.
func (c *RuleCache) Generation(businessID string) uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.gens[businessID]
}

// Put stores rule for businessID if no invalidation happened since gen was
// taken. When an invalidation lands while the entry is being written, the
// entry is removed again.
func (c *RuleCache) Put(ctx context.Context, businessID string, rule rules.RewardRule, gen uint64) error {
	if c.Generation(businessID) != gen {
		return nil
	}

	if err := c.backend.Set(ctx, ruleKey(businessID), []byte(rule.Marshal()), c.ttl); err != nil {
		return err
	}

	if c.Generation(businessID) != gen {
		return c.backend.Delete(ctx, ruleKey(businessID))
	}
	return nil
}

// Invalidate drops the cached rule for businessID.
func (c *RuleCache) Invalidate(ctx context.Context, businessID string) error {
	c.mu.Lock()
	c.gens[businessID]++
	c.mu.Unlock()

	return c.backend.Delete(ctx, ruleKey(businessID))
}

// Reset drops every cached rule. Entries left in a shared backend by an
// earlier process may predate changes made to the store since.
func (c *RuleCache) Reset(ctx context.Context) error {
	c.mu.Lock()
	for id := range c.gens {
		c.gens[id]++
	}
	c.mu.Unlock()

	return c.backend.Clear(ctx)
}
