package database

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"loyalty-rewards-api/internal/cache"
	"loyalty-rewards-api/internal/models"
	"loyalty-rewards-api/internal/rules"
)

func TestBusinessAdd_GeneratesIDAndCreatedAt(t *testing.T) {
	db := setupTestDB(t)
	repo := NewBusinessRepository(db, nil)
	ctx := context.Background()

	b := &models.Business{Name: "Corner Cafe"}
	if err := repo.Add(ctx, b); err != nil {
		t.Fatalf("Failed to add business: %v", err)
	}
	if b.ID == "" || b.CreatedAt.IsZero() {
		t.Fatalf("Expected generated ID and CreatedAt, got %+v", b)
	}

	all, err := repo.GetAll(ctx)
	if err != nil {
		t.Fatalf("Failed to list businesses: %v", err)
	}
	if len(all) != 1 || all[0].Name != "Corner Cafe" {
		t.Fatalf("Expected one stored business, got %+v", all)
	}
}

func TestGetRewardRule_Defaults(t *testing.T) {
	db := setupTestDB(t)
	repo := NewBusinessRepository(db, nil)
	ctx := context.Background()

	if err := repo.Add(ctx, &models.Business{ID: "b-empty", Name: "Empty"}); err != nil {
		t.Fatalf("Failed to add business: %v", err)
	}
	if err := repo.Add(ctx, &models.Business{ID: "b-bad", Name: "Bad", RewardRuleJSON: "{not valid json"}); err != nil {
		t.Fatalf("Failed to add business: %v", err)
	}

	for _, id := range []string{"b-empty", "b-bad", "b-missing"} {
		rule, err := repo.GetRewardRule(ctx, id)
		if err != nil {
			t.Fatalf("GetRewardRule(%s) returned error: %v", id, err)
		}
		if rule != rules.Default() {
			t.Errorf("GetRewardRule(%s) = %+v, want default", id, rule)
		}
	}
}

func TestSetRewardRule(t *testing.T) {
	db := setupTestDB(t)
	repo := NewBusinessRepository(db, nil)
	ctx := context.Background()

	created := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	if err := repo.Add(ctx, &models.Business{ID: "b-1", Name: "Cafe", CreatedAt: created}); err != nil {
		t.Fatalf("Failed to add business: %v", err)
	}

	if err := repo.SetRewardRule(ctx, "b-1", rules.FixedVisits(8)); err != nil {
		t.Fatalf("Failed to set rule: %v", err)
	}

	rule, err := repo.GetRewardRule(ctx, "b-1")
	if err != nil {
		t.Fatalf("Failed to get rule: %v", err)
	}
	if rule.VisitsRequired != 8 {
		t.Errorf("Expected threshold 8, got %d", rule.VisitsRequired)
	}

	b, _ := repo.GetByID(ctx, "b-1")
	if b.RewardRuleJSON != `{"Mode":"FixedVisits","VisitsRequired":8}` {
		t.Errorf("Unexpected stored blob %s", b.RewardRuleJSON)
	}
	if !b.CreatedAt.Equal(created) {
		t.Errorf("Expected CreatedAt to be preserved, got %v", b.CreatedAt)
	}
}

func TestSetRewardRule_NotFound(t *testing.T) {
	db := setupTestDB(t)
	repo := NewBusinessRepository(db, nil)
	ctx := context.Background()

	err := repo.SetRewardRule(ctx, "missing", rules.FixedVisits(3))
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("Expected ErrNotFound, got %v", err)
	}

	all, _ := repo.GetAll(ctx)
	if len(all) != 0 {
		t.Errorf("Expected no write, found %d businesses", len(all))
	}
}

func TestSetRewardRule_RejectsInvalidRule(t *testing.T) {
	db := setupTestDB(t)
	repo := NewBusinessRepository(db, nil)
	ctx := context.Background()

	if err := repo.Add(ctx, &models.Business{ID: "b-1", Name: "Cafe"}); err != nil {
		t.Fatalf("Failed to add business: %v", err)
	}

	if err := repo.SetRewardRule(ctx, "b-1", rules.FixedVisits(0)); !errors.Is(err, rules.ErrInvalidThreshold) {
		t.Fatalf("Expected ErrInvalidThreshold, got %v", err)
	}
}

func TestGetRewardRule_CacheInvalidatedOnWrite(t *testing.T) {
	db := setupTestDB(t)
	ruleCache := cache.NewRuleCache(cache.NewInMemoryCache(), time.Hour)
	repo := NewBusinessRepository(db, ruleCache)
	ctx := context.Background()

	b := &models.Business{ID: "b-1", Name: "Cafe"}
	b.SetRewardRule(rules.FixedVisits(3))
	if err := repo.Add(ctx, b); err != nil {
		t.Fatalf("Failed to add business: %v", err)
	}

	if rule, _ := repo.GetRewardRule(ctx, "b-1"); rule.VisitsRequired != 3 {
		t.Fatalf("Expected threshold 3, got %d", rule.VisitsRequired)
	}
	if cached, ok := ruleCache.Get(ctx, "b-1"); !ok || cached.VisitsRequired != 3 {
		t.Fatalf("Expected rule to be cached, got %+v %v", cached, ok)
	}

	if err := repo.SetRewardRule(ctx, "b-1", rules.FixedVisits(10)); err != nil {
		t.Fatalf("Failed to set rule: %v", err)
	}
	if rule, _ := repo.GetRewardRule(ctx, "b-1"); rule.VisitsRequired != 10 {
		t.Errorf("Expected threshold 10 after update, got %d", rule.VisitsRequired)
	}

	if err := repo.Delete(ctx, "b-1"); err != nil {
		t.Fatalf("Failed to delete business: %v", err)
	}
	if rule, _ := repo.GetRewardRule(ctx, "b-1"); rule != rules.Default() {
		t.Errorf("Expected default after delete, got %+v", rule)
	}
}

// gatedCache blocks the first Set until release is closed.
type gatedCache struct {
	cache.Cache
	once    sync.Once
	entered chan struct{}
	release chan struct{}
}

func (g *gatedCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	first := false
	g.once.Do(func() { first = true })
	if first {
		close(g.entered)
		<-g.release
	}
	return g.Cache.Set(ctx, key, value, ttl)
}

func TestGetRewardRule_ConcurrentSetDoesNotLeaveStaleRule(t *testing.T) {
	db := setupTestDB(t)
	backend := &gatedCache{
		Cache:   cache.NewInMemoryCache(),
		entered: make(chan struct{}),
		release: make(chan struct{}),
	}
	repo := NewBusinessRepository(db, cache.NewRuleCache(backend, time.Hour))
	ctx := context.Background()

	if err := repo.Add(ctx, &models.Business{ID: "b", Name: "Bakery"}); err != nil {
		t.Fatalf("Failed to add business: %v", err)
	}

	done := make(chan error, 1)
	go func() {
		_, err := repo.GetRewardRule(ctx, "b")
		done <- err
	}()

	// The reader has loaded the old row and is about to cache it.
	<-backend.entered
	if err := repo.SetRewardRule(ctx, "b", rules.FixedVisits(10)); err != nil {
		t.Fatalf("Failed to set rule: %v", err)
	}
	close(backend.release)
	if err := <-done; err != nil {
		t.Fatalf("Concurrent read failed: %v", err)
	}

	rule, err := repo.GetRewardRule(ctx, "b")
	if err != nil {
		t.Fatalf("Failed to get rule: %v", err)
	}
	if rule.VisitsRequired != 10 {
		t.Errorf("Expected threshold 10 after set, got %d", rule.VisitsRequired)
	}
}
