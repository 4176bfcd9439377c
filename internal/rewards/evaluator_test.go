package rewards

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"loyalty-rewards-api/internal/database"
	"loyalty-rewards-api/internal/models"
	"loyalty-rewards-api/internal/rules"
)

type fixture struct {
	businesses *database.BusinessRepository
	customers  *database.CustomerRepository
	visits     *database.VisitRepository
	evaluator  *Evaluator
}

func setup(t *testing.T) fixture {
	t.Helper()
	db, err := database.NewDB(filepath.Join(t.TempDir(), "rewards.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	f := fixture{
		businesses: database.NewBusinessRepository(db, nil),
		customers:  database.NewCustomerRepository(db),
		visits:     database.NewVisitRepository(db),
	}
	f.evaluator = NewEvaluator(f.businesses, f.visits, f.customers)
	return f
}

func (f fixture) addVisits(t *testing.T, customerID, businessID string, n int) {
	t.Helper()
	start := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	for i := 0; i < n; i++ {
		require.NoError(t, f.visits.Add(context.Background(), &models.Visit{
			CustomerID: customerID,
			BusinessID: businessID,
			Timestamp:  start.Add(time.Duration(i) * time.Minute),
		}))
	}
}

func TestDefaultRuleScenario(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	require.NoError(t, f.businesses.Add(ctx, &models.Business{ID: "b", Name: "Bakery"}))

	rule, err := f.businesses.GetRewardRule(ctx, "b")
	require.NoError(t, err)
	assert.Equal(t, 5, rule.VisitsRequired)

	d, err := f.evaluator.Evaluate(ctx, "b", 4)
	require.NoError(t, err)
	assert.False(t, d.Eligible)
	assert.Equal(t, "Not eligible (< 5 visits)", d.Description)

	d, err = f.evaluator.Evaluate(ctx, "b", 5)
	require.NoError(t, err)
	assert.True(t, d.Eligible)

	f.addVisits(t, "c", "b", 12)
	earned, err := f.evaluator.RewardsEarned(ctx, "c", "b")
	require.NoError(t, err)
	assert.Equal(t, 2, earned)

	res, err := f.evaluator.EvaluateCustomer(ctx, "c", "b")
	require.NoError(t, err)
	assert.True(t, res.Eligible)
	assert.Equal(t, 12, res.Visits)
	assert.Equal(t, 2, res.RewardsEarned)
}

func TestEvaluate_InvalidBlobUsesDefault(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	require.NoError(t, f.businesses.Add(ctx, &models.Business{ID: "b", RewardRuleJSON: "{not valid json"}))

	d, err := f.evaluator.Evaluate(ctx, "b", 5)
	require.NoError(t, err)
	assert.True(t, d.Eligible)
	assert.Equal(t, rules.DefaultVisitsRequired, d.VisitsRequired)
}

func TestEvaluateCustomer_ConfiguredRule(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	require.NoError(t, f.businesses.Add(ctx, &models.Business{ID: "b", Name: "Barber"}))
	require.NoError(t, f.businesses.SetRewardRule(ctx, "b", rules.FixedVisits(3)))
	f.addVisits(t, "c", "b", 2)
	f.addVisits(t, "c", "other", 4)

	res, err := f.evaluator.EvaluateCustomer(ctx, "c", "b")
	require.NoError(t, err)
	assert.False(t, res.Eligible)
	assert.Equal(t, 2, res.Visits)
	assert.Equal(t, 0, res.RewardsEarned)

	f.addVisits(t, "c", "b", 1)
	res, err = f.evaluator.EvaluateCustomer(ctx, "c", "b")
	require.NoError(t, err)
	assert.True(t, res.Eligible)
	assert.Equal(t, 1, res.RewardsEarned)
}

func TestRefreshRewardHint(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	require.NoError(t, f.businesses.Add(ctx, &models.Business{ID: "b"}))
	require.NoError(t, f.customers.Add(ctx, &models.Customer{ID: "c", Name: "Ada", RewardAvailable: true}))

	_, err := f.evaluator.RefreshRewardHint(ctx, "c", "b")
	require.NoError(t, err)
	c, err := f.customers.GetByID(ctx, "c")
	require.NoError(t, err)
	assert.False(t, c.RewardAvailable, "stale hint should be overwritten by the recomputed verdict")

	f.addVisits(t, "c", "b", 5)
	_, err = f.evaluator.RefreshRewardHint(ctx, "c", "b")
	require.NoError(t, err)
	c, _ = f.customers.GetByID(ctx, "c")
	assert.True(t, c.RewardAvailable)
}

type failingRules struct{}

func (failingRules) GetRewardRule(context.Context, string) (rules.RewardRule, error) {
	return rules.Default(), errors.New("disk on fire")
}

func TestEvaluate_PropagatesStoreFailure(t *testing.T) {
	e := NewEvaluator(failingRules{}, nil, nil)
	_, err := e.Evaluate(context.Background(), "b", 3)
	assert.Error(t, err)
}
