package database

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"loyalty-rewards-api/internal/models"
)

func addVisits(t *testing.T, repo *VisitRepository, customerID, businessID string, n int, start time.Time) {
	t.Helper()
	for i := 0; i < n; i++ {
		v := &models.Visit{
			CustomerID: customerID,
			BusinessID: businessID,
			Timestamp:  start.Add(time.Duration(i) * time.Hour),
		}
		if err := repo.Add(context.Background(), v); err != nil {
			t.Fatalf("Failed to add visit: %v", err)
		}
	}
}

func TestVisitAdd_Defaults(t *testing.T) {
	db := setupTestDB(t)
	repo := NewVisitRepository(db)
	ctx := context.Background()

	v := &models.Visit{CustomerID: "c-1", BusinessID: "b-1"}
	if err := repo.Add(ctx, v); err != nil {
		t.Fatalf("Failed to add visit: %v", err)
	}
	if v.ID == "" || v.Timestamp.IsZero() {
		t.Fatalf("Expected generated ID and timestamp, got %+v", v)
	}

	got, err := repo.GetByID(ctx, v.ID)
	if err != nil {
		t.Fatalf("Failed to get visit: %v", err)
	}
	if !got.Amount.IsZero() {
		t.Errorf("Expected zero amount, got %s", got.Amount)
	}
}

func TestVisitAdd_RejectsNegativeAmount(t *testing.T) {
	db := setupTestDB(t)
	repo := NewVisitRepository(db)

	v := &models.Visit{CustomerID: "c-1", BusinessID: "b-1", Amount: decimal.NewFromInt(-1)}
	if err := repo.Add(context.Background(), v); !errors.Is(err, ErrInvalidAmount) {
		t.Fatalf("Expected ErrInvalidAmount, got %v", err)
	}
}

func TestVisitGetAll_NewestFirst(t *testing.T) {
	db := setupTestDB(t)
	repo := NewVisitRepository(db)
	ctx := context.Background()

	start := time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)
	addVisits(t, repo, "c-1", "b-1", 3, start)
	addVisits(t, repo, "c-2", "b-2", 2, start.Add(30*time.Minute))

	all, err := repo.GetAll(ctx)
	if err != nil {
		t.Fatalf("Failed to list visits: %v", err)
	}
	if len(all) != 5 {
		t.Fatalf("Expected 5 visits, got %d", len(all))
	}
	for i := 1; i < len(all); i++ {
		if all[i].Timestamp.After(all[i-1].Timestamp) {
			t.Errorf("Visits not in descending order at %d: %v after %v", i, all[i].Timestamp, all[i-1].Timestamp)
		}
	}

	forCustomer, _ := repo.ListForCustomer(ctx, "c-1")
	if len(forCustomer) != 3 {
		t.Errorf("Expected 3 visits for c-1, got %d", len(forCustomer))
	}
	forBusiness, _ := repo.ListForBusiness(ctx, "b-2")
	if len(forBusiness) != 2 {
		t.Errorf("Expected 2 visits for b-2, got %d", len(forBusiness))
	}
}

func TestVisitAdd_UpsertAndUpdate(t *testing.T) {
	db := setupTestDB(t)
	repo := NewVisitRepository(db)
	ctx := context.Background()

	v := &models.Visit{ID: "v-1", CustomerID: "c-1", BusinessID: "b-1", Amount: decimal.RequireFromString("4.50")}
	if err := repo.Add(ctx, v); err != nil {
		t.Fatalf("Failed to add visit: %v", err)
	}
	v.Amount = decimal.RequireFromString("9.99")
	if err := repo.Add(ctx, v); err != nil {
		t.Fatalf("Failed to re-add visit: %v", err)
	}

	all, _ := repo.GetAll(ctx)
	if len(all) != 1 {
		t.Fatalf("Expected 1 visit, got %d", len(all))
	}
	if !all[0].Amount.Equal(decimal.RequireFromString("9.99")) {
		t.Errorf("Expected amount 9.99, got %s", all[0].Amount)
	}

	v.BusinessID = "b-2"
	if err := repo.Update(ctx, v); err != nil {
		t.Fatalf("Failed to update visit: %v", err)
	}
	got, _ := repo.GetByID(ctx, "v-1")
	if got.BusinessID != "b-2" {
		t.Errorf("Expected business b-2, got %s", got.BusinessID)
	}

	if err := repo.Update(ctx, &models.Visit{ID: "missing"}); err != nil {
		t.Errorf("Expected silent update of unknown visit, got %v", err)
	}
	if err := repo.Delete(ctx, "missing"); err != nil {
		t.Errorf("Expected silent delete of unknown visit, got %v", err)
	}
}

func TestCountAndRewardsEarned(t *testing.T) {
	db := setupTestDB(t)
	repo := NewVisitRepository(db)
	ctx := context.Background()

	addVisits(t, repo, "c-1", "b-1", 12, time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC))
	addVisits(t, repo, "c-1", "b-2", 2, time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC))

	count, err := repo.CountForCustomerAndBusiness(ctx, "c-1", "b-1")
	if err != nil {
		t.Fatalf("Failed to count: %v", err)
	}
	if count != 12 {
		t.Errorf("Expected 12 visits, got %d", count)
	}

	cases := map[int]int{5: 2, 12: 1, 13: 0, 1: 12, 0: 0, -3: 0}
	for threshold, want := range cases {
		got, err := repo.CalculateRewardsEarned(ctx, "c-1", "b-1", threshold)
		if err != nil {
			t.Fatalf("CalculateRewardsEarned(%d) failed: %v", threshold, err)
		}
		if got != want {
			t.Errorf("CalculateRewardsEarned(%d) = %d, want %d", threshold, got, want)
		}
	}
}

func TestVisitScan_LegacyAmountAndTimestamp(t *testing.T) {
	db := setupTestDB(t)
	repo := NewVisitRepository(db)

	_, err := db.conn.Exec(`INSERT INTO Visits (Id, CustomerId, BusinessId, "Timestamp", Amount)
		VALUES ('v-legacy', 'c-1', 'b-1', 'not a date', 12.5)`)
	if err != nil {
		t.Fatalf("Failed to insert legacy row: %v", err)
	}

	got, err := repo.GetByID(context.Background(), "v-legacy")
	if err != nil {
		t.Fatalf("Malformed row should not fail the read: %v", err)
	}
	if !got.Timestamp.IsZero() {
		t.Errorf("Expected zero timestamp fallback, got %v", got.Timestamp)
	}
	if !got.Amount.Equal(decimal.RequireFromString("12.5")) {
		t.Errorf("Expected amount 12.5, got %s", got.Amount)
	}
}
