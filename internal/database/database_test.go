package database

import (
	"context"
	"math"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"
)

func setupTestDB(t *testing.T) *DB {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "rewards.db")
	db, err := NewDB(dbPath)
	if err != nil {
		t.Fatalf("Failed to create test database: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func TestNewDB_CreatesDirectory(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "nested", "deeper", "rewards.db")

	db, err := NewDB(dbPath)
	if err != nil {
		t.Fatalf("Failed to create database: %v", err)
	}
	defer db.Close()

	if _, err := os.Stat(dbPath); err != nil {
		t.Fatalf("Expected database file to exist: %v", err)
	}
}

func TestNewDB_IdempotentSchema(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "rewards.db")
	ctx := context.Background()

	first, err := NewDB(dbPath)
	if err != nil {
		t.Fatalf("Failed to create database: %v", err)
	}
	if err := NewCustomerRepository(first).Add(ctx, newCustomer("c-1", "Ada Lovelace")); err != nil {
		t.Fatalf("Failed to add customer: %v", err)
	}
	first.Close()

	second, err := NewDB(dbPath)
	if err != nil {
		t.Fatalf("Failed to reopen database: %v", err)
	}
	defer second.Close()

	c, err := NewCustomerRepository(second).GetByID(ctx, "c-1")
	if err != nil {
		t.Fatalf("Failed to get customer: %v", err)
	}
	if c == nil {
		t.Fatal("Expected customer to survive reinitialization")
	}
}

func TestNewDB_ConcurrentConstruction(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "rewards.db")

	var wg sync.WaitGroup
	errs := make(chan error, 8)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			db, err := NewDB(dbPath)
			if err != nil {
				errs <- err
				return
			}
			db.Close()
		}()
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		t.Errorf("Concurrent initialization failed: %v", err)
	}
}

func TestNewDB_FailsWhenDirectoryCannotBeCreated(t *testing.T) {
	blocker := filepath.Join(t.TempDir(), "blocker")
	if err := os.WriteFile(blocker, []byte("x"), 0o644); err != nil {
		t.Fatalf("Failed to create blocker file: %v", err)
	}

	if _, err := NewDB(filepath.Join(blocker, "sub", "rewards.db")); err == nil {
		t.Fatal("Expected error when the directory cannot be created")
	}
}

func TestTimestampFormat(t *testing.T) {
	ts := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	if got := formatTimestamp(ts); got != "2024-01-02T03:04:05.0000000Z" {
		t.Errorf("Expected 2024-01-02T03:04:05.0000000Z, got %s", got)
	}

	parsed, ok := parseTimestamp("2024-01-02T03:04:05.1234567Z")
	if !ok {
		t.Fatal("Expected round-trip timestamp to parse")
	}
	if parsed.Nanosecond() != 123456700 {
		t.Errorf("Expected 123456700ns, got %d", parsed.Nanosecond())
	}

	parsed, ok = parseTimestamp("2024-01-02T05:04:05.0000000+02:00")
	if !ok || !parsed.Equal(ts) {
		t.Errorf("Expected offset timestamp to normalize to %v, got %v", ts, parsed)
	}

	if _, ok := parseTimestamp("02/01/2024 03:04"); ok {
		t.Error("Expected non round-trip timestamp to be rejected")
	}
}

func TestCoercion(t *testing.T) {
	cases := []struct {
		raw  any
		want int
		ok   bool
	}{
		{int64(7), 7, true},
		{float64(7), 7, true},
		{"7", 7, true},
		{[]byte("8"), 8, true},
		{"7.0", 7, true},
		{"seven", 0, false},
		{nil, 0, false},
		{float64(1e300), 0, false},
		{float64(-1e300), 0, false},
		{math.NaN(), 0, false},
		{math.Inf(1), 0, false},
		{"1e300", 0, false},
		{float64(-3.9), -3, true},
	}

	for _, tc := range cases {
		got, ok := asInt(tc.raw)
		if got != tc.want || ok != tc.ok {
			t.Errorf("asInt(%#v) = (%d, %v), want (%d, %v)", tc.raw, got, ok, tc.want, tc.ok)
		}
	}

	d, ok := asDecimal(float64(12.5))
	if !ok || d.String() != "12.5" {
		t.Errorf("Expected 12.5, got %s", d)
	}
	d, ok = asDecimal(nil)
	if !ok || !d.IsZero() {
		t.Errorf("Expected NULL amount to read as zero, got %s", d)
	}
	if _, ok := asDecimal("abc"); ok {
		t.Error("Expected malformed amount to be reported")
	}
}
