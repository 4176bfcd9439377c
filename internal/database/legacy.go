package database

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"loyalty-rewards-api/internal/metrics"
)

// DemoCustomer is a row of the name-keyed demo tables with its visit tally.
type DemoCustomer struct {
	Name       string    `json:"name"`
	Phone      string    `json:"phone"`
	JoinedAt   time.Time `json:"joined_at"`
	VisitCount int       `json:"visit_count"`
}

// LegacyLog reads and writes the demo tables, which track customers by
// display name instead of identifier.
type LegacyLog struct {
	db *DB
}

func NewLegacyLog(db *DB) *LegacyLog {
	return &LegacyLog{db: db}
}

// AddOrUpdateCustomer inserts a demo customer or updates the phone of the
// existing one with the same name.
func (l *LegacyLog) AddOrUpdateCustomer(ctx context.Context, name, phone string) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return fmt.Errorf("demo customer name is required")
	}

	return l.db.withConn(ctx, "demo_customer", "upsert", func(conn *sql.Conn) error {
		res, err := conn.ExecContext(ctx, `UPDATE DemoCustomers SET Phone = ? WHERE Name = ?`, phone, name)
		if err != nil {
			return fmt.Errorf("failed to update demo customer: %w", err)
		}
		if n, _ := res.RowsAffected(); n > 0 {
			return nil
		}

		_, err = conn.ExecContext(ctx,
			`INSERT INTO DemoCustomers (Name, Phone, JoinedUtc) VALUES (?, ?, ?)`,
			name, phone, formatTimestamp(l.db.now()),
		)
		if err != nil {
			return fmt.Errorf("failed to insert demo customer: %w", err)
		}
		return nil
	})
}

// LogVisit records a visit for the named demo customer.
func (l *LegacyLog) LogVisit(ctx context.Context, name string) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return fmt.Errorf("demo customer name is required")
	}

	return l.db.withConn(ctx, "demo_visit", "add", func(conn *sql.Conn) error {
		_, err := conn.ExecContext(ctx,
			`INSERT INTO DemoVisits (CustomerName, VisitUtc) VALUES (?, ?)`,
			name, formatTimestamp(l.db.now()),
		)
		if err != nil {
			return fmt.Errorf("failed to log demo visit: %w", err)
		}
		return nil
	})
}

// VisitsFor returns the number of visits logged for name.
func (l *LegacyLog) VisitsFor(ctx context.Context, name string) (int, error) {
	var count int
	err := l.db.withConn(ctx, "demo_visit", "count", func(conn *sql.Conn) error {
		err := conn.QueryRowContext(ctx,
			`SELECT COUNT(1) FROM DemoVisits WHERE CustomerName = ?`, strings.TrimSpace(name),
		).Scan(&count)
		if err != nil {
			return fmt.Errorf("failed to count demo visits: %w", err)
		}
		return nil
	})
	return count, err
}

// CustomersWithVisits returns every demo customer with their visit tally,
// ordered by name.
func (l *LegacyLog) CustomersWithVisits(ctx context.Context) ([]DemoCustomer, error) {
	customers := []DemoCustomer{}

	err := l.db.withConn(ctx, "demo_customer", "list", func(conn *sql.Conn) error {
		rows, err := conn.QueryContext(ctx, `SELECT c.Name, c.Phone, c.JoinedUtc, COUNT(v.Id)
			FROM DemoCustomers c
			LEFT JOIN DemoVisits v ON v.CustomerName = c.Name
			GROUP BY c.Id
			ORDER BY c.Name`)
		if err != nil {
			return fmt.Errorf("failed to query demo customers: %w", err)
		}
		defer rows.Close()

		for rows.Next() {
			var name, phone, joined, visits any
			if err := rows.Scan(&name, &phone, &joined, &visits); err != nil {
				return fmt.Errorf("failed to scan demo customer: %w", err)
			}

			dc := DemoCustomer{Name: asString(name), Phone: asString(phone)}
			if t, ok := parseTimestamp(joined); ok {
				dc.JoinedAt = t
			} else {
				l.db.fallback(metrics.FallbackTimestamp, "demo_customer", dc.Name, "JoinedUtc", joined)
			}
			dc.VisitCount, _ = asInt(visits)

			customers = append(customers, dc)
		}

		return rows.Err()
	})
	if err != nil {
		return nil, err
	}

	return customers, nil
}

// EnsureDemoSeed adds a sample customer with one visit when the demo tables
// are empty. Calling it again does nothing.
func (l *LegacyLog) EnsureDemoSeed(ctx context.Context) error {
	var existing int
	err := l.db.withConn(ctx, "demo_customer", "count", func(conn *sql.Conn) error {
		return conn.QueryRowContext(ctx, `SELECT COUNT(1) FROM DemoCustomers`).Scan(&existing)
	})
	if err != nil {
		return fmt.Errorf("failed to count demo customers: %w", err)
	}
	if existing > 0 {
		return nil
	}

	if err := l.AddOrUpdateCustomer(ctx, "Demo Customer", "555-0100"); err != nil {
		return err
	}
	return l.LogVisit(ctx, "Demo Customer")
}
