package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"loyalty-rewards-api/internal/metrics"
	"loyalty-rewards-api/internal/models"
)

const visitColumns = `Id, CustomerId, BusinessId, "Timestamp", Amount`

// VisitRepository stores visits. List queries return newest first.
type VisitRepository struct {
	db *DB
}

// NewVisitRepository creates a visit repository over db.
func NewVisitRepository(db *DB) *VisitRepository {
	return &VisitRepository{db: db}
}

// Add upserts a visit keyed by ID, generating the ID and timestamp when unset.
func (r *VisitRepository) Add(ctx context.Context, v *models.Visit) error {
	if v == nil {
		return ErrNilEntity
	}
	if v.Amount.IsNegative() {
		return ErrInvalidAmount
	}
	if strings.TrimSpace(v.ID) == "" {
		v.ID = uuid.New().String()
	}
	if v.Timestamp.IsZero() {
		v.Timestamp = r.db.now().UTC()
	}

	return r.db.withConn(ctx, "visit", "add", func(conn *sql.Conn) error {
		_, err := conn.ExecContext(ctx, `INSERT OR REPLACE INTO Visits (`+visitColumns+`)
			VALUES (?, ?, ?, ?, ?)`,
			v.ID,
			v.CustomerID,
			v.BusinessID,
			formatTimestamp(v.Timestamp),
			v.Amount.String(),
		)
		if err != nil {
			return fmt.Errorf("failed to upsert visit: %w", err)
		}
		return nil
	})
}

// Update rewrites an existing visit. An unknown ID writes nothing and is not
// an error.
func (r *VisitRepository) Update(ctx context.Context, v *models.Visit) error {
	if v == nil {
		return ErrNilEntity
	}
	if v.Amount.IsNegative() {
		return ErrInvalidAmount
	}

	return r.db.withConn(ctx, "visit", "update", func(conn *sql.Conn) error {
		_, err := conn.ExecContext(ctx, `UPDATE Visits
			SET CustomerId = ?,
				BusinessId = ?,
				"Timestamp" = ?,
				Amount = ?
			WHERE Id = ?`,
			v.CustomerID,
			v.BusinessID,
			formatTimestamp(v.Timestamp),
			v.Amount.String(),
			v.ID,
		)
		if err != nil {
			return fmt.Errorf("failed to update visit: %w", err)
		}
		return nil
	})
}

// Delete removes a visit. Deleting an unknown ID is a no-op.
func (r *VisitRepository) Delete(ctx context.Context, id string) error {
	return r.db.withConn(ctx, "visit", "delete", func(conn *sql.Conn) error {
		if _, err := conn.ExecContext(ctx, `DELETE FROM Visits WHERE Id = ?`, id); err != nil {
			return fmt.Errorf("failed to delete visit: %w", err)
		}
		return nil
	})
}

// GetByID returns the visit or nil when absent.
func (r *VisitRepository) GetByID(ctx context.Context, id string) (*models.Visit, error) {
	var visit *models.Visit

	err := r.db.withConn(ctx, "visit", "get", func(conn *sql.Conn) error {
		row := conn.QueryRowContext(ctx, `SELECT `+visitColumns+` FROM Visits WHERE Id = ?`, id)
		v, err := r.scan(row)
		if errors.Is(err, sql.ErrNoRows) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("failed to get visit: %w", err)
		}
		visit = v
		return nil
	})

	return visit, err
}

// GetAll returns every visit, newest first.
func (r *VisitRepository) GetAll(ctx context.Context) ([]models.Visit, error) {
	return r.list(ctx, "list", `SELECT `+visitColumns+` FROM Visits ORDER BY "Timestamp" DESC`)
}

// ListForCustomer returns a customer's visits, newest first.
func (r *VisitRepository) ListForCustomer(ctx context.Context, customerID string) ([]models.Visit, error) {
	return r.list(ctx, "list_for_customer",
		`SELECT `+visitColumns+` FROM Visits WHERE CustomerId = ? ORDER BY "Timestamp" DESC`, customerID)
}

// ListForBusiness returns a business's visits, newest first.
func (r *VisitRepository) ListForBusiness(ctx context.Context, businessID string) ([]models.Visit, error) {
	return r.list(ctx, "list_for_business",
		`SELECT `+visitColumns+` FROM Visits WHERE BusinessId = ? ORDER BY "Timestamp" DESC`, businessID)
}

// CountForCustomerAndBusiness returns how many visits a customer made to a
// business.
func (r *VisitRepository) CountForCustomerAndBusiness(ctx context.Context, customerID, businessID string) (int, error) {
	var count int

	err := r.db.withConn(ctx, "visit", "count", func(conn *sql.Conn) error {
		err := conn.QueryRowContext(ctx,
			`SELECT COUNT(1) FROM Visits WHERE CustomerId = ? AND BusinessId = ?`,
			customerID, businessID,
		).Scan(&count)
		if err != nil {
			return fmt.Errorf("failed to count visits: %w", err)
		}
		return nil
	})

	return count, err
}

// CalculateRewardsEarned returns floor(visits / visitsRequired). A
// non-positive threshold earns nothing.
func (r *VisitRepository) CalculateRewardsEarned(ctx context.Context, customerID, businessID string, visitsRequired int) (int, error) {
	if visitsRequired <= 0 {
		return 0, nil
	}

	count, err := r.CountForCustomerAndBusiness(ctx, customerID, businessID)
	if err != nil {
		return 0, err
	}

	return count / visitsRequired, nil
}

func (r *VisitRepository) list(ctx context.Context, operation, query string, args ...any) ([]models.Visit, error) {
	visits := []models.Visit{}

	err := r.db.withConn(ctx, "visit", operation, func(conn *sql.Conn) error {
		rows, err := conn.QueryContext(ctx, query, args...)
		if err != nil {
			return fmt.Errorf("failed to query visits: %w", err)
		}
		defer rows.Close()

		for rows.Next() {
			v, err := r.scan(rows)
			if err != nil {
				return fmt.Errorf("failed to scan visit: %w", err)
			}
			visits = append(visits, *v)
		}

		if err := rows.Err(); err != nil {
			return fmt.Errorf("error iterating visits: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	return visits, nil
}

func (r *VisitRepository) scan(s rowScanner) (*models.Visit, error) {
	var id, customerID, businessID, ts, amount any
	if err := s.Scan(&id, &customerID, &businessID, &ts, &amount); err != nil {
		return nil, err
	}

	v := &models.Visit{
		ID:         asString(id),
		CustomerID: asString(customerID),
		BusinessID: asString(businessID),
	}

	if t, ok := parseTimestamp(ts); ok {
		v.Timestamp = t
	} else {
		r.db.fallback(metrics.FallbackTimestamp, "visit", v.ID, "Timestamp", ts)
	}

	d, ok := asDecimal(amount)
	if !ok {
		r.db.fallback(metrics.FallbackNumeric, "visit", v.ID, "Amount", amount)
	}
	v.Amount = d

	return v, nil
}
