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
	"loyalty-rewards-api/internal/rules"
)

const customerColumns = `Id, Name, Email, PhoneNumber, VisitCount, RewardAvailable, CreatedAt`

// CustomerRepository stores customers.
type CustomerRepository struct {
	db *DB
}

// NewCustomerRepository creates a customer repository over db.
func NewCustomerRepository(db *DB) *CustomerRepository {
	return &CustomerRepository{db: db}
}

// Add upserts a customer keyed by ID. An empty ID is replaced by a generated
// one and a zero CreatedAt by the current time; both are written back to c.
// Adding the same ID twice overwrites the first row.
func (r *CustomerRepository) Add(ctx context.Context, c *models.Customer) error {
	if c == nil {
		return ErrNilEntity
	}
	if strings.TrimSpace(c.ID) == "" {
		c.ID = uuid.New().String()
	}
	if c.CreatedAt.IsZero() {
		c.CreatedAt = r.db.now().UTC()
	}

	return r.db.withConn(ctx, "customer", "add", func(conn *sql.Conn) error {
		_, err := conn.ExecContext(ctx, `INSERT OR REPLACE INTO Customers (`+customerColumns+`)
			VALUES (?, ?, ?, ?, ?, ?, ?)`,
			c.ID,
			c.Name,
			c.Email,
			c.PhoneNumber,
			c.VisitCount,
			boolToInt(c.RewardAvailable),
			formatTimestamp(c.CreatedAt),
		)
		if err != nil {
			return fmt.Errorf("failed to upsert customer: %w", err)
		}
		return nil
	})
}

// Update writes the mutable columns of an existing customer. An unknown ID
// writes nothing and is not an error. The stored visit count never goes down
// and the reward hint is left alone; RecordEligibility is its only writer.
func (r *CustomerRepository) Update(ctx context.Context, c *models.Customer) error {
	if c == nil {
		return ErrNilEntity
	}

	return r.db.withConn(ctx, "customer", "update", func(conn *sql.Conn) error {
		_, err := conn.ExecContext(ctx, `UPDATE Customers
			SET Name = ?,
				Email = ?,
				PhoneNumber = ?,
				VisitCount = MAX(VisitCount, ?)
			WHERE Id = ?`,
			c.Name,
			c.Email,
			c.PhoneNumber,
			c.VisitCount,
			c.ID,
		)
		if err != nil {
			return fmt.Errorf("failed to update customer: %w", err)
		}
		return nil
	})
}

// Delete removes a customer. Deleting an unknown ID is a no-op.
func (r *CustomerRepository) Delete(ctx context.Context, id string) error {
	return r.db.withConn(ctx, "customer", "delete", func(conn *sql.Conn) error {
		if _, err := conn.ExecContext(ctx, `DELETE FROM Customers WHERE Id = ?`, id); err != nil {
			return fmt.Errorf("failed to delete customer: %w", err)
		}
		return nil
	})
}

// GetByID returns the customer or nil when absent.
func (r *CustomerRepository) GetByID(ctx context.Context, id string) (*models.Customer, error) {
	var customer *models.Customer

	err := r.db.withConn(ctx, "customer", "get", func(conn *sql.Conn) error {
		row := conn.QueryRowContext(ctx, `SELECT `+customerColumns+` FROM Customers WHERE Id = ?`, id)
		c, err := r.scan(row)
		if errors.Is(err, sql.ErrNoRows) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("failed to get customer: %w", err)
		}
		customer = c
		return nil
	})

	return customer, err
}

// GetAll returns every customer in no particular order.
func (r *CustomerRepository) GetAll(ctx context.Context) ([]models.Customer, error) {
	customers := []models.Customer{}

	err := r.db.withConn(ctx, "customer", "list", func(conn *sql.Conn) error {
		rows, err := conn.QueryContext(ctx, `SELECT `+customerColumns+` FROM Customers`)
		if err != nil {
			return fmt.Errorf("failed to query customers: %w", err)
		}
		defer rows.Close()

		for rows.Next() {
			c, err := r.scan(rows)
			if err != nil {
				return fmt.Errorf("failed to scan customer: %w", err)
			}
			customers = append(customers, *c)
		}

		if err := rows.Err(); err != nil {
			return fmt.Errorf("error iterating customers: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	return customers, nil
}

// IncrementVisitCount adds by to the stored visit count. An unknown ID is a
// no-op.
func (r *CustomerRepository) IncrementVisitCount(ctx context.Context, id string, by int) error {
	if by <= 0 {
		return ErrInvalidIncrement
	}

	return r.db.withConn(ctx, "customer", "increment_visits", func(conn *sql.Conn) error {
		_, err := conn.ExecContext(ctx, `UPDATE Customers SET VisitCount = VisitCount + ? WHERE Id = ?`, by, id)
		if err != nil {
			return fmt.Errorf("failed to increment visit count: %w", err)
		}
		return nil
	})
}

// RecordEligibility stores the reward-available display hint from an
// evaluation. The hint is never read back as the eligibility verdict.
func (r *CustomerRepository) RecordEligibility(ctx context.Context, id string, d rules.Decision) error {
	return r.db.withConn(ctx, "customer", "record_eligibility", func(conn *sql.Conn) error {
		_, err := conn.ExecContext(ctx, `UPDATE Customers SET RewardAvailable = ? WHERE Id = ?`, boolToInt(d.Eligible), id)
		if err != nil {
			return fmt.Errorf("failed to record eligibility: %w", err)
		}
		return nil
	})
}

func (r *CustomerRepository) scan(s rowScanner) (*models.Customer, error) {
	var id, name, email, phone, visits, reward, created any
	if err := s.Scan(&id, &name, &email, &phone, &visits, &reward, &created); err != nil {
		return nil, err
	}

	c := &models.Customer{
		ID:          asString(id),
		Name:        asString(name),
		Email:       asString(email),
		PhoneNumber: asString(phone),
	}

	n, ok := asInt(visits)
	if !ok {
		r.db.fallback(metrics.FallbackNumeric, "customer", c.ID, "VisitCount", visits)
	}
	c.VisitCount = n

	flag, ok := asInt(reward)
	if !ok {
		r.db.fallback(metrics.FallbackNumeric, "customer", c.ID, "RewardAvailable", reward)
	}
	c.RewardAvailable = flag != 0

	if t, ok := parseTimestamp(created); ok {
		c.CreatedAt = t
	} else {
		r.db.fallback(metrics.FallbackTimestamp, "customer", c.ID, "CreatedAt", created)
	}

	return c, nil
}
