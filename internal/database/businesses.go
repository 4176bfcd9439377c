package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"loyalty-rewards-api/internal/cache"
	"loyalty-rewards-api/internal/metrics"
	"loyalty-rewards-api/internal/models"
	"loyalty-rewards-api/internal/rules"
)

const businessColumns = `Id, Name, RewardRuleJson, CreatedAt`

// BusinessRepository stores businesses and their reward rules.
type BusinessRepository struct {
	db    *DB
	rules *cache.RuleCache
}

// NewBusinessRepository creates a business repository over db. ruleCache may
// be nil; when set, every write through this repository invalidates the
// business's cached rule.
func NewBusinessRepository(db *DB, ruleCache *cache.RuleCache) *BusinessRepository {
	return &BusinessRepository{db: db, rules: ruleCache}
}

// Add upserts a business keyed by ID, generating the ID and CreatedAt when
// they are unset.
func (r *BusinessRepository) Add(ctx context.Context, b *models.Business) error {
	if b == nil {
		return ErrNilEntity
	}
	if strings.TrimSpace(b.ID) == "" {
		b.ID = uuid.New().String()
	}
	if b.CreatedAt.IsZero() {
		b.CreatedAt = r.db.now().UTC()
	}

	err := r.db.withConn(ctx, "business", "add", func(conn *sql.Conn) error {
		_, err := conn.ExecContext(ctx, `INSERT OR REPLACE INTO Businesses (`+businessColumns+`)
			VALUES (?, ?, ?, ?)`,
			b.ID,
			b.Name,
			b.RewardRuleJSON,
			formatTimestamp(b.CreatedAt),
		)
		if err != nil {
			return fmt.Errorf("failed to upsert business: %w", err)
		}
		return nil
	})
	r.invalidate(ctx, b.ID)
	return err
}

// Update writes the name and rule blob of an existing business. An unknown ID
// writes nothing and is not an error.
func (r *BusinessRepository) Update(ctx context.Context, b *models.Business) error {
	if b == nil {
		return ErrNilEntity
	}

	err := r.db.withConn(ctx, "business", "update", func(conn *sql.Conn) error {
		_, err := conn.ExecContext(ctx, `UPDATE Businesses
			SET Name = ?,
				RewardRuleJson = ?
			WHERE Id = ?`,
			b.Name,
			b.RewardRuleJSON,
			b.ID,
		)
		if err != nil {
			return fmt.Errorf("failed to update business: %w", err)
		}
		return nil
	})
	r.invalidate(ctx, b.ID)
	return err
}

// Delete removes a business. Deleting an unknown ID is a no-op.
func (r *BusinessRepository) Delete(ctx context.Context, id string) error {
	err := r.db.withConn(ctx, "business", "delete", func(conn *sql.Conn) error {
		if _, err := conn.ExecContext(ctx, `DELETE FROM Businesses WHERE Id = ?`, id); err != nil {
			return fmt.Errorf("failed to delete business: %w", err)
		}
		return nil
	})
	r.invalidate(ctx, id)
	return err
}

// GetByID returns the business or nil when absent.
func (r *BusinessRepository) GetByID(ctx context.Context, id string) (*models.Business, error) {
	var business *models.Business

	err := r.db.withConn(ctx, "business", "get", func(conn *sql.Conn) error {
		row := conn.QueryRowContext(ctx, `SELECT `+businessColumns+` FROM Businesses WHERE Id = ?`, id)
		b, err := r.scan(row)
		if errors.Is(err, sql.ErrNoRows) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("failed to get business: %w", err)
		}
		business = b
		return nil
	})

	return business, err
}

// GetAll returns every business in no particular order.
func (r *BusinessRepository) GetAll(ctx context.Context) ([]models.Business, error) {
	businesses := []models.Business{}

	err := r.db.withConn(ctx, "business", "list", func(conn *sql.Conn) error {
		rows, err := conn.QueryContext(ctx, `SELECT `+businessColumns+` FROM Businesses`)
		if err != nil {
			return fmt.Errorf("failed to query businesses: %w", err)
		}
		defer rows.Close()

		for rows.Next() {
			b, err := r.scan(rows)
			if err != nil {
				return fmt.Errorf("failed to scan business: %w", err)
			}
			businesses = append(businesses, *b)
		}

		if err := rows.Err(); err != nil {
			return fmt.Errorf("error iterating businesses: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	return businesses, nil
}

// GetRewardRule returns the business's reward rule. An absent business, an
// empty blob or an unreadable blob all yield the default rule; only store
// failures are returned as errors.
func (r *BusinessRepository) GetRewardRule(ctx context.Context, businessID string) (rules.RewardRule, error) {
	var gen uint64
	if r.rules != nil {
		if rule, ok := r.rules.Get(ctx, businessID); ok {
			return rule, nil
		}
		gen = r.rules.Generation(businessID)
	}

	b, err := r.GetByID(ctx, businessID)
	if err != nil {
		return rules.Default(), err
	}
	if b == nil {
		return rules.Default(), nil
	}

	// TODO: revisit the silent fallback once a second rule variant exists; an
	// unreadable blob from a newer writer is indistinguishable from garbage.
	rule, err := rules.TryParse(b.RewardRuleJSON)
	if err != nil {
		r.db.fallback(metrics.FallbackRule, "business", businessID, "RewardRuleJson", b.RewardRuleJSON)
		rule = rules.Default()
	}

	if r.rules != nil {
		if err := r.rules.Put(ctx, businessID, rule, gen); err != nil {
			r.db.log.WithError(err).WithField("business_id", businessID).Debug("rule cache put failed")
		}
	}

	return rule, nil
}

// SetRewardRule replaces the rule of an existing business. It fails with
// ErrNotFound, writing nothing, when the business does not exist.
//
// The read and the write are separate calls: two concurrent callers targeting
// the same business can interleave and the last write wins.
func (r *BusinessRepository) SetRewardRule(ctx context.Context, businessID string, rule rules.RewardRule) error {
	if err := rule.Validate(); err != nil {
		return err
	}

	b, err := r.GetByID(ctx, businessID)
	if err != nil {
		return err
	}
	if b == nil {
		return fmt.Errorf("business %q: %w", businessID, ErrNotFound)
	}

	b.SetRewardRule(rule)
	return r.Update(ctx, b)
}

func (r *BusinessRepository) invalidate(ctx context.Context, businessID string) {
	if r.rules == nil {
		return
	}
	if err := r.rules.Invalidate(ctx, businessID); err != nil {
		r.db.log.WithFields(logrus.Fields{
			"business_id": businessID,
			"error":       err,
		}).Warn("rule cache invalidation failed")
	}
}

func (r *BusinessRepository) scan(s rowScanner) (*models.Business, error) {
	var id, name, ruleJSON, created any
	if err := s.Scan(&id, &name, &ruleJSON, &created); err != nil {
		return nil, err
	}

	b := &models.Business{
		ID:             asString(id),
		Name:           asString(name),
		RewardRuleJSON: asString(ruleJSON),
	}

	if t, ok := parseTimestamp(created); ok {
		b.CreatedAt = t
	} else {
		r.db.fallback(metrics.FallbackTimestamp, "business", b.ID, "CreatedAt", created)
	}

	return b, nil
}
