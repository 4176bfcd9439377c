package models

import (
	"time"

	"github.com/shopspring/decimal"

	"loyalty-rewards-api/internal/rules"
)

// Customer is a loyalty program member.
type Customer struct {
	ID          string `json:"id"`
	Name        string `json:"name" validate:"required,max=200"`
	Email       string `json:"email" validate:"omitempty,email,max=320"`
	PhoneNumber string `json:"phone_number" validate:"max=50"`
	VisitCount  int    `json:"visit_count" validate:"gte=0"`
	// RewardAvailable is a display hint cached from the last evaluation.
	// Eligibility is always recomputed from the business rule.
	RewardAvailable bool      `json:"reward_available"`
	CreatedAt       time.Time `json:"created_at"`
}

// Business owns a reward rule, persisted as an opaque JSON blob.
type Business struct {
	ID             string    `json:"id"`
	Name           string    `json:"name" validate:"required,max=200"`
	RewardRuleJSON string    `json:"reward_rule_json"`
	CreatedAt      time.Time `json:"created_at"`

	cachedRule *rules.RewardRule
	cachedFrom string
}

// RewardRule returns the business rule, decoding RewardRuleJSON on first use.
// An empty or unreadable blob yields the default rule.
func (b *Business) RewardRule() rules.RewardRule {
	if b.cachedRule != nil && b.cachedFrom == b.RewardRuleJSON {
		return *b.cachedRule
	}
	rule := rules.Parse(b.RewardRuleJSON)
	b.cachedRule = &rule
	b.cachedFrom = b.RewardRuleJSON
	return rule
}

// SetRewardRule re-serializes rule into RewardRuleJSON and replaces the cached copy.
func (b *Business) SetRewardRule(rule rules.RewardRule) {
	b.RewardRuleJSON = rule.Marshal()
	b.cachedRule = &rule
	b.cachedFrom = b.RewardRuleJSON
}

// Visit is a single customer visit to a business. CustomerID and BusinessID
// are advisory references; the store does not enforce them.
type Visit struct {
	ID         string          `json:"id"`
	CustomerID string          `json:"customer_id" validate:"required,max=128"`
	BusinessID string          `json:"business_id" validate:"required,max=128"`
	Timestamp  time.Time       `json:"timestamp"`
	Amount     decimal.Decimal `json:"amount"`
}

// EligibilityResponse is the response payload for a reward eligibility check.
type EligibilityResponse struct {
	CustomerID     string `json:"customer_id"`
	BusinessID     string `json:"business_id"`
	Visits         int    `json:"visits"`
	VisitsRequired int    `json:"visits_required"`
	Eligible       bool   `json:"eligible"`
	Description    string `json:"description"`
	RewardsEarned  int    `json:"rewards_earned"`
}

// RecordVisitResponse is returned after a visit is logged.
type RecordVisitResponse struct {
	Visit       Visit               `json:"visit"`
	Eligibility EligibilityResponse `json:"eligibility"`
}

// ErrorResponse represents an error response.
type ErrorResponse struct {
	Error string `json:"error"`
}
