// Package rewards evaluates reward eligibility by combining a business's
// reward rule with a customer's visit tally. It stores nothing itself.
package rewards

import (
	"context"
	"fmt"
	"io"

	"github.com/sirupsen/logrus"

	"loyalty-rewards-api/internal/metrics"
	"loyalty-rewards-api/internal/rules"
)

// RuleSource resolves the reward rule configured for a business.
type RuleSource interface {
	GetRewardRule(ctx context.Context, businessID string) (rules.RewardRule, error)
}

// VisitCounter tallies visits per customer and business.
type VisitCounter interface {
	CountForCustomerAndBusiness(ctx context.Context, customerID, businessID string) (int, error)
	CalculateRewardsEarned(ctx context.Context, customerID, businessID string, visitsRequired int) (int, error)
}

// HintRecorder stores the reward-available display hint on a customer.
type HintRecorder interface {
	RecordEligibility(ctx context.Context, customerID string, d rules.Decision) error
}

// Result is an eligibility decision for one customer at one business.
type Result struct {
	CustomerID string
	BusinessID string
	rules.Decision
	RewardsEarned int
}

// Evaluator answers eligibility questions.
type Evaluator struct {
	rules   RuleSource
	visits  VisitCounter
	hints   HintRecorder
	log     logrus.FieldLogger
	metrics *metrics.Metrics
}

// Option configures an Evaluator.
type Option func(*Evaluator)

func WithLogger(l logrus.FieldLogger) Option {
	return func(e *Evaluator) { e.log = l }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(e *Evaluator) { e.metrics = m }
}

// NewEvaluator creates an evaluator. hints may be nil, in which case
// RefreshRewardHint only evaluates.
func NewEvaluator(ruleSource RuleSource, visits VisitCounter, hints HintRecorder, opts ...Option) *Evaluator {
	discard := logrus.New()
	discard.SetOutput(io.Discard)

	e := &Evaluator{
		rules:  ruleSource,
		visits: visits,
		hints:  hints,
		log:    discard,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Evaluate applies the business's rule to a visit count.
func (e *Evaluator) Evaluate(ctx context.Context, businessID string, visitCount int) (rules.Decision, error) {
	rule, err := e.rules.GetRewardRule(ctx, businessID)
	if err != nil {
		return rules.Decision{}, fmt.Errorf("failed to load reward rule: %w", err)
	}

	d := rule.Decide(visitCount)
	e.metrics.ObserveEvaluation(d.Eligible)
	return d, nil
}

// EvaluateCustomer counts the customer's visits to the business and applies
// the business's rule.
func (e *Evaluator) EvaluateCustomer(ctx context.Context, customerID, businessID string) (Result, error) {
	count, err := e.visits.CountForCustomerAndBusiness(ctx, customerID, businessID)
	if err != nil {
		return Result{}, fmt.Errorf("failed to count visits: %w", err)
	}

	d, err := e.Evaluate(ctx, businessID, count)
	if err != nil {
		return Result{}, err
	}

	res := Result{
		CustomerID: customerID,
		BusinessID: businessID,
		Decision:   d,
	}
	if d.VisitsRequired > 0 {
		res.RewardsEarned = count / d.VisitsRequired
	}

	e.log.WithFields(logrus.Fields{
		"customer_id": customerID,
		"business_id": businessID,
		"visits":      count,
		"eligible":    d.Eligible,
	}).Debug("reward evaluated")

	return res, nil
}

// RewardsEarned returns how many rewards the customer's visits to the business
// add up to under the business's threshold.
func (e *Evaluator) RewardsEarned(ctx context.Context, customerID, businessID string) (int, error) {
	rule, err := e.rules.GetRewardRule(ctx, businessID)
	if err != nil {
		return 0, fmt.Errorf("failed to load reward rule: %w", err)
	}
	return e.visits.CalculateRewardsEarned(ctx, customerID, businessID, rule.VisitsRequired)
}

// RefreshRewardHint recomputes eligibility and stores it as the customer's
// display hint.
func (e *Evaluator) RefreshRewardHint(ctx context.Context, customerID, businessID string) (Result, error) {
	res, err := e.EvaluateCustomer(ctx, customerID, businessID)
	if err != nil {
		return Result{}, err
	}
	if e.hints == nil {
		return res, nil
	}
	if err := e.hints.RecordEligibility(ctx, customerID, res.Decision); err != nil {
		return res, fmt.Errorf("failed to record reward hint: %w", err)
	}
	return res, nil
}
