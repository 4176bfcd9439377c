package service

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/sirupsen/logrus"

	"loyalty-rewards-api/internal/database"
	"loyalty-rewards-api/internal/models"
	"loyalty-rewards-api/internal/rewards"
	"loyalty-rewards-api/internal/rules"
	"loyalty-rewards-api/internal/validation"
)

// CustomerStore persists customers.
type CustomerStore interface {
	Add(ctx context.Context, c *models.Customer) error
	Update(ctx context.Context, c *models.Customer) error
	Delete(ctx context.Context, id string) error
	GetByID(ctx context.Context, id string) (*models.Customer, error)
	GetAll(ctx context.Context) ([]models.Customer, error)
	IncrementVisitCount(ctx context.Context, id string, by int) error
}

// BusinessStore persists businesses and their reward rules.
type BusinessStore interface {
	Add(ctx context.Context, b *models.Business) error
	Update(ctx context.Context, b *models.Business) error
	Delete(ctx context.Context, id string) error
	GetByID(ctx context.Context, id string) (*models.Business, error)
	GetAll(ctx context.Context) ([]models.Business, error)
	GetRewardRule(ctx context.Context, businessID string) (rules.RewardRule, error)
	SetRewardRule(ctx context.Context, businessID string, rule rules.RewardRule) error
}

// VisitStore persists visits.
type VisitStore interface {
	Add(ctx context.Context, v *models.Visit) error
	Update(ctx context.Context, v *models.Visit) error
	Delete(ctx context.Context, id string) error
	GetByID(ctx context.Context, id string) (*models.Visit, error)
	GetAll(ctx context.Context) ([]models.Visit, error)
	ListForCustomer(ctx context.Context, customerID string) ([]models.Visit, error)
	ListForBusiness(ctx context.Context, businessID string) ([]models.Visit, error)
	CountForCustomerAndBusiness(ctx context.Context, customerID, businessID string) (int, error)
	CalculateRewardsEarned(ctx context.Context, customerID, businessID string, visitsRequired int) (int, error)
}

// DemoLog is the name-keyed visit log kept for the demo tables.
type DemoLog interface {
	AddOrUpdateCustomer(ctx context.Context, name, phone string) error
	LogVisit(ctx context.Context, name string) error
	VisitsFor(ctx context.Context, name string) (int, error)
	CustomersWithVisits(ctx context.Context) ([]database.DemoCustomer, error)
}

// Service is the application layer used by the HTTP handlers. It validates
// input, keeps the reward hint derived from the evaluator and turns missing
// entities into ErrNotFound where an HTTP caller expects it.
type Service struct {
	customers  CustomerStore
	businesses BusinessStore
	visits     VisitStore
	evaluator  *rewards.Evaluator
	demo       DemoLog
	log        logrus.FieldLogger
}

type Option func(*Service)

func WithLogger(l logrus.FieldLogger) Option {
	return func(s *Service) { s.log = l }
}

// WithDemoLog enables the demo-table operations.
func WithDemoLog(d DemoLog) Option {
	return func(s *Service) { s.demo = d }
}

// NewService creates a new service instance.
func NewService(customers CustomerStore, businesses BusinessStore, visits VisitStore, evaluator *rewards.Evaluator, opts ...Option) *Service {
	s := &Service{
		customers:  customers,
		businesses: businesses,
		visits:     visits,
		evaluator:  evaluator,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.log == nil {
		l := logrus.New()
		l.SetOutput(io.Discard)
		s.log = l
	}
	return s
}

func notFound(kind, id string) error {
	return fmt.Errorf("%s %q: %w", kind, id, database.ErrNotFound)
}

// CreateCustomer validates and upserts a customer. The reward hint always
// starts cleared; it is only set from an evaluation.
func (s *Service) CreateCustomer(ctx context.Context, c *models.Customer) error {
	validation.SanitizeCustomer(c)
	if err := validation.ValidateCustomer(*c); err != nil {
		return err
	}

	c.RewardAvailable = false
	if err := s.customers.Add(ctx, c); err != nil {
		return err
	}

	s.log.WithField("customer_id", c.ID).Info("customer saved")
	return nil
}

// UpdateCustomer overwrites the editable fields of an existing customer.
func (s *Service) UpdateCustomer(ctx context.Context, c *models.Customer) error {
	validation.SanitizeCustomer(c)
	if err := validation.ValidateCustomer(*c); err != nil {
		return err
	}

	existing, err := s.customers.GetByID(ctx, c.ID)
	if err != nil {
		return err
	}
	if existing == nil {
		return notFound("customer", c.ID)
	}

	c.RewardAvailable = existing.RewardAvailable
	c.CreatedAt = existing.CreatedAt
	if c.VisitCount < existing.VisitCount {
		c.VisitCount = existing.VisitCount
	}

	return s.customers.Update(ctx, c)
}

func (s *Service) DeleteCustomer(ctx context.Context, id string) error {
	return s.customers.Delete(ctx, validation.SanitizeString(id))
}

func (s *Service) GetCustomer(ctx context.Context, id string) (*models.Customer, error) {
	c, err := s.customers.GetByID(ctx, validation.SanitizeString(id))
	if err != nil {
		return nil, err
	}
	if c == nil {
		return nil, notFound("customer", id)
	}
	return c, nil
}

func (s *Service) ListCustomers(ctx context.Context) ([]models.Customer, error) {
	return s.customers.GetAll(ctx)
}

// GetLegacyCustomer renders a customer with the legacy field names.
func (s *Service) GetLegacyCustomer(ctx context.Context, id string) (models.LegacyCustomer, error) {
	c, err := s.GetCustomer(ctx, id)
	if err != nil {
		return models.LegacyCustomer{}, err
	}
	return models.NewCustomerView(c).Legacy(), nil
}

// UpdateLegacyCustomer writes legacy-shaped fields through the canonical entity.
func (s *Service) UpdateLegacyCustomer(ctx context.Context, id string, l models.LegacyCustomer) (models.LegacyCustomer, error) {
	c, err := s.GetCustomer(ctx, id)
	if err != nil {
		return models.LegacyCustomer{}, err
	}

	view := models.NewCustomerView(c)
	view.ApplyLegacy(l)

	if err := s.UpdateCustomer(ctx, c); err != nil {
		return models.LegacyCustomer{}, err
	}
	return view.Legacy(), nil
}

// CreateBusiness validates and upserts a business. A non-empty rule blob must
// decode to a valid rule.
func (s *Service) CreateBusiness(ctx context.Context, b *models.Business) error {
	validation.SanitizeBusiness(b)
	if err := validation.ValidateBusiness(*b); err != nil {
		return err
	}
	if b.RewardRuleJSON != "" {
		rule, err := rules.TryParse(b.RewardRuleJSON)
		if err != nil {
			return &validation.ValidationError{Field: "reward_rule_json", Message: err.Error()}
		}
		b.SetRewardRule(rule)
	}

	if err := s.businesses.Add(ctx, b); err != nil {
		return err
	}

	s.log.WithField("business_id", b.ID).Info("business saved")
	return nil
}

// UpdateBusiness renames an existing business. The stored rule is kept unless
// the request carries a new blob.
func (s *Service) UpdateBusiness(ctx context.Context, b *models.Business) error {
	validation.SanitizeBusiness(b)
	if err := validation.ValidateBusiness(*b); err != nil {
		return err
	}

	existing, err := s.businesses.GetByID(ctx, b.ID)
	if err != nil {
		return err
	}
	if existing == nil {
		return notFound("business", b.ID)
	}

	existing.Name = b.Name
	if b.RewardRuleJSON != "" {
		rule, err := rules.TryParse(b.RewardRuleJSON)
		if err != nil {
			return &validation.ValidationError{Field: "reward_rule_json", Message: err.Error()}
		}
		existing.SetRewardRule(rule)
	}

	if err := s.businesses.Update(ctx, existing); err != nil {
		return err
	}
	*b = *existing
	return nil
}

func (s *Service) DeleteBusiness(ctx context.Context, id string) error {
	return s.businesses.Delete(ctx, validation.SanitizeString(id))
}

func (s *Service) GetBusiness(ctx context.Context, id string) (*models.Business, error) {
	b, err := s.businesses.GetByID(ctx, validation.SanitizeString(id))
	if err != nil {
		return nil, err
	}
	if b == nil {
		return nil, notFound("business", id)
	}
	return b, nil
}

func (s *Service) ListBusinesses(ctx context.Context) ([]models.Business, error) {
	return s.businesses.GetAll(ctx)
}

// GetRewardRule returns the effective rule; unknown businesses get the default.
func (s *Service) GetRewardRule(ctx context.Context, businessID string) (rules.RewardRule, error) {
	return s.businesses.GetRewardRule(ctx, validation.SanitizeString(businessID))
}

func (s *Service) SetRewardRule(ctx context.Context, businessID string, rule rules.RewardRule) error {
	if err := validation.ValidateRewardRule(rule); err != nil {
		return err
	}
	if err := s.businesses.SetRewardRule(ctx, validation.SanitizeString(businessID), rule); err != nil {
		return err
	}

	s.log.WithFields(logrus.Fields{
		"business_id":     businessID,
		"visits_required": rule.VisitsRequired,
	}).Info("reward rule updated")
	return nil
}

// RecordVisit stores a visit, bumps the customer's visit count and refreshes
// the customer's reward hint. Re-recording an existing visit ID replaces the
// visit without counting it twice.
func (s *Service) RecordVisit(ctx context.Context, v *models.Visit) (rewards.Result, error) {
	validation.SanitizeVisit(v)
	if err := validation.ValidateVisit(*v); err != nil {
		return rewards.Result{}, err
	}

	replay := false
	if v.ID != "" {
		existing, err := s.visits.GetByID(ctx, v.ID)
		if err != nil {
			return rewards.Result{}, err
		}
		replay = existing != nil
	}

	if err := s.visits.Add(ctx, v); err != nil {
		return rewards.Result{}, err
	}

	if !replay {
		if err := s.customers.IncrementVisitCount(ctx, v.CustomerID, 1); err != nil {
			return rewards.Result{}, err
		}
	}

	res, err := s.evaluator.RefreshRewardHint(ctx, v.CustomerID, v.BusinessID)
	if err != nil {
		return rewards.Result{}, err
	}

	s.log.WithFields(logrus.Fields{
		"visit_id":    v.ID,
		"customer_id": v.CustomerID,
		"business_id": v.BusinessID,
		"eligible":    res.Eligible,
	}).Info("visit recorded")

	return res, nil
}

func (s *Service) GetVisit(ctx context.Context, id string) (*models.Visit, error) {
	v, err := s.visits.GetByID(ctx, validation.SanitizeString(id))
	if err != nil {
		return nil, err
	}
	if v == nil {
		return nil, notFound("visit", id)
	}
	return v, nil
}

// ListVisits returns visits newest first, optionally narrowed to a customer
// or a business. When both are given the customer filter is applied in the
// store and the business filter on the result.
func (s *Service) ListVisits(ctx context.Context, customerID, businessID string) ([]models.Visit, error) {
	customerID = validation.SanitizeString(customerID)
	businessID = validation.SanitizeString(businessID)

	switch {
	case customerID != "":
		visits, err := s.visits.ListForCustomer(ctx, customerID)
		if err != nil || businessID == "" {
			return visits, err
		}
		filtered := visits[:0]
		for _, v := range visits {
			if v.BusinessID == businessID {
				filtered = append(filtered, v)
			}
		}
		return filtered, nil
	case businessID != "":
		return s.visits.ListForBusiness(ctx, businessID)
	default:
		return s.visits.GetAll(ctx)
	}
}

// UpdateVisit overwrites an existing visit. Visit counts are not touched;
// the reward hint is refreshed for the visit's customer and business.
func (s *Service) UpdateVisit(ctx context.Context, v *models.Visit) (rewards.Result, error) {
	validation.SanitizeVisit(v)
	if err := validation.ValidateVisit(*v); err != nil {
		return rewards.Result{}, err
	}

	existing, err := s.visits.GetByID(ctx, v.ID)
	if err != nil {
		return rewards.Result{}, err
	}
	if existing == nil {
		return rewards.Result{}, notFound("visit", v.ID)
	}
	if v.Timestamp.IsZero() {
		v.Timestamp = existing.Timestamp
	}

	if err := s.visits.Update(ctx, v); err != nil {
		return rewards.Result{}, err
	}
	return s.evaluator.RefreshRewardHint(ctx, v.CustomerID, v.BusinessID)
}

func (s *Service) DeleteVisit(ctx context.Context, id string) error {
	return s.visits.Delete(ctx, validation.SanitizeString(id))
}

// CheckEligibility evaluates a customer's visits to a business against the
// business's rule.
func (s *Service) CheckEligibility(ctx context.Context, customerID, businessID string) (rewards.Result, error) {
	customerID = validation.SanitizeString(customerID)
	businessID = validation.SanitizeString(businessID)

	if err := validation.ValidateID(customerID, "customer_id"); err != nil {
		return rewards.Result{}, err
	}
	if err := validation.ValidateID(businessID, "business_id"); err != nil {
		return rewards.Result{}, err
	}

	return s.evaluator.EvaluateCustomer(ctx, customerID, businessID)
}

// ErrDemoDisabled is returned by the demo operations when no demo log is wired.
var ErrDemoDisabled = errors.New("demo log is not enabled")

func demoName(name string) (string, error) {
	name = validation.SanitizeString(name)
	if name == "" {
		return "", &validation.ValidationError{Field: "name", Message: "is required"}
	}
	return name, nil
}

func (s *Service) AddDemoCustomer(ctx context.Context, name, phone string) error {
	if s.demo == nil {
		return ErrDemoDisabled
	}
	name, err := demoName(name)
	if err != nil {
		return err
	}
	return s.demo.AddOrUpdateCustomer(ctx, name, validation.SanitizeString(phone))
}

func (s *Service) LogDemoVisit(ctx context.Context, name string) error {
	if s.demo == nil {
		return ErrDemoDisabled
	}
	name, err := demoName(name)
	if err != nil {
		return err
	}
	return s.demo.LogVisit(ctx, name)
}

// DemoVisits returns how many visits were logged under name.
func (s *Service) DemoVisits(ctx context.Context, name string) (int, error) {
	if s.demo == nil {
		return 0, ErrDemoDisabled
	}
	name, err := demoName(name)
	if err != nil {
		return 0, err
	}
	return s.demo.VisitsFor(ctx, name)
}

func (s *Service) DemoCustomers(ctx context.Context) ([]database.DemoCustomer, error) {
	if s.demo == nil {
		return nil, ErrDemoDisabled
	}
	return s.demo.CustomersWithVisits(ctx)
}
