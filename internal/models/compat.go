package models

import (
	"strings"
	"time"
)

// CustomerView exposes the legacy field names over a canonical Customer.
// Every alias is derived from, and written back through, the canonical fields:
//
//	FirstName / LastName -> Name (split on the first space)
//	Phone                -> PhoneNumber
//	Points               -> VisitCount
type CustomerView struct {
	c *Customer
}

// NewCustomerView wraps c. Writes through the view mutate c.
func NewCustomerView(c *Customer) CustomerView {
	return CustomerView{c: c}
}

// Customer returns the underlying canonical entity.
func (v CustomerView) Customer() *Customer { return v.c }

func (v CustomerView) FullName() string { return v.c.Name }

func (v CustomerView) SetFullName(name string) { v.c.Name = strings.TrimSpace(name) }

// FirstName is everything before the first space of the trimmed name.
func (v CustomerView) FirstName() string {
	first, _ := splitName(v.c.Name)
	return first
}

// LastName is everything after the first space; multi-word last names stay whole.
func (v CustomerView) LastName() string {
	_, last := splitName(v.c.Name)
	return last
}

func (v CustomerView) SetFirstName(first string) {
	v.c.Name = joinName(first, v.LastName())
}

func (v CustomerView) SetLastName(last string) {
	v.c.Name = joinName(v.FirstName(), last)
}

func (v CustomerView) Phone() string { return v.c.PhoneNumber }

func (v CustomerView) SetPhone(phone string) { v.c.PhoneNumber = phone }

func (v CustomerView) Points() int { return v.c.VisitCount }

func (v CustomerView) SetPoints(points int) { v.c.VisitCount = points }

func splitName(name string) (string, string) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", ""
	}
	first, last, _ := strings.Cut(name, " ")
	return first, strings.TrimSpace(last)
}

func joinName(first, last string) string {
	first = strings.TrimSpace(first)
	last = strings.TrimSpace(last)
	switch {
	case first == "":
		return last
	case last == "":
		return first
	default:
		return first + " " + last
	}
}

// LegacyCustomer is the customer shape older callers read and write.
type LegacyCustomer struct {
	ID              string    `json:"id"`
	FirstName       string    `json:"first_name"`
	LastName        string    `json:"last_name"`
	Email           string    `json:"email"`
	Phone           string    `json:"phone"`
	Points          int       `json:"points"`
	RewardAvailable bool      `json:"reward_available"`
	CreatedAt       time.Time `json:"created_at"`
}

// Legacy renders the customer in the legacy shape.
func (v CustomerView) Legacy() LegacyCustomer {
	return LegacyCustomer{
		ID:              v.c.ID,
		FirstName:       v.FirstName(),
		LastName:        v.LastName(),
		Email:           v.c.Email,
		Phone:           v.Phone(),
		Points:          v.Points(),
		RewardAvailable: v.c.RewardAvailable,
		CreatedAt:       v.c.CreatedAt,
	}
}

// ApplyLegacy writes the legacy fields back onto the canonical entity.
// ID, CreatedAt and RewardAvailable are not writable through this path.
func (v CustomerView) ApplyLegacy(l LegacyCustomer) {
	v.c.Name = joinName(l.FirstName, l.LastName)
	v.c.Email = l.Email
	v.SetPhone(l.Phone)
	v.SetPoints(l.Points)
}

// VisitView aliases VisitAt onto Timestamp.
type VisitView struct {
	v *Visit
}

func NewVisitView(v *Visit) VisitView { return VisitView{v: v} }

func (vv VisitView) VisitAt() time.Time { return vv.v.Timestamp }

func (vv VisitView) SetVisitAt(t time.Time) { vv.v.Timestamp = t }
