// Package rules holds the reward rule model: a small tagged variant that is
// stored on a business as a compact JSON blob and evaluated against a visit
// count.
package rules

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// Mode identifies the reward rule variant.
type Mode string

const (
	// ModeFixedVisits grants a reward once a fixed number of visits is reached.
	ModeFixedVisits Mode = "FixedVisits"
)

// DefaultVisitsRequired is the threshold used when a business has no rule
// configured or its stored rule cannot be read.
const DefaultVisitsRequired = 5

// modes lists known variants by ordinal so numeric tags keep working.
var modes = []Mode{ModeFixedVisits}

var (
	// ErrUnknownMode is returned by TryParse for a tag no variant answers to.
	ErrUnknownMode = errors.New("rules: unknown rule mode")
	// ErrInvalidThreshold is returned by TryParse for a non-positive threshold.
	ErrInvalidThreshold = errors.New("rules: visits required must be positive")
)

// RewardRule decides from a visit count whether a reward is earned.
type RewardRule struct {
	Mode           Mode `json:"Mode"`
	VisitsRequired int  `json:"VisitsRequired"`
}

// Decision is the outcome of evaluating a rule against a visit count.
type Decision struct {
	Eligible       bool   `json:"eligible"`
	Description    string `json:"description"`
	Visits         int    `json:"visits"`
	VisitsRequired int    `json:"visits_required"`
}

// Default returns the fixed-visit rule with the default threshold.
func Default() RewardRule {
	return RewardRule{Mode: ModeFixedVisits, VisitsRequired: DefaultVisitsRequired}
}

// FixedVisits returns a fixed-visit rule with the given threshold.
func FixedVisits(visitsRequired int) RewardRule {
	return RewardRule{Mode: ModeFixedVisits, VisitsRequired: visitsRequired}
}

// IsEligible reports whether visits reaches the rule's threshold.
func (r RewardRule) IsEligible(visits int) bool {
	switch r.Mode {
	case ModeFixedVisits:
		return visits >= r.VisitsRequired
	default:
		return false
	}
}

// Evaluate returns the eligibility verdict and a human-readable explanation.
func (r RewardRule) Evaluate(visits int) (bool, string) {
	d := r.Decide(visits)
	return d.Eligible, d.Description
}

// Decide evaluates the rule and keeps the inputs alongside the verdict.
func (r RewardRule) Decide(visits int) Decision {
	eligible := r.IsEligible(visits)
	desc := fmt.Sprintf("Not eligible (< %d visits)", r.VisitsRequired)
	if eligible {
		desc = fmt.Sprintf("Eligible (>= %d visits)", r.VisitsRequired)
	}
	return Decision{
		Eligible:       eligible,
		Description:    desc,
		Visits:         visits,
		VisitsRequired: r.VisitsRequired,
	}
}

// Validate checks that the rule can be evaluated meaningfully.
func (r RewardRule) Validate() error {
	if _, ok := ParseMode(string(r.Mode)); !ok {
		return fmt.Errorf("%w: %q", ErrUnknownMode, r.Mode)
	}
	if r.VisitsRequired <= 0 {
		return ErrInvalidThreshold
	}
	return nil
}

// Marshal encodes the rule as compact JSON, e.g.
// {"Mode":"FixedVisits","VisitsRequired":5}.
func (r RewardRule) Marshal() string {
	if r.Mode == "" {
		r.Mode = ModeFixedVisits
	}
	data, err := json.Marshal(r)
	if err != nil {
		// Two plain fields; encoding cannot fail.
		return ""
	}
	return string(data)
}

// ParseMode resolves a mode tag case-insensitively.
func ParseMode(tag string) (Mode, bool) {
	tag = strings.TrimSpace(tag)
	for _, m := range modes {
		if strings.EqualFold(string(m), tag) {
			return m, true
		}
	}
	return "", false
}

// wireRule mirrors RewardRule with loose field types. encoding/json matches
// field names case-insensitively, so "mode" and "visitsRequired" also bind.
type wireRule struct {
	Mode           json.RawMessage `json:"Mode"`
	VisitsRequired *int            `json:"VisitsRequired"`
}

// TryParse decodes a stored rule blob. An empty blob yields the default rule.
// The mode tag may be a string (any casing) or its ordinal; a missing mode or
// threshold takes the default.
func TryParse(text string) (RewardRule, error) {
	if strings.TrimSpace(text) == "" {
		return Default(), nil
	}

	var w wireRule
	if err := json.Unmarshal([]byte(text), &w); err != nil {
		return Default(), fmt.Errorf("rules: decode rule: %w", err)
	}

	rule := Default()

	if len(w.Mode) > 0 && string(w.Mode) != "null" {
		mode, err := decodeMode(w.Mode)
		if err != nil {
			return Default(), err
		}
		rule.Mode = mode
	}

	if w.VisitsRequired != nil {
		if *w.VisitsRequired <= 0 {
			return Default(), ErrInvalidThreshold
		}
		rule.VisitsRequired = *w.VisitsRequired
	}

	return rule, nil
}

// Parse is TryParse with every failure mapped to the default rule.
func Parse(text string) RewardRule {
	rule, err := TryParse(text)
	if err != nil {
		return Default()
	}
	return rule
}

func decodeMode(raw json.RawMessage) (Mode, error) {
	var tag string
	if err := json.Unmarshal(raw, &tag); err == nil {
		if m, ok := ParseMode(tag); ok {
			return m, nil
		}
		return "", fmt.Errorf("%w: %q", ErrUnknownMode, tag)
	}

	var ordinal int
	if err := json.Unmarshal(raw, &ordinal); err == nil {
		if ordinal >= 0 && ordinal < len(modes) {
			return modes[ordinal], nil
		}
		return "", fmt.Errorf("%w: %d", ErrUnknownMode, ordinal)
	}

	return "", fmt.Errorf("%w: %s", ErrUnknownMode, string(raw))
}
