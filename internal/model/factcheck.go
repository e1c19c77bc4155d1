package model

import (
	"encoding/json"
	"strings"
	"time"
)

// Verdict is the closed set of fact-check outcomes.
type Verdict string

const (
	VerdictFalse              Verdict = "false"
	VerdictAltered            Verdict = "altered"
	VerdictPartlyFalse        Verdict = "partly_false"
	VerdictMissingContext     Verdict = "missing_context"
	VerdictSatire             Verdict = "satire"
	VerdictTrue               Verdict = "true"
	VerdictUnableToVerify     Verdict = "unable_to_verify"
	VerdictNotFactCheckable   Verdict = "not_fact_checkable"
	VerdictNotWorthCorrecting Verdict = "not_worth_correcting"
	// VerdictError is reserved for orchestration failures. Strategies must
	// never return it.
	VerdictError Verdict = "error"
)

var verdicts = map[Verdict]struct{}{
	VerdictFalse: {}, VerdictAltered: {}, VerdictPartlyFalse: {}, VerdictMissingContext: {},
	VerdictSatire: {}, VerdictTrue: {}, VerdictUnableToVerify: {}, VerdictNotFactCheckable: {},
	VerdictNotWorthCorrecting: {}, VerdictError: {},
}

// ParseVerdict normalizes s ("Partly False", "partly-false") into a Verdict.
func ParseVerdict(s string) (Verdict, error) {
	norm := strings.ToLower(strings.TrimSpace(s))
	norm = strings.NewReplacer(" ", "_", "-", "_").Replace(norm)
	v := Verdict(norm)
	if _, ok := verdicts[v]; !ok {
		return "", newValidationError("verdict", "unknown verdict %q", s)
	}
	return v, nil
}

// FactCheckStatus is the state of a fact-check row.
type FactCheckStatus string

const (
	FactCheckPending    FactCheckStatus = "pending"
	FactCheckProcessing FactCheckStatus = "processing"
	FactCheckCompleted  FactCheckStatus = "completed"
	FactCheckFailed     FactCheckStatus = "failed"
	FactCheckIneligible FactCheckStatus = "ineligible"
)

// IsTerminal reports whether no further transition is allowed without force.
func (s FactCheckStatus) IsTerminal() bool {
	switch s {
	case FactCheckCompleted, FactCheckFailed, FactCheckIneligible:
		return true
	}
	return false
}

// CanTransition reports whether from -> to is a legal fact-check transition.
func (s FactCheckStatus) CanTransition(to FactCheckStatus) bool {
	switch s {
	case FactCheckPending:
		return to == FactCheckProcessing || to == FactCheckIneligible || to == FactCheckFailed
	case FactCheckProcessing:
		return to == FactCheckCompleted || to == FactCheckFailed
	}
	return false
}

// FactCheck is the persisted execution of one fact-checker on one item.
type FactCheck struct {
	ID              string          `json:"id"`
	ItemID          string          `json:"item_id"`
	FactCheckerSlug string          `json:"fact_checker_slug"`
	Status          FactCheckStatus `json:"status"`
	Verdict         Verdict         `json:"verdict,omitempty"`
	Confidence      float64         `json:"confidence"`
	Body            string          `json:"body,omitempty"`
	Claims          []string        `json:"claims,omitempty"`
	Sources         []string        `json:"sources,omitempty"`
	RawOutput       json.RawMessage `json:"raw_output,omitempty"`
	Error           string          `json:"error,omitempty"`
	CreatedAt       time.Time       `json:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at"`
	CompletedAt     *time.Time      `json:"completed_at,omitempty"`
}
