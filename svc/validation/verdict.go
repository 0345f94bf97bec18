package validation

import (
	"time"

	"github.com/shopspring/decimal"
)

// Decision is the pipeline's classification of a payment proof.
// The pipeline never rejects; only an operator does.
type Decision string

const (
	DecisionAutoApprove Decision = "auto_approve"
	DecisionNeedsReview Decision = "needs_review"
)

// Extraction holds the fields read from a payment proof. Nil pointers mean
// the extractor could not read that field.
type Extraction struct {
	Amount        *decimal.Decimal `json:"amount,omitempty"`
	PaidAt        *time.Time       `json:"paid_at,omitempty"`
	AccountSuffix string           `json:"account_suffix,omitempty"`
	// Confidence is the extractor's self-reported score, 0..100.
	Confidence int `json:"confidence"`
}

// Verdict is the result of validating one proof.
type Verdict struct {
	Decision Decision
	// Extraction is nil when the extractor failed or timed out.
	Extraction *Extraction
	Confidence int
	// Err records why extraction was unavailable. It is informational:
	// the verdict is still needs_review.
	Err error
}

// Policy holds the auto-approval thresholds.
type Policy struct {
	MinConfidence int
	Tolerance     decimal.Decimal
}

// DefaultPolicy auto-approves at confidence 80 or above when the amount is
// within one cent of the expected price.
func DefaultPolicy() Policy {
	return Policy{MinConfidence: 80, Tolerance: decimal.New(1, -2)}
}

// Decide applies the decision table. A missing amount is treated as a
// mismatch.
func (p Policy) Decide(confidence int, amount *decimal.Decimal, expected decimal.Decimal) Decision {
	if confidence < p.MinConfidence || amount == nil {
		return DecisionNeedsReview
	}
	if amount.Sub(expected).Abs().GreaterThan(p.Tolerance) {
		return DecisionNeedsReview
	}
	return DecisionAutoApprove
}

func clampConfidence(c int) int {
	return min(max(c, 0), 100)
}
