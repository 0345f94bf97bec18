package orders

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/dmitrymomot/sharepool/pkg/statemachine"
	"github.com/dmitrymomot/sharepool/svc/validation"
)

// State is the lifecycle state of an order.
type State string

const (
	StatePending   State = "pending"
	StateReviewing State = "reviewing"
	StateApproved  State = "approved"
	StateRejected  State = "rejected"
	StateCancelled State = "cancelled"
)

// Event is an input to the order state machine.
type Event string

const (
	EventSubmitProofAuto   Event = "submit_proof_auto"
	EventSubmitProofReview Event = "submit_proof_review"
	EventApprove           Event = "approve"
	EventReject            Event = "reject"
	EventCancel            Event = "cancel"
)

// Transitions is the complete legality matrix. Anything not listed is
// rejected with InvalidStateError; approved, rejected and cancelled are
// terminal.
var Transitions = statemachine.MustNew(
	statemachine.Transition[State, Event]{From: StatePending, Event: EventSubmitProofAuto, To: StateApproved},
	statemachine.Transition[State, Event]{From: StatePending, Event: EventSubmitProofReview, To: StateReviewing},
	statemachine.Transition[State, Event]{From: StatePending, Event: EventApprove, To: StateApproved},
	statemachine.Transition[State, Event]{From: StatePending, Event: EventReject, To: StateRejected},
	statemachine.Transition[State, Event]{From: StatePending, Event: EventCancel, To: StateCancelled},
	statemachine.Transition[State, Event]{From: StateReviewing, Event: EventApprove, To: StateApproved},
	statemachine.Transition[State, Event]{From: StateReviewing, Event: EventReject, To: StateRejected},
)

// ProofState is the review state of a payment proof.
type ProofState string

const (
	ProofPending  ProofState = "pending"
	ProofApproved ProofState = "approved"
	ProofRejected ProofState = "rejected"
)

// Order is a customer's purchase of Profiles seats of Service for Months.
// ExpiresAt is set iff State is approved. Orders are never deleted.
type Order struct {
	ID           uuid.UUID       `json:"id"`
	OwnerID      uuid.UUID       `json:"owner_id"`
	Service      string          `json:"service"`
	Profiles     int             `json:"profiles"`
	Months       int             `json:"months"`
	Price        decimal.Decimal `json:"price"`
	Currency     string          `json:"currency"`
	State        State           `json:"state"`
	CreatedAt    time.Time       `json:"created_at"`
	ApprovedAt   *time.Time      `json:"approved_at,omitempty"`
	ExpiresAt    *time.Time      `json:"expires_at,omitempty"`
	AdminComment string          `json:"admin_comment,omitempty"`
	FulfilledAt  *time.Time      `json:"fulfilled_at,omitempty"`
	Version      int64           `json:"version"`
}

// Fulfilled reports whether profiles have been leased for the order.
func (o Order) Fulfilled() bool { return o.FulfilledAt != nil }

// PaymentProof is the single proof attached to an order.
type PaymentProof struct {
	OrderID         uuid.UUID              `json:"order_id"`
	Ref             string                 `json:"ref"`
	Extraction      *validation.Extraction `json:"extraction,omitempty"`
	Confidence      int                    `json:"confidence"`
	AutoValidated   bool                   `json:"auto_validated"`
	ManualValidated bool                   `json:"manual_validated"`
	State           ProofState             `json:"state"`
	SubmittedAt     time.Time              `json:"submitted_at"`
	ValidatedAt     *time.Time             `json:"validated_at,omitempty"`
	Version         int64                  `json:"version"`
}

// Change is one guarded state transition. The store applies it only if the
// order is still in FromState at FromVersion, bumping the version, and
// upserts Proof in the same write when it is not nil.
type Change struct {
	OrderID     uuid.UUID
	FromState   State
	FromVersion int64
	ToState     State
	ApprovedAt  *time.Time
	ExpiresAt   *time.Time
	Comment     string
	Proof       *PaymentProof
}

func cloneOrder(o Order) Order {
	o.ApprovedAt = cloneTime(o.ApprovedAt)
	o.ExpiresAt = cloneTime(o.ExpiresAt)
	o.FulfilledAt = cloneTime(o.FulfilledAt)
	return o
}

func cloneProof(p PaymentProof) PaymentProof {
	if p.Extraction != nil {
		e := *p.Extraction
		p.Extraction = &e
	}
	p.ValidatedAt = cloneTime(p.ValidatedAt)
	return p
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}
