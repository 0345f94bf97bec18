package notify

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Event names, also used as metric labels and email tags.
const (
	EventCredentialsReady = "credentials_ready"
	EventRenewalEligible  = "renewal_eligible"
	EventPaymentRejected  = "payment_rejected"
	EventOrderApproved    = "order_approved"
)

// Event is a customer-facing notification emitted by the engine.
type Event interface {
	Name() string
	Order() uuid.UUID
	Recipient() uuid.UUID
}

// Credential is one leased profile as shown to the customer.
type Credential struct {
	AccountCredential string `json:"account_credential"`
	ProfileName       string `json:"profile_name"`
}

// CredentialsReady is emitted once an order's profiles are leased.
type CredentialsReady struct {
	OrderID   uuid.UUID    `json:"order_id"`
	OwnerID   uuid.UUID    `json:"owner_id"`
	Service   string       `json:"service"`
	Leases    []Credential `json:"leases"`
	ExpiresAt time.Time    `json:"expires_at"`
}

func (CredentialsReady) Name() string           { return EventCredentialsReady }
func (e CredentialsReady) Order() uuid.UUID     { return e.OrderID }
func (e CredentialsReady) Recipient() uuid.UUID { return e.OwnerID }

// RenewalEligible is emitted when an approved order nears expiry.
type RenewalEligible struct {
	OrderID       uuid.UUID       `json:"order_id"`
	OwnerID       uuid.UUID       `json:"owner_id"`
	Service       string          `json:"service"`
	ExpiresAt     time.Time       `json:"expires_at"`
	DaysRemaining int             `json:"days_remaining"`
	Price         decimal.Decimal `json:"price"`
	Currency      string          `json:"currency"`
}

func (RenewalEligible) Name() string           { return EventRenewalEligible }
func (e RenewalEligible) Order() uuid.UUID     { return e.OrderID }
func (e RenewalEligible) Recipient() uuid.UUID { return e.OwnerID }

// PaymentRejected is emitted when an operator rejects an order.
type PaymentRejected struct {
	OrderID uuid.UUID `json:"order_id"`
	OwnerID uuid.UUID `json:"owner_id"`
	Reason  string    `json:"reason"`
}

func (PaymentRejected) Name() string           { return EventPaymentRejected }
func (e PaymentRejected) Order() uuid.UUID     { return e.OrderID }
func (e PaymentRejected) Recipient() uuid.UUID { return e.OwnerID }

// OrderApproved is emitted on approval, before allocation is attempted.
type OrderApproved struct {
	OrderID   uuid.UUID       `json:"order_id"`
	OwnerID   uuid.UUID       `json:"owner_id"`
	Service   string          `json:"service"`
	Price     decimal.Decimal `json:"price"`
	Currency  string          `json:"currency"`
	ExpiresAt time.Time       `json:"expires_at"`
	Automatic bool            `json:"automatic"`
}

func (OrderApproved) Name() string           { return EventOrderApproved }
func (e OrderApproved) Order() uuid.UUID     { return e.OrderID }
func (e OrderApproved) Recipient() uuid.UUID { return e.OwnerID }
