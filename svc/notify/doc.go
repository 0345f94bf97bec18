// Package notify defines the customer-facing events emitted by the engine
// (CredentialsReady, RenewalEligible, PaymentRejected, OrderApproved) and
// the dispatchers that deliver them.
//
// MultiDispatcher fans out to every configured channel on a best-effort
// basis. LogDispatcher records events in the log; EmailDispatcher renders
// them with locale-aware money and date formatting and sends them through
// pkg/email.
package notify
