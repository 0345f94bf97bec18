// Package orders implements the order lifecycle: creation at a fixed price,
// payment proof submission, operator review and fulfilment.
//
// Every transition goes through the Transitions table and is written with a
// state and version precondition, so two racing callers cannot both move
// the same order. The loser gets ErrConcurrencyConflict and should treat the
// order as already handled.
//
// Approval (automatic or manual) triggers allocation. If the pool is short
// of free profiles the order stays approved without fulfilled-at and the
// operator can call RetryAllocation later.
package orders
