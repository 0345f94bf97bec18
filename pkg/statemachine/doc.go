// Package statemachine provides an immutable, type-safe finite-state transition
// table for records whose state lives in storage rather than in memory.
//
// Unlike an in-memory state machine that owns a "current" state, a Table only
// answers the question "which state does this event lead to from here?". The
// caller reads a record, asks the table for the next state, and persists the
// result under its own concurrency discipline (typically a compare-and-swap on
// a version column). This keeps the legality matrix in one place while leaving
// atomicity to the store.
//
// # Usage
//
//	type State string
//	type Event string
//
//	const (
//	    Draft    State = "draft"
//	    InReview State = "in_review"
//	    Submit   Event = "submit"
//	)
//
//	table := statemachine.MustNew(
//	    statemachine.Transition[State, Event]{From: Draft, Event: Submit, To: InReview},
//	)
//
//	next, err := table.Next(Draft, Submit) // InReview, nil
//
// # Error Handling
//
// Next returns *TransitionError for illegal combinations; use
// IsTransitionError to test for it. New rejects empty tables and
// duplicate (from, event) pairs.
package statemachine
