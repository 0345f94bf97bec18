// Package pool manages shared accounts and the profiles leased from them.
//
// Allocate is all-or-nothing and serialized per service through
// Store.InServiceTx, so two orders can never claim the same free profile.
// Reclaim frees profiles whose lease has ended and runs under the same
// serialization. MemoryStore implements Store in process; svc/pgstore
// implements it on PostgreSQL with row locks.
package pool
