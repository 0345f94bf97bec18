// Package pgstore implements the order, pool and contact stores on
// PostgreSQL through pgx.
//
// Allocation for a service is serialized by a transaction-scoped advisory
// lock keyed by the service name; candidate rows are additionally locked
// with SELECT ... FOR UPDATE and every lease is written with a
// state = 'free' precondition.
package pgstore
