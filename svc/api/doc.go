// Package api exposes order, pricing and pool operations as a JSON API on
// a chi router.
//
// Customer routes live under /v1 and identify the caller by an owner id
// header set by the authenticating gateway. Operator routes live under
// /admin behind a static bearer token. Every response body is an Envelope;
// failures carry a stable error code such as "invalid_state" or
// "insufficient_capacity". Owner writes can be throttled per owner with
// WithRateLimiter.
package api
