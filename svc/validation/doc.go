// Package validation classifies payment proofs.
//
// A Pipeline calls an Extractor once per proof, bounded by a timeout, and
// maps the extracted amount and confidence onto a Decision:
//
//	confidence >= 80 and |amount - expected| <= 0.01  -> auto_approve
//	anything else, including extractor failure        -> needs_review
//
// The pipeline never rejects a proof and never returns an error; an
// unreachable extractor simply sends the order to manual review. Persisting
// the verdict is the caller's job.
package validation
