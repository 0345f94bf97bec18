package validation

import "errors"

var (
	// ErrExtractionUnavailable marks a verdict reached without extracted data.
	ErrExtractionUnavailable = errors.New("proof extraction unavailable")

	ErrEmptyProofRef      = errors.New("proof reference is empty")
	ErrUnexpectedStatus   = errors.New("extractor returned unexpected status")
	ErrMalformedResponse  = errors.New("extractor returned malformed response")
	ErrEndpointNotDefined = errors.New("extractor endpoint not configured")
)
