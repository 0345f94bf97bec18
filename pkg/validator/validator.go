// Package validator checks request input with composable rules and reports
// every failing field at once.
//
//	err := validator.Apply(
//		validator.Required("service", req.Service),
//		validator.Between("profiles", req.Profiles, 1, 6),
//	)
//	if errs := validator.Extract(err); errs != nil {
//		// errs.Fields() lists the offending fields
//	}
package validator

import (
	"errors"
	"fmt"
	"strings"
)

type Numeric interface {
	~int | ~int8 | ~int16 | ~int32 | ~int64 |
		~uint | ~uint8 | ~uint16 | ~uint32 | ~uint64 |
		~float32 | ~float64
}

// FieldError is one failed rule.
type FieldError struct {
	Field   string
	Message string
}

// Errors collects every failed rule of one Apply call.
type Errors []FieldError

func (ve Errors) Error() string {
	if len(ve) == 0 {
		return "validation failed"
	}
	parts := make([]string, 0, len(ve))
	for _, e := range ve {
		parts = append(parts, fmt.Sprintf("%s: %s", e.Field, e.Message))
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

// Fields returns the failing field names in rule order without duplicates.
func (ve Errors) Fields() []string {
	var fields []string
	seen := make(map[string]bool, len(ve))
	for _, e := range ve {
		if !seen[e.Field] {
			fields = append(fields, e.Field)
			seen[e.Field] = true
		}
	}
	return fields
}

// Map groups messages by field.
func (ve Errors) Map() map[string][]string {
	out := make(map[string][]string, len(ve))
	for _, e := range ve {
		out[e.Field] = append(out[e.Field], e.Message)
	}
	return out
}

// Rule is a deferred check.
type Rule struct {
	Check func() bool
	Error FieldError
}

// Apply runs every rule and returns Errors, or nil when all pass.
func Apply(rules ...Rule) error {
	var errs Errors
	for _, rule := range rules {
		if !rule.Check() {
			errs = append(errs, rule.Error)
		}
	}
	if len(errs) == 0 {
		return nil
	}
	return errs
}

// Extract returns the Errors wrapped in err, or nil.
func Extract(err error) Errors {
	var errs Errors
	if errors.As(err, &errs) {
		return errs
	}
	return nil
}

func IsValidationError(err error) bool {
	return Extract(err) != nil
}
