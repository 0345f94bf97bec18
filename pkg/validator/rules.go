package validator

import (
	"fmt"
	"net/mail"
	"slices"
	"strings"

	"github.com/google/uuid"
)

func rule(field, message string, check func() bool) Rule {
	return Rule{Check: check, Error: FieldError{Field: field, Message: message}}
}

// Required fails on a blank string.
func Required(field, value string) Rule {
	return rule(field, "field is required", func() bool {
		return strings.TrimSpace(value) != ""
	})
}

func MaxLen(field, value string, max int) Rule {
	return rule(field, fmt.Sprintf("must be at most %d characters long", max), func() bool {
		return len(value) <= max
	})
}

// Between is inclusive on both ends.
func Between[T Numeric](field string, value, min, max T) Rule {
	return rule(field, fmt.Sprintf("must be between %v and %v", min, max), func() bool {
		return value >= min && value <= max
	})
}

func Min[T Numeric](field string, value, min T) Rule {
	return rule(field, fmt.Sprintf("must be at least %v", min), func() bool {
		return value >= min
	})
}

func OneOf[T comparable](field string, value T, options []T) Rule {
	return rule(field, "must be one of the allowed values", func() bool {
		return slices.Contains(options, value)
	})
}

func ValidUUID(field, value string) Rule {
	return rule(field, "must be a valid UUID", func() bool {
		if len(value) != 36 {
			return false
		}
		_, err := uuid.Parse(value)
		return err == nil
	})
}

// ValidEmail accepts a bare address with a dotted domain, no display name.
func ValidEmail(field, value string) Rule {
	return rule(field, "must be a valid email address", func() bool {
		addr, err := mail.ParseAddress(value)
		if err != nil || addr.Address != strings.TrimSpace(value) {
			return false
		}
		at := strings.LastIndex(addr.Address, "@")
		if at <= 0 {
			return false
		}
		domain := addr.Address[at+1:]
		if !strings.Contains(domain, ".") {
			return false
		}
		return !slices.Contains(strings.Split(domain, "."), "")
	})
}

// When applies r only if cond holds.
func When(cond bool, r Rule) Rule {
	if cond {
		return r
	}
	return rule(r.Error.Field, r.Error.Message, func() bool { return true })
}
