package logger

import (
	"log/slog"
	"strconv"
	"time"
)

// Errors groups the non-nil errors under "errors". All-nil input yields an
// empty Attr, which slog drops.
func Errors(errs ...error) slog.Attr {
	as := make([]slog.Attr, 0, len(errs))
	for i, err := range errs {
		if err != nil {
			as = append(as, slog.Any(strconv.Itoa(i), err))
		}
	}
	if len(as) == 0 {
		return slog.Attr{}
	}
	return slog.Attr{Key: "errors", Value: slog.GroupValue(as...)}
}

// Error records err under "error". Nil yields an empty Attr.
func Error(err error) slog.Attr {
	if err == nil {
		return slog.Attr{}
	}
	return slog.Any("error", err)
}

func OrderID(id any) slog.Attr {
	return optional("order_id", id)
}

func OwnerID(id any) slog.Attr {
	return optional("owner_id", id)
}

func ProfileID(id any) slog.Attr {
	return optional("profile_id", id)
}

func AccountID(id any) slog.Attr {
	return optional("account_id", id)
}

func Service(id string) slog.Attr {
	return slog.String("service", id)
}

// State records an order or profile state under "state".
func State(state string) slog.Attr {
	return slog.String("state", state)
}

// Verdict records a validation decision together with the extractor confidence.
func Verdict(decision string, confidence int) slog.Attr {
	return slog.Group("verdict",
		slog.String("decision", decision),
		slog.Int("confidence", confidence),
	)
}

// Job records a scheduler job name under "job".
func Job(name string) slog.Attr {
	return slog.String("job", name)
}

func Duration(d time.Duration) slog.Attr {
	return slog.Duration("duration", d)
}

func Component(name string) slog.Attr {
	return slog.String("component", name)
}

func Event(name string) slog.Attr {
	return slog.String("event", name)
}

func RequestID(id any) slog.Attr {
	return optional("request_id", id)
}

func optional(key string, v any) slog.Attr {
	if v == nil {
		return slog.Attr{}
	}
	return slog.Any(key, v)
}
