package notify

import (
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/text/currency"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

// Formatter renders money and dates for one locale.
type Formatter struct {
	printer *message.Printer
	loc     *time.Location
}

// NewFormatter returns a formatter for the BCP 47 tag lang (e.g. "en", "de").
// Unknown tags fall back to English; a nil loc means UTC.
func NewFormatter(lang string, loc *time.Location) Formatter {
	tag, err := language.Parse(lang)
	if err != nil {
		tag = language.English
	}
	if loc == nil {
		loc = time.UTC
	}
	return Formatter{printer: message.NewPrinter(tag), loc: loc}
}

// Money formats amount in the ISO 4217 currency code. Unknown codes are
// printed after the number.
func (f Formatter) Money(amount decimal.Decimal, code string) string {
	unit, err := currency.ParseISO(code)
	if err != nil {
		return f.printer.Sprintf("%s %s", amount.StringFixed(2), code)
	}
	return f.printer.Sprint(currency.Symbol(unit.Amount(amount.InexactFloat64())))
}

func (f Formatter) Date(t time.Time) string {
	return t.In(f.loc).Format("January 2, 2006")
}

// Days renders a day count with the right plural form.
func (f Formatter) Days(n int) string {
	if n == 1 {
		return f.printer.Sprintf("%d day", n)
	}
	return f.printer.Sprintf("%d days", n)
}
