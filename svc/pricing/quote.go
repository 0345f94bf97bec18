package pricing

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// Quote is a priced order. Total is what the customer must pay.
type Quote struct {
	Service         string          `json:"service"`
	Profiles        int             `json:"profiles"`
	Months          int             `json:"months"`
	Currency        string          `json:"currency"`
	UnitPrice       decimal.Decimal `json:"unit_price"`
	Subtotal        decimal.Decimal `json:"subtotal"`
	DiscountPercent decimal.Decimal `json:"discount_percent"`
	Total           decimal.Decimal `json:"total"`
}

var hundred = decimal.NewFromInt(100)

// Quote prices profiles*months of a service, applying the largest discount
// whose MinMonths the duration reaches. Totals are rounded to cents.
func (c *Catalog) Quote(service string, profiles, months int) (Quote, error) {
	plan, err := c.Plan(service)
	if err != nil {
		return Quote{}, err
	}
	if profiles < 1 || profiles > plan.MaxProfiles {
		return Quote{}, fmt.Errorf("%w: %d (allowed 1..%d for %s)", ErrInvalidProfileCount, profiles, plan.MaxProfiles, service)
	}
	if months < 1 || (plan.MaxMonths > 0 && months > plan.MaxMonths) {
		return Quote{}, fmt.Errorf("%w: %d months", ErrInvalidDuration, months)
	}

	subtotal := plan.MonthlyPrice.Mul(decimal.NewFromInt(int64(profiles * months)))

	pct := decimal.Zero
	for _, d := range plan.Discounts {
		if months >= d.MinMonths && d.Percent.GreaterThan(pct) {
			pct = d.Percent
		}
	}

	total := subtotal.Sub(subtotal.Mul(pct).Div(hundred)).Round(2)

	return Quote{
		Service:         service,
		Profiles:        profiles,
		Months:          months,
		Currency:        c.Currency,
		UnitPrice:       plan.MonthlyPrice,
		Subtotal:        subtotal.Round(2),
		DiscountPercent: pct,
		Total:           total,
	}, nil
}
