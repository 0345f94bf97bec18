package pricing

import (
	_ "embed"
	"errors"
	"fmt"
	"os"
	"slices"
	"sort"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

// MaxProfilesPerOrder is the hard upper bound for one order.
const MaxProfilesPerOrder = 6

//go:embed default_catalog.yaml
var defaultCatalog []byte

// Plan is the price list entry of one service.
type Plan struct {
	Service      string
	Name         string
	MonthlyPrice decimal.Decimal // per profile
	MaxProfiles  int
	// MaxMonths limits a single order's duration; zero means unlimited.
	MaxMonths int
	// Discounts are sorted by MinMonths ascending.
	Discounts []Discount
}

type Discount struct {
	MinMonths int
	Percent   decimal.Decimal
}

// Catalog is the set of sellable services.
type Catalog struct {
	Currency string
	plans    map[string]Plan
}

type catalogFile struct {
	Currency string                 `yaml:"currency"`
	Services map[string]serviceFile `yaml:"services"`
}

type serviceFile struct {
	Name         string         `yaml:"name"`
	MonthlyPrice string         `yaml:"monthly_price"`
	MaxProfiles  int            `yaml:"max_profiles"`
	MaxMonths    int            `yaml:"max_months"`
	Discounts    []discountFile `yaml:"discounts"`
}

type discountFile struct {
	MinMonths int    `yaml:"min_months"`
	Percent   string `yaml:"percent"`
}

// ParseCatalog decodes and validates a YAML catalog.
func ParseCatalog(data []byte) (*Catalog, error) {
	var f catalogFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, errors.Join(ErrInvalidCatalog, err)
	}
	if len(f.Currency) != 3 {
		return nil, fmt.Errorf("%w: currency must be an ISO 4217 code, got %q", ErrInvalidCatalog, f.Currency)
	}
	if len(f.Services) == 0 {
		return nil, fmt.Errorf("%w: no services defined", ErrInvalidCatalog)
	}

	c := &Catalog{Currency: f.Currency, plans: make(map[string]Plan, len(f.Services))}
	for id, s := range f.Services {
		plan, err := s.plan(id)
		if err != nil {
			return nil, fmt.Errorf("%w: service %q: %w", ErrInvalidCatalog, id, err)
		}
		c.plans[id] = plan
	}
	return c, nil
}

// LoadCatalogFile reads a catalog from path; an empty path loads the
// built-in catalog.
func LoadCatalogFile(path string) (*Catalog, error) {
	if path == "" {
		return ParseCatalog(defaultCatalog)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read catalog: %w", err)
	}
	return ParseCatalog(data)
}

func (s serviceFile) plan(id string) (Plan, error) {
	price, err := decimal.NewFromString(s.MonthlyPrice)
	if err != nil {
		return Plan{}, fmt.Errorf("monthly_price: %w", err)
	}
	if !price.IsPositive() {
		return Plan{}, errors.New("monthly_price must be positive")
	}
	if s.MaxProfiles < 1 || s.MaxProfiles > MaxProfilesPerOrder {
		return Plan{}, fmt.Errorf("max_profiles must be between 1 and %d", MaxProfilesPerOrder)
	}
	if s.MaxMonths < 0 {
		return Plan{}, errors.New("max_months must not be negative")
	}

	p := Plan{
		Service:      id,
		Name:         s.Name,
		MonthlyPrice: price,
		MaxProfiles:  s.MaxProfiles,
		MaxMonths:    s.MaxMonths,
	}
	if p.Name == "" {
		p.Name = id
	}
	for _, d := range s.Discounts {
		pct, err := decimal.NewFromString(d.Percent)
		if err != nil {
			return Plan{}, fmt.Errorf("discount percent: %w", err)
		}
		if pct.IsNegative() || pct.GreaterThanOrEqual(decimal.NewFromInt(100)) || d.MinMonths < 1 {
			return Plan{}, fmt.Errorf("invalid discount %s%% from %d months", d.Percent, d.MinMonths)
		}
		p.Discounts = append(p.Discounts, Discount{MinMonths: d.MinMonths, Percent: pct})
	}
	sort.Slice(p.Discounts, func(i, j int) bool { return p.Discounts[i].MinMonths < p.Discounts[j].MinMonths })
	return p, nil
}

// Plan returns the plan of a service.
func (c *Catalog) Plan(service string) (Plan, error) {
	p, ok := c.plans[service]
	if !ok {
		return Plan{}, fmt.Errorf("%w: %s", ErrUnknownService, service)
	}
	return p, nil
}

// Plans lists every plan ordered by service id.
func (c *Catalog) Plans() []Plan {
	out := make([]Plan, 0, len(c.plans))
	for _, p := range c.plans {
		out = append(out, p)
	}
	slices.SortFunc(out, func(a, b Plan) int {
		switch {
		case a.Service < b.Service:
			return -1
		case a.Service > b.Service:
			return 1
		}
		return 0
	})
	return out
}
