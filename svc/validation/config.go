package validation

import "time"

type Config struct {
	// Timeout bounds a single extractor call.
	Timeout       time.Duration `env:"VALIDATION_TIMEOUT" envDefault:"20s"`
	MinConfidence int           `env:"VALIDATION_MIN_CONFIDENCE" envDefault:"80"`
	// Tolerance is the accepted absolute difference between the extracted
	// and the expected amount.
	Tolerance string `env:"VALIDATION_AMOUNT_TOLERANCE" envDefault:"0.01"`

	ExtractorURL   string `env:"VALIDATION_EXTRACTOR_URL"`
	ExtractorToken string `env:"VALIDATION_EXTRACTOR_TOKEN"`
}
