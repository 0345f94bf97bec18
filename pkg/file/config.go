package file

import (
	"context"
	"fmt"
	"time"
)

// Config selects and configures the proof storage backend.
type Config struct {
	// Driver is "local" or "s3".
	Driver       string        `env:"PROOF_STORAGE" envDefault:"local"`
	LocalDir     string        `env:"PROOF_LOCAL_DIR" envDefault:"./data/proofs"`
	LocalBaseURL string        `env:"PROOF_LOCAL_BASE_URL" envDefault:"http://localhost:8080/proofs/"`
	URLExpiry    time.Duration `env:"PROOF_URL_EXPIRY" envDefault:"15m"`
	S3           S3Config
}

// New builds the configured Storage.
func New(ctx context.Context, cfg Config, opts ...S3Option) (Storage, error) {
	switch cfg.Driver {
	case "", "local":
		return NewLocalStorage(cfg.LocalDir, cfg.LocalBaseURL)
	case "s3":
		return NewS3Storage(ctx, cfg.S3, append([]S3Option{WithURLExpiry(cfg.URLExpiry)}, opts...)...)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownDriver, cfg.Driver)
	}
}
