package api

import (
	"time"

	"github.com/dmitrymomot/sharepool/pkg/file"
)

type Config struct {
	// AdminToken guards /admin. An empty token disables the admin API.
	AdminToken     string        `env:"API_ADMIN_TOKEN"`
	OwnerHeader    string        `env:"API_OWNER_HEADER" envDefault:"X-Owner-ID"`
	MaxUploadSize  int64         `env:"API_MAX_UPLOAD_SIZE" envDefault:"11534336"`
	RequestTimeout time.Duration `env:"API_REQUEST_TIMEOUT" envDefault:"30s"`
}

func (c Config) withDefaults() Config {
	if c.OwnerHeader == "" {
		c.OwnerHeader = "X-Owner-ID"
	}
	if c.MaxUploadSize <= 0 {
		c.MaxUploadSize = file.MaxProofSize + 1<<20
	}
	if c.RequestTimeout <= 0 {
		c.RequestTimeout = 30 * time.Second
	}
	return c
}
