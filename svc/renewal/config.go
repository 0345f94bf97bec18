package renewal

import "time"

type Config struct {
	// Window is how far ahead of expiry a renewal reminder is sent.
	Window time.Duration `env:"RENEWAL_WINDOW" envDefault:"72h"`
	// ScanHour and ScanMinute set the daily UTC time of the renewal scan.
	ScanHour        int           `env:"RENEWAL_SCAN_HOUR" envDefault:"6"`
	ScanMinute      int           `env:"RENEWAL_SCAN_MINUTE" envDefault:"0"`
	ReclaimInterval time.Duration `env:"RECLAIM_INTERVAL" envDefault:"1m"`
	JobTimeout      time.Duration `env:"JOB_TIMEOUT" envDefault:"5m"`
	// DedupTTL must outlive one UTC day bucket.
	DedupTTL time.Duration `env:"RENEWAL_DEDUP_TTL" envDefault:"48h"`
}
