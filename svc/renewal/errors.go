package renewal

import "errors"

var (
	ErrEmptyKey        = errors.New("dedup key is empty")
	ErrInvalidWindow   = errors.New("renewal window must be positive")
	ErrInvalidInterval = errors.New("job interval must be positive")
	ErrInvalidScanTime = errors.New("renewal scan time must be within 00:00-23:59")
)
