package pricing

import "errors"

var (
	ErrInvalidCatalog      = errors.New("invalid pricing catalog")
	ErrUnknownService      = errors.New("unknown service")
	ErrInvalidProfileCount = errors.New("invalid profile count")
	ErrInvalidDuration     = errors.New("invalid subscription duration")
)
