package renewal

import (
	"context"
	"time"

	"github.com/dmitrymomot/sharepool/pkg/cron"
)

// Job names as registered on the scheduler.
const (
	JobReclaimExpiredLeases = "reclaim-expired-leases"
	JobRenewalScan          = "renewal-scan"
)

// Reclaimer frees profiles whose lease has ended. pool.Service satisfies it.
type Reclaimer interface {
	Reclaim(ctx context.Context) (int, error)
}

// Register adds both periodic jobs to s. Both run on start: reclaim frees
// leases that ended while the process was down, and the daily scan catches up
// on a missed day. The scan is deduplicated per UTC day, so the extra run is
// harmless.
func Register(s *cron.Scheduler, cfg Config, reclaimer Reclaimer, scanner *Scanner) error {
	switch {
	case cfg.Window <= 0:
		return ErrInvalidWindow
	case cfg.ReclaimInterval <= 0:
		return ErrInvalidInterval
	case cfg.ScanHour < 0, cfg.ScanHour > 23, cfg.ScanMinute < 0, cfg.ScanMinute > 59:
		return ErrInvalidScanTime
	}

	err := s.AddJob(JobReclaimExpiredLeases, cron.Every(cfg.ReclaimInterval),
		func(ctx context.Context) error {
			_, err := reclaimer.Reclaim(ctx)
			return err
		},
		cron.WithTimeout(cfg.JobTimeout),
		cron.WithRunOnStart())
	if err != nil {
		return err
	}

	return s.AddJob(JobRenewalScan, cron.DailyAtIn(cfg.ScanHour, cfg.ScanMinute, time.UTC),
		func(ctx context.Context) error {
			_, err := scanner.Run(ctx)
			return err
		},
		cron.WithTimeout(cfg.JobTimeout),
		cron.WithRunOnStart())
}
