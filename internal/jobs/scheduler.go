package jobs

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

const (
	pruneSchedule = "0 */10 * * * *"
	sweepTimeout  = 30 * time.Second
)

type LockSweeper interface {
	ReleaseExpiredLocks(ctx context.Context) (int64, error)
}

type Pruner interface {
	Prune() int
}

// Scheduler runs housekeeping: clearing lapsed account locks so the
// stored rows match what the lockout policy already assumes, and
// forgetting idle in-memory rate limit buckets.
type Scheduler struct {
	cron          *cron.Cron
	locks         LockSweeper
	sweepSchedule string
	pruners       []Pruner
	log           zerolog.Logger
}

func NewScheduler(locks LockSweeper, sweepSchedule string, log zerolog.Logger, pruners ...Pruner) *Scheduler {
	c := cron.New(cron.WithSeconds())
	return &Scheduler{
		cron:          c,
		locks:         locks,
		sweepSchedule: sweepSchedule,
		pruners:       pruners,
		log:           log,
	}
}

func (s *Scheduler) Start() error {
	if s.locks != nil && s.sweepSchedule != "" {
		if _, err := s.cron.AddFunc(s.sweepSchedule, s.sweepLocks); err != nil {
			return err
		}
	}
	if len(s.pruners) > 0 {
		if _, err := s.cron.AddFunc(pruneSchedule, s.pruneLimiters); err != nil {
			return err
		}
	}

	s.cron.Start()
	return nil
}

// Stop waits for running jobs until ctx expires.
func (s *Scheduler) Stop(ctx context.Context) error {
	select {
	case <-s.cron.Stop().Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Scheduler) sweepLocks() {
	ctx, cancel := context.WithTimeout(context.Background(), sweepTimeout)
	defer cancel()

	if _, err := s.locks.ReleaseExpiredLocks(ctx); err != nil {
		s.log.Error().Err(err).Msg("lock sweep failed")
	}
}

func (s *Scheduler) pruneLimiters() {
	removed := 0
	for _, p := range s.pruners {
		removed += p.Prune()
	}
	if removed > 0 {
		s.log.Debug().Int("removed", removed).Msg("rate limit buckets pruned")
	}
}
