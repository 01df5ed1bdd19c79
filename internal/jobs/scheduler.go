package jobs

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"picbed/api/internal/repository"
)

// Scheduler runs periodic hygiene jobs; currently a daily sweep disabling
// access keys whose expiry has passed.
type Scheduler struct {
	cron *cron.Cron
	keys *repository.AccessKeyRepository
	log  zerolog.Logger
}

func NewScheduler(keys *repository.AccessKeyRepository, log zerolog.Logger) *Scheduler {
	c := cron.New(cron.WithSeconds())
	return &Scheduler{
		cron: c,
		keys: keys,
		log:  log,
	}
}

func (s *Scheduler) Start() error {
	if _, err := s.cron.AddFunc("0 0 0 * * *", s.sweepExpiredKeys); err != nil {
		return err
	}

	s.cron.Start()
	return nil
}

// Stop halts scheduling and waits briefly for a running sweep to finish.
func (s *Scheduler) Stop() {
	ctx := s.cron.Stop()
	select {
	case <-ctx.Done():
	case <-time.After(5 * time.Second):
	}
}

func (s *Scheduler) sweepExpiredKeys() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	count, err := s.keys.DisableExpired(ctx, time.Now())
	if err != nil {
		s.log.Error().Err(err).Msg("expired key sweep failed")
		return
	}
	if count > 0 {
		s.log.Info().Int64("disabled", count).Msg("expired access keys disabled")
	}
}
