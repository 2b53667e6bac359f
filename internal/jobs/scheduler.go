package jobs

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"animevault/api/internal/session"
)

// Scheduler runs periodic session maintenance. Redis TTLs expire the
// session hashes themselves; the per-user index sets can keep dead
// handles around, which the nightly prune removes.
type Scheduler struct {
	cron     *cron.Cron
	sessions *session.Manager
	log      zerolog.Logger
}

func NewScheduler(sessions *session.Manager, log zerolog.Logger) *Scheduler {
	c := cron.New(cron.WithSeconds())
	return &Scheduler{
		cron:     c,
		sessions: sessions,
		log:      log,
	}
}

func (s *Scheduler) Start() error {
	if s.sessions == nil {
		return nil
	}

	if _, err := s.cron.AddFunc("0 0 3 * * *", s.pruneSessionIndexes); err != nil {
		return err
	}

	s.cron.Start()
	return nil
}

// Stop waits for any running job to finish, bounded by ctx.
func (s *Scheduler) Stop(ctx context.Context) error {
	select {
	case <-s.cron.Stop().Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Scheduler) pruneSessionIndexes() {
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	pruned, err := s.sessions.PruneIndexes(ctx)
	if err != nil {
		s.log.Error().Err(err).Msg("prune session indexes failed")
		return
	}
	if pruned > 0 {
		s.log.Info().Int("pruned", pruned).Msg("stale session index entries removed")
	}
}
