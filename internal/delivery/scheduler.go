package delivery

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/hookrelay/hookrelay/internal/storage"
)

// Scheduler periodically reclaims due retries. Unlike the executor's
// in-process timers, the sweep reads next_retry_at from the store, so
// it survives process restarts.
type Scheduler struct {
	store    storage.Store
	exec     *Executor
	interval time.Duration
	batch    int
	log      zerolog.Logger
	stop     chan struct{}
	wg       sync.WaitGroup
}

func NewScheduler(store storage.Store, exec *Executor, interval time.Duration, batch int, log zerolog.Logger) *Scheduler {
	if interval <= 0 {
		interval = 15 * time.Second
	}
	if batch <= 0 {
		batch = 100
	}
	return &Scheduler{
		store:    store,
		exec:     exec,
		interval: interval,
		batch:    batch,
		log:      log,
		stop:     make(chan struct{}),
	}
}

func (s *Scheduler) Start(ctx context.Context) {
	s.log.Info().Dur("interval", s.interval).Int("batch", s.batch).Msg("starting retry scheduler")

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.sweepLoop(ctx)
	}()
}

func (s *Scheduler) Stop() {
	close(s.stop)
	s.wg.Wait()
	s.log.Info().Msg("retry scheduler stopped")
}

func (s *Scheduler) sweepLoop(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stop:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := s.RetryDueDeliveries(ctx); err != nil {
				s.log.Error().Err(err).Msg("retry sweep failed")
			}
		}
	}
}

// RetryDueDeliveries resubmits every awaiting_retry delivery whose
// retry time has passed, up to the batch limit, and returns how many
// were resubmitted. Resubmission goes through the executor's claim, so
// racing an armed timer is harmless.
func (s *Scheduler) RetryDueDeliveries(ctx context.Context) (int, error) {
	ids, err := s.store.DueDeliveries(ctx, time.Now().UTC(), s.batch)
	if err != nil {
		return 0, err
	}
	for _, id := range ids {
		s.exec.Submit(id)
	}
	if len(ids) > 0 {
		s.log.Debug().Int("count", len(ids)).Msg("resubmitted due deliveries")
	}
	return len(ids), nil
}
