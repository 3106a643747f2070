package worker

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// Enqueuer is satisfied by Runner
type Enqueuer interface {
	Enqueue(ctx context.Context, jobType string, payload interface{}) (*Job, error)
}

// Periodic enqueues a job every Interval. A zero interval disables it.
type Periodic struct {
	Type     string
	Payload  interface{}
	Interval time.Duration
}

// Scheduler drives periodic jobs off tickers
type Scheduler struct {
	enqueuer Enqueuer
	entries  []Periodic
	log      *logrus.Entry
}

func NewScheduler(enqueuer Enqueuer, entries ...Periodic) *Scheduler {
	return &Scheduler{
		enqueuer: enqueuer,
		entries:  entries,
		log:      logrus.WithField("component", "scheduler"),
	}
}

// Run blocks until ctx is done
func (s *Scheduler) Run(ctx context.Context) error {
	var wg sync.WaitGroup
	for _, e := range s.entries {
		if e.Interval <= 0 {
			s.log.WithField("type", e.Type).Info("periodic job disabled")
			continue
		}
		wg.Add(1)
		go func(e Periodic) {
			defer wg.Done()
			s.tick(ctx, e)
		}(e)
	}
	wg.Wait()
	return nil
}

func (s *Scheduler) tick(ctx context.Context, e Periodic) {
	s.log.WithFields(logrus.Fields{"type": e.Type, "interval": e.Interval.String()}).Info("periodic job started")
	ticker := time.NewTicker(e.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.log.WithField("type", e.Type).Info("periodic job stopped")
			return
		case <-ticker.C:
			if _, err := s.enqueuer.Enqueue(ctx, e.Type, e.Payload); err != nil && ctx.Err() == nil {
				s.log.WithError(err).WithField("type", e.Type).Error("failed to enqueue periodic job")
			}
		}
	}
}
