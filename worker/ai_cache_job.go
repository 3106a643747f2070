package worker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"lawsim/services"
)

const (
	ModeCleanup    = "cleanup"
	ModeWarm       = "warm"
	ModeInvalidate = "invalidate"
	ModeStats      = "stats"
)

// AICachePayload drives the ai_cache_management job
type AICachePayload struct {
	Mode       string `json:"mode"`
	Event      string `json:"event,omitempty"`
	CaseID     uint   `json:"case_id,omitempty"`
	DocumentID uint   `json:"document_id,omitempty"`
	TeamID     uint   `json:"team_id,omitempty"`
	Rubric     string `json:"rubric,omitempty"`
}

type cacheMaintainer interface {
	Cleanup(ctx context.Context, now time.Time) (int64, error)
	Invalidate(ctx context.Context, event services.InvalidationEvent) (int64, error)
	Stats(ctx context.Context, now time.Time) (*services.CacheStats, error)
}

type cacheWarmer interface {
	WarmCase(ctx context.Context, caseID uint, rubric string) (int, error)
	WarmActiveCases(ctx context.Context, rubric string, now time.Time) (int, error)
}

// AICacheJob maintains the AI response cache: cleanup, warming,
// invalidation and stats reporting
type AICacheJob struct {
	cache  cacheMaintainer
	warmer cacheWarmer
	now    func() time.Time
	log    *logrus.Entry
}

func NewAICacheJob(cache cacheMaintainer, warmer cacheWarmer) *AICacheJob {
	return &AICacheJob{
		cache:  cache,
		warmer: warmer,
		now:    func() time.Time { return time.Now().UTC() },
		log:    logrus.WithField("job", TypeAICacheManagement),
	}
}

func (j *AICacheJob) Type() string {
	return TypeAICacheManagement
}

func (j *AICacheJob) Handle(ctx context.Context, job *Job) error {
	var p AICachePayload
	if err := job.Decode(&p); err != nil {
		return err
	}
	log := j.log.WithFields(logrus.Fields{"job_id": job.ID, "mode": p.Mode})
	now := j.now()

	switch p.Mode {
	case ModeCleanup:
		removed, err := j.cache.Cleanup(ctx, now)
		if err != nil {
			return err
		}
		log.WithField("removed", removed).Info("cache cleanup done")

	case ModeWarm:
		if j.warmer == nil {
			return Permanent(errors.New("cache warming is not configured"))
		}
		var warmed int
		var err error
		if p.CaseID != 0 {
			warmed, err = j.warmer.WarmCase(ctx, p.CaseID, p.Rubric)
		} else {
			warmed, err = j.warmer.WarmActiveCases(ctx, p.Rubric, now)
		}
		if errors.Is(err, services.ErrAIUnavailable) {
			return Permanent(err)
		}
		if err != nil {
			return err
		}
		log.WithFields(logrus.Fields{"case_id": p.CaseID, "warmed": warmed}).Info("cache warm done")

	case ModeInvalidate:
		removed, err := j.cache.Invalidate(ctx, services.InvalidationEvent{
			Type:       p.Event,
			CaseID:     p.CaseID,
			DocumentID: p.DocumentID,
			TeamID:     p.TeamID,
		})
		if errors.Is(err, services.ErrInvalidInput) {
			return Permanent(err)
		}
		if err != nil {
			return err
		}
		log.WithFields(logrus.Fields{"event": p.Event, "removed": removed}).Info("cache invalidation done")

	case ModeStats:
		stats, err := j.cache.Stats(ctx, now)
		if err != nil {
			return err
		}
		log.WithFields(logrus.Fields{
			"hits":     stats.Hits,
			"misses":   stats.Misses,
			"hit_rate": stats.HitRate,
			"entries":  stats.Entries,
			"expired":  stats.Expired,
		}).Info("cache stats")

	default:
		return Permanent(fmt.Errorf("unknown cache job mode %q", p.Mode))
	}
	return nil
}
