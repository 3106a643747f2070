package worker

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"lawsim/models"
)

const releaseBatchSize = 100

type evidenceReleaser interface {
	ReleaseDue(ctx context.Context, now time.Time, limit int) ([]models.Document, error)
}

// EvidenceReleaseJob releases scheduled evidence whose time has come
type EvidenceReleaseJob struct {
	releaser evidenceReleaser
	now      func() time.Time
	log      *logrus.Entry
}

func NewEvidenceReleaseJob(releaser evidenceReleaser) *EvidenceReleaseJob {
	return &EvidenceReleaseJob{
		releaser: releaser,
		now:      func() time.Time { return time.Now().UTC() },
		log:      logrus.WithField("job", TypeEvidenceRelease),
	}
}

func (j *EvidenceReleaseJob) Type() string {
	return TypeEvidenceRelease
}

func (j *EvidenceReleaseJob) Handle(ctx context.Context, job *Job) error {
	released, err := j.releaser.ReleaseDue(ctx, j.now(), releaseBatchSize)
	if err != nil {
		return err
	}
	j.log.WithFields(logrus.Fields{"job_id": job.ID, "released": len(released)}).Debug("evidence release pass finished")
	return nil
}
