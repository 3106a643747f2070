package worker

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"lawsim/utils"
)

var ErrUnknownJobType = errors.New("unknown job type")

// Handler executes jobs of one type
type Handler interface {
	Type() string
	Handle(ctx context.Context, job *Job) error
}

// HandlerFunc adapts a function to Handler
type HandlerFunc struct {
	JobType string
	Fn      func(ctx context.Context, job *Job) error
}

func (h HandlerFunc) Type() string { return h.JobType }
func (h HandlerFunc) Handle(ctx context.Context, job *Job) error { return h.Fn(ctx, job) }

const (
	requeueTimeout = 5 * time.Second
	minBackoff     = 100 * time.Millisecond
	maxBackoff     = 30 * time.Second
)

// Runner pulls jobs from a queue and dispatches them to registered handlers
type Runner struct {
	queue       Queue
	handlers    map[string]Handler
	concurrency int
	maxAttempts int
	log         *logrus.Entry

	requeueTimeout time.Duration
	minBackoff     time.Duration
	maxBackoff     time.Duration
}

func NewRunner(queue Queue, concurrency, maxAttempts int) *Runner {
	if concurrency < 1 {
		concurrency = 1
	}
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	return &Runner{
		queue:       queue,
		handlers:    make(map[string]Handler),
		concurrency: concurrency,
		maxAttempts: maxAttempts,
		log:         logrus.WithField("component", "worker"),

		requeueTimeout: requeueTimeout,
		minBackoff:     minBackoff,
		maxBackoff:     maxBackoff,
	}
}

func (r *Runner) Register(handlers ...Handler) {
	for _, h := range handlers {
		r.handlers[h.Type()] = h
	}
}

// Types lists the registered job types
func (r *Runner) Types() []string {
	types := make([]string, 0, len(r.handlers))
	for t := range r.handlers {
		types = append(types, t)
	}
	sort.Strings(types)
	return types
}

// Enqueue queues a job of a registered type
func (r *Runner) Enqueue(ctx context.Context, jobType string, payload interface{}) (*Job, error) {
	if _, ok := r.handlers[jobType]; !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownJobType, jobType)
	}
	job, err := NewJob(jobType, payload, r.maxAttempts)
	if err != nil {
		return nil, err
	}
	if err := r.queue.Enqueue(ctx, job); err != nil {
		return nil, err
	}
	r.log.WithFields(logrus.Fields{"job_id": job.ID, "type": jobType}).Debug("job enqueued")
	return job, nil
}

// Start runs the worker goroutines until ctx is done, then waits for
// in-flight jobs to finish
func (r *Runner) Start(ctx context.Context) error {
	if rec, ok := r.queue.(Recoverer); ok {
		if _, err := rec.Recover(ctx); err != nil {
			return fmt.Errorf("recover in-flight jobs: %w", err)
		}
	}

	r.log.WithFields(logrus.Fields{
		"concurrency": r.concurrency,
		"types":       r.Types(),
	}).Info("job runner started")

	var wg sync.WaitGroup
	for i := 0; i < r.concurrency; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			r.loop(ctx, id)
		}(i)
	}
	wg.Wait()

	r.log.Info("job runner stopped")
	return nil
}

// loop dequeues until ctx is done. Dequeue failures back off exponentially.
func (r *Runner) loop(ctx context.Context, id int) {
	backoff := r.minBackoff
	for {
		job, err := r.queue.Dequeue(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			r.log.WithError(err).WithFields(logrus.Fields{
				"worker":   id,
				"retry_in": backoff.String(),
			}).Error("dequeue failed")
			select {
			case <-ctx.Done():
				return
			case <-time.After(backoff):
			}
			backoff = min(backoff*2, r.maxBackoff)
			continue
		}
		backoff = r.minBackoff
		r.process(ctx, job)
	}
}

// process runs one job and acks it. Failures are re-enqueued until the job
// runs out of attempts. A retry that cannot be queued leaves the job unacked,
// so a recovering queue delivers it again after a restart.
func (r *Runner) process(ctx context.Context, job *Job) {
	if err := r.RunOnce(ctx, job); err != nil && !r.fail(ctx, job, err) {
		return
	}
	// acks must survive shutdown
	if err := r.queue.Ack(context.WithoutCancel(ctx), job); err != nil {
		r.log.WithError(err).WithField("job_id", job.ID).Error("ack failed")
	}
}

// fail records a failed run and queues the retry. It reports false when the
// retry was due but could not be queued.
func (r *Runner) fail(ctx context.Context, job *Job, err error) bool {
	fields := map[string]interface{}{
		"job_id":       job.ID,
		"type":         job.Type,
		"attempts":     job.Attempts + 1,
		"max_attempts": job.MaxAttempts,
	}
	if errors.Is(err, ErrUnknownJobType) {
		r.log.WithFields(logrus.Fields(fields)).Warn("dropping job of unknown type")
		return true
	}

	next := job.retry()
	if IsPermanent(err) || next.Attempts >= job.MaxAttempts {
		utils.LogError("job_failed", err, fields)
		return true
	}

	r.log.WithError(err).WithFields(logrus.Fields(fields)).Warn("job failed, retrying")

	// The workers are the only consumers, so a full queue must not block
	// one of them past shutdown or the timeout.
	rctx, cancel := context.WithTimeout(ctx, r.requeueTimeout)
	defer cancel()
	if err := r.queue.Enqueue(rctx, next); err != nil {
		utils.LogError("job_requeue_failed", err, fields)
		return false
	}
	return true
}

// RunOnce executes job synchronously with its registered handler
func (r *Runner) RunOnce(ctx context.Context, job *Job) (err error) {
	h, ok := r.handlers[job.Type]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownJobType, job.Type)
	}
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("job %s panicked: %v", job.ID, p)
		}
	}()
	return h.Handle(ctx, job)
}
