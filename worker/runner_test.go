package worker

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	// genai pulls in the opencensus view worker, which never exits
	goleak.VerifyTestMain(m, goleak.IgnoreTopFunction("go.opencensus.io/stats/view.(*worker).start"))
}

func startRunner(t *testing.T, r *Runner) (stop func()) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = r.Start(ctx)
	}()
	return func() {
		cancel()
		<-done
	}
}

func TestRunnerProcessesJobs(t *testing.T) {
	q := NewMemoryQueue(10)
	r := NewRunner(q, 2, 3)

	got := make(chan string, 3)
	r.Register(HandlerFunc{JobType: "echo", Fn: func(ctx context.Context, job *Job) error {
		var p struct{ Msg string }
		if err := job.Decode(&p); err != nil {
			return err
		}
		got <- p.Msg
		return nil
	}})
	stop := startRunner(t, r)
	defer stop()

	for _, msg := range []string{"a", "b", "c"} {
		_, err := r.Enqueue(context.Background(), "echo", map[string]string{"Msg": msg})
		require.NoError(t, err)
	}

	seen := map[string]bool{}
	for i := 0; i < 3; i++ {
		select {
		case m := <-got:
			seen[m] = true
		case <-time.After(2 * time.Second):
			t.Fatal("job not processed")
		}
	}
	assert.Equal(t, map[string]bool{"a": true, "b": true, "c": true}, seen)
}

func TestRunnerRetriesUntilSuccess(t *testing.T) {
	q := NewMemoryQueue(10)
	r := NewRunner(q, 1, 3)

	var calls atomic.Int32
	done := make(chan int, 1)
	r.Register(HandlerFunc{JobType: "flaky", Fn: func(ctx context.Context, job *Job) error {
		n := calls.Add(1)
		if n < 3 {
			return errors.New("temporary")
		}
		done <- job.Attempts
		return nil
	}})
	stop := startRunner(t, r)
	defer stop()

	_, err := r.Enqueue(context.Background(), "flaky", nil)
	require.NoError(t, err)

	select {
	case attempts := <-done:
		assert.Equal(t, 2, attempts)
	case <-time.After(2 * time.Second):
		t.Fatal("job never succeeded")
	}
	assert.Equal(t, int32(3), calls.Load())
}

func TestRunnerGivesUpAfterMaxAttempts(t *testing.T) {
	q := NewMemoryQueue(10)
	r := NewRunner(q, 1, 2)

	var mu sync.Mutex
	var attempts []int
	r.Register(HandlerFunc{JobType: "broken", Fn: func(ctx context.Context, job *Job) error {
		mu.Lock()
		attempts = append(attempts, job.Attempts)
		mu.Unlock()
		return errors.New("always")
	}})

	job, err := NewJob("broken", nil, 2)
	require.NoError(t, err)

	ctx := context.Background()
	r.process(ctx, job)
	require.Equal(t, 1, q.Len())

	retried, err := q.Dequeue(ctx)
	require.NoError(t, err)
	r.process(ctx, retried)

	assert.Equal(t, 0, q.Len())
	assert.Equal(t, []int{0, 1}, attempts)
}

func TestRunnerPermanentErrorIsNotRetried(t *testing.T) {
	q := NewMemoryQueue(10)
	r := NewRunner(q, 1, 5)
	r.Register(HandlerFunc{JobType: "bad", Fn: func(ctx context.Context, job *Job) error {
		return Permanent(errors.New("bad payload"))
	}})

	job, err := NewJob("bad", nil, 5)
	require.NoError(t, err)
	r.process(context.Background(), job)
	assert.Equal(t, 0, q.Len())
}

func TestRunnerRecoversHandlerPanic(t *testing.T) {
	r := NewRunner(NewMemoryQueue(1), 1, 1)
	r.Register(HandlerFunc{JobType: "panics", Fn: func(ctx context.Context, job *Job) error {
		panic("boom")
	}})
	job, err := NewJob("panics", nil, 1)
	require.NoError(t, err)

	err = r.RunOnce(context.Background(), job)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "boom")
}

func TestRunnerRejectsUnknownType(t *testing.T) {
	r := NewRunner(NewMemoryQueue(1), 1, 1)
	_, err := r.Enqueue(context.Background(), "missing", nil)
	assert.ErrorIs(t, err, ErrUnknownJobType)

	job, err := NewJob("missing", nil, 1)
	require.NoError(t, err)
	assert.ErrorIs(t, r.RunOnce(context.Background(), job), ErrUnknownJobType)
}

func TestMemoryQueueDequeueHonorsContext(t *testing.T) {
	q := NewMemoryQueue(1)
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := q.Dequeue(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestJobDecodeInvalidPayloadIsPermanent(t *testing.T) {
	job, err := NewJob("x", []byte(`{not json`), 1)
	require.NoError(t, err)

	var v map[string]interface{}
	err = job.Decode(&v)
	require.Error(t, err)
	assert.True(t, IsPermanent(err))
}

func TestRunnerStopsWhileRetryWaitsOnFullQueue(t *testing.T) {
	q := NewMemoryQueue(1)
	r := NewRunner(q, 1, 3)

	started := make(chan struct{}, 4)
	release := make(chan struct{})
	r.Register(HandlerFunc{JobType: "stuck", Fn: func(ctx context.Context, job *Job) error {
		started <- struct{}{}
		<-release
		return errors.New("still failing")
	}})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = r.Start(ctx)
	}()

	_, err := r.Enqueue(context.Background(), "stuck", nil)
	require.NoError(t, err)
	select {
	case <-started:
	case <-time.After(2 * time.Second):
		t.Fatal("first job never started")
	}

	// fill the queue so the retry of the running job has nowhere to go
	_, err = r.Enqueue(context.Background(), "stuck", nil)
	require.NoError(t, err)
	close(release)
	time.Sleep(50 * time.Millisecond)

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("runner did not stop while its retry was blocked")
	}
}

func TestRunnerRetryGivesUpAfterTimeout(t *testing.T) {
	q := NewMemoryQueue(1)
	r := NewRunner(q, 1, 3)
	r.requeueTimeout = 20 * time.Millisecond
	r.Register(HandlerFunc{JobType: "broken", Fn: func(ctx context.Context, job *Job) error {
		return errors.New("always")
	}})

	filler, err := NewJob("broken", nil, 3)
	require.NoError(t, err)
	require.NoError(t, q.Enqueue(context.Background(), filler))

	job, err := NewJob("broken", nil, 3)
	require.NoError(t, err)

	start := time.Now()
	r.process(context.Background(), job)
	assert.Less(t, time.Since(start), time.Second)
	assert.Equal(t, 1, q.Len())
}

type failingQueue struct {
	calls atomic.Int32
}

func (q *failingQueue) Enqueue(context.Context, *Job) error { return nil }
func (q *failingQueue) Ack(context.Context, *Job) error     { return nil }

func (q *failingQueue) Dequeue(context.Context) (*Job, error) {
	q.calls.Add(1)
	return nil, errors.New("connection refused")
}

func TestRunnerBacksOffWhenDequeueFails(t *testing.T) {
	q := &failingQueue{}
	r := NewRunner(q, 1, 1)
	r.minBackoff = 10 * time.Millisecond
	r.maxBackoff = 40 * time.Millisecond

	stop := startRunner(t, r)
	time.Sleep(150 * time.Millisecond)
	stop()

	// 10+20+40+40 ms covers the window in about five attempts
	calls := q.calls.Load()
	assert.GreaterOrEqual(t, calls, int32(2))
	assert.LessOrEqual(t, calls, int32(8))
}
