package worker

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"lawsim/models"
	"lawsim/services"
)

type mockCache struct {
	mock.Mock
}

func (m *mockCache) Cleanup(ctx context.Context, now time.Time) (int64, error) {
	args := m.Called(ctx, now)
	return args.Get(0).(int64), args.Error(1)
}

func (m *mockCache) Invalidate(ctx context.Context, event services.InvalidationEvent) (int64, error) {
	args := m.Called(ctx, event)
	return args.Get(0).(int64), args.Error(1)
}

func (m *mockCache) Stats(ctx context.Context, now time.Time) (*services.CacheStats, error) {
	args := m.Called(ctx, now)
	return args.Get(0).(*services.CacheStats), args.Error(1)
}

type mockWarmer struct {
	mock.Mock
}

func (m *mockWarmer) WarmCase(ctx context.Context, caseID uint, rubric string) (int, error) {
	args := m.Called(ctx, caseID, rubric)
	return args.Int(0), args.Error(1)
}

func (m *mockWarmer) WarmActiveCases(ctx context.Context, rubric string, now time.Time) (int, error) {
	args := m.Called(ctx, rubric, now)
	return args.Int(0), args.Error(1)
}

type fakeReleaser struct {
	now   time.Time
	limit int
}

func (f *fakeReleaser) ReleaseDue(ctx context.Context, now time.Time, limit int) ([]models.Document, error) {
	f.now, f.limit = now, limit
	return []models.Document{{Title: "exhibit"}}, nil
}

func fixedNow() time.Time {
	return time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
}

func cacheJob(t *testing.T, p AICachePayload) *Job {
	t.Helper()
	job, err := NewJob(TypeAICacheManagement, p, 3)
	require.NoError(t, err)
	return job
}

func TestAICacheJobModes(t *testing.T) {
	ctx := context.Background()
	now := fixedNow()

	tests := []struct {
		name    string
		payload AICachePayload
		setup   func(c *mockCache, w *mockWarmer)
	}{
		{
			name:    "cleanup",
			payload: AICachePayload{Mode: ModeCleanup},
			setup: func(c *mockCache, w *mockWarmer) {
				c.On("Cleanup", ctx, now).Return(int64(4), nil)
			},
		},
		{
			name:    "warm one case",
			payload: AICachePayload{Mode: ModeWarm, CaseID: 9, Rubric: "r"},
			setup: func(c *mockCache, w *mockWarmer) {
				w.On("WarmCase", ctx, uint(9), "r").Return(2, nil)
			},
		},
		{
			name:    "warm all",
			payload: AICachePayload{Mode: ModeWarm},
			setup: func(c *mockCache, w *mockWarmer) {
				w.On("WarmActiveCases", ctx, "", now).Return(5, nil)
			},
		},
		{
			name:    "invalidate",
			payload: AICachePayload{Mode: ModeInvalidate, Event: services.InvalidateTeamChanged, TeamID: 3},
			setup: func(c *mockCache, w *mockWarmer) {
				c.On("Invalidate", ctx, services.InvalidationEvent{Type: services.InvalidateTeamChanged, TeamID: 3}).Return(int64(1), nil)
			},
		},
		{
			name:    "stats",
			payload: AICachePayload{Mode: ModeStats},
			setup: func(c *mockCache, w *mockWarmer) {
				c.On("Stats", ctx, now).Return(&services.CacheStats{Hits: 1}, nil)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, w := &mockCache{}, &mockWarmer{}
			tt.setup(c, w)
			job := NewAICacheJob(c, w)
			job.now = fixedNow

			require.NoError(t, job.Handle(ctx, cacheJob(t, tt.payload)))
			c.AssertExpectations(t)
			w.AssertExpectations(t)
		})
	}
}

func TestAICacheJobPermanentFailures(t *testing.T) {
	ctx := context.Background()

	c, w := &mockCache{}, &mockWarmer{}
	job := NewAICacheJob(c, w)
	job.now = fixedNow

	err := job.Handle(ctx, cacheJob(t, AICachePayload{Mode: "defrag"}))
	assert.True(t, IsPermanent(err))

	c.On("Invalidate", ctx, services.InvalidationEvent{Type: "bogus"}).
		Return(int64(0), services.ErrInvalidInput)
	err = job.Handle(ctx, cacheJob(t, AICachePayload{Mode: ModeInvalidate, Event: "bogus"}))
	assert.True(t, IsPermanent(err))

	w.On("WarmCase", ctx, uint(1), "").Return(0, services.ErrAIUnavailable)
	err = job.Handle(ctx, cacheJob(t, AICachePayload{Mode: ModeWarm, CaseID: 1}))
	assert.True(t, IsPermanent(err))
	assert.ErrorIs(t, err, services.ErrAIUnavailable)
}

func TestAICacheJobTransientErrorIsRetryable(t *testing.T) {
	ctx := context.Background()
	c := &mockCache{}
	c.On("Cleanup", ctx, fixedNow()).Return(int64(0), errors.New("db down"))

	job := NewAICacheJob(c, nil)
	job.now = fixedNow
	err := job.Handle(ctx, cacheJob(t, AICachePayload{Mode: ModeCleanup}))
	require.Error(t, err)
	assert.False(t, IsPermanent(err))
}

func TestEvidenceReleaseJobUsesBatch(t *testing.T) {
	r := &fakeReleaser{}
	job := NewEvidenceReleaseJob(r)
	job.now = fixedNow

	j, err := NewJob(TypeEvidenceRelease, nil, 1)
	require.NoError(t, err)
	require.NoError(t, job.Handle(context.Background(), j))
	assert.Equal(t, 100, r.limit)
	assert.Equal(t, fixedNow(), r.now)
}
