package services

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"lawsim/models"
	"lawsim/testutil"
)

type memoryHotStore struct {
	mu   sync.Mutex
	data map[string][]byte
}

func newMemoryHotStore() *memoryHotStore {
	return &memoryHotStore{data: map[string][]byte{}}
}

func (m *memoryHotStore) Get(_ context.Context, key string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.data[key], nil
}

func (m *memoryHotStore) Set(_ context.Context, key string, val []byte, _ time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key] = val
	return nil
}

func (m *memoryHotStore) Delete(_ context.Context, keys ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, k := range keys {
		delete(m.data, k)
	}
	return nil
}

func newTestCache(t *testing.T, hot HotStore) (*AiResponseCacheService, *time.Time) {
	t.Helper()
	db := testutil.NewDB(t)
	svc := NewAiResponseCacheService(db, hot, nil)
	now := testutil.Now
	svc.now = func() time.Time { return now }
	return svc, &now
}

func entry(kind string, caseID, docID, teamID uint, prompt string) models.AiResponseCache {
	e := models.AiResponseCache{
		CacheKey:   CacheKey(kind, "gemini-test", prompt),
		Kind:       kind,
		AIModel:    "gemini-test",
		PromptHash: PromptHash(prompt),
		Response:   "response to " + prompt,
	}
	if caseID != 0 {
		e.CaseID = &caseID
	}
	if docID != 0 {
		e.DocumentID = &docID
	}
	if teamID != 0 {
		e.TeamID = &teamID
	}
	return e
}

func TestCacheKeyIsStable(t *testing.T) {
	a := CacheKey(models.AIKindGrading, "m", "prompt")
	assert.Equal(t, a, CacheKey(models.AIKindGrading, "m", "prompt"))
	assert.NotEqual(t, a, CacheKey(models.AIKindGrading, "m2", "prompt"))
	assert.NotEqual(t, a, CacheKey(models.AIKindFeedback, "m", "prompt"))
	assert.Regexp(t, `^ai:grading:[0-9a-f]{64}$`, a)
}

func TestCachePutGetAndExpiry(t *testing.T) {
	svc, now := newTestCache(t, nil)
	ctx := context.Background()

	e := entry(models.AIKindGrading, 1, 2, 3, "p1")
	require.NoError(t, svc.Put(ctx, &e, time.Hour))

	got, ok, err := svc.Get(ctx, e.CacheKey)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "response to p1", got.Response)
	assert.Equal(t, 1, got.HitCount)

	_, ok, err = svc.Get(ctx, "ai:grading:missing")
	require.NoError(t, err)
	assert.False(t, ok)

	*now = now.Add(2 * time.Hour)
	_, ok, err = svc.Get(ctx, e.CacheKey)
	require.NoError(t, err)
	assert.False(t, ok, "expired entries are misses")

	stats, err := svc.Stats(ctx, *now)
	require.NoError(t, err)
	assert.Equal(t, int64(1), stats.Hits)
	assert.Equal(t, int64(2), stats.Misses)
	assert.InDelta(t, 1.0/3.0, stats.HitRate, 0.0001)
	assert.Equal(t, int64(0), stats.Entries)
	assert.Equal(t, int64(1), stats.Expired)
	assert.Equal(t, int64(1), stats.TotalHitCount)

	require.NoError(t, svc.ResetStats(ctx))
	stats, err = svc.Stats(ctx, *now)
	require.NoError(t, err)
	assert.Zero(t, stats.Hits)
	assert.Zero(t, stats.Misses)
}

func TestCachePutOverwrites(t *testing.T) {
	svc, _ := newTestCache(t, nil)
	ctx := context.Background()

	e := entry(models.AIKindSummary, 1, 0, 0, "p")
	require.NoError(t, svc.Put(ctx, &e, time.Hour))
	e2 := entry(models.AIKindSummary, 1, 0, 0, "p")
	e2.Response = "newer"
	require.NoError(t, svc.Put(ctx, &e2, time.Hour))

	got, ok, err := svc.Get(ctx, e.CacheKey)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "newer", got.Response)

	var count int64
	require.NoError(t, svc.db.Model(&models.AiResponseCache{}).Count(&count).Error)
	assert.Equal(t, int64(1), count)
}

func TestCachePutRejectsBadInput(t *testing.T) {
	svc, _ := newTestCache(t, nil)
	e := entry(models.AIKindSummary, 0, 0, 0, "p")
	assert.ErrorIs(t, svc.Put(context.Background(), &e, 0), ErrInvalidInput)
	e.CacheKey = ""
	assert.ErrorIs(t, svc.Put(context.Background(), &e, time.Minute), ErrInvalidInput)
}

func TestCacheFetch(t *testing.T) {
	svc, _ := newTestCache(t, nil)
	ctx := context.Background()
	calls := 0
	gen := func(context.Context) (string, error) {
		calls++
		return `{"score": 80}`, nil
	}

	tmpl := entry(models.AIKindGrading, 1, 2, 0, "prompt")
	first, cached, err := svc.Fetch(ctx, tmpl, time.Hour, gen)
	require.NoError(t, err)
	assert.False(t, cached)
	assert.Equal(t, `{"score": 80}`, first.Response)

	second, cached, err := svc.Fetch(ctx, tmpl, time.Hour, gen)
	require.NoError(t, err)
	assert.True(t, cached)
	assert.Equal(t, first.Response, second.Response)
	assert.Equal(t, 1, calls)

	failing := entry(models.AIKindGrading, 1, 3, 0, "other")
	_, _, err = svc.Fetch(ctx, failing, time.Hour, func(context.Context) (string, error) {
		return "", ErrAIUnavailable
	})
	assert.ErrorIs(t, err, ErrAIUnavailable)
	_, ok, err := svc.Get(ctx, failing.CacheKey)
	require.NoError(t, err)
	assert.False(t, ok, "failed generations are not stored")
}

func TestCacheInvalidationRules(t *testing.T) {
	ctx := context.Background()
	seed := func(t *testing.T, svc *AiResponseCacheService) {
		for _, e := range []models.AiResponseCache{
			entry(models.AIKindGrading, 1, 10, 100, "a"),
			entry(models.AIKindFeedback, 1, 11, 100, "b"),
			entry(models.AIKindSummary, 1, 0, 0, "c"),
			entry(models.AIKindGrading, 2, 20, 200, "d"),
		} {
			e := e
			require.NoError(t, svc.Put(ctx, &e, time.Hour))
		}
	}

	tests := []struct {
		event   InvalidationEvent
		removed int64
	}{
		{InvalidationEvent{Type: InvalidateDocumentUpdated, DocumentID: 10}, 1},
		{InvalidationEvent{Type: InvalidateDocumentDeleted, DocumentID: 20}, 1},
		{InvalidationEvent{Type: InvalidateEvidenceRelease, CaseID: 1}, 3},
		{InvalidationEvent{Type: InvalidateCaseUpdated, CaseID: 2}, 1},
		{InvalidationEvent{Type: InvalidateTeamChanged, TeamID: 100}, 2},
		{InvalidationEvent{Type: InvalidateRubricUpdated, CaseID: 1}, 1},
		{InvalidationEvent{Type: InvalidateCaseUpdated, CaseID: 99}, 0},
	}
	for _, tt := range tests {
		t.Run(tt.event.Type, func(t *testing.T) {
			hot := newMemoryHotStore()
			svc, _ := newTestCache(t, hot)
			seed(t, svc)

			removed, err := svc.Invalidate(ctx, tt.event)
			require.NoError(t, err)
			assert.Equal(t, tt.removed, removed)

			var left int64
			require.NoError(t, svc.db.Unscoped().Model(&models.AiResponseCache{}).Count(&left).Error)
			assert.Equal(t, 4-tt.removed, left, "rows are hard-deleted")
			assert.Len(t, hot.data, int(4-tt.removed))
		})
	}
}

func TestCacheInvalidateRejectsUnknownOrIncomplete(t *testing.T) {
	svc, _ := newTestCache(t, nil)
	ctx := context.Background()
	_, err := svc.Invalidate(ctx, InvalidationEvent{Type: "weather_changed"})
	assert.ErrorIs(t, err, ErrInvalidInput)
	_, err = svc.Invalidate(ctx, InvalidationEvent{Type: InvalidateTeamChanged})
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestCacheCleanup(t *testing.T) {
	svc, now := newTestCache(t, nil)
	ctx := context.Background()

	short := entry(models.AIKindSummary, 1, 0, 0, "short")
	long := entry(models.AIKindSummary, 1, 0, 0, "long")
	require.NoError(t, svc.Put(ctx, &short, time.Minute))
	require.NoError(t, svc.Put(ctx, &long, time.Hour))

	removed, err := svc.Cleanup(ctx, now.Add(10*time.Minute))
	require.NoError(t, err)
	assert.Equal(t, int64(1), removed)

	removed, err = svc.Cleanup(ctx, now.Add(10*time.Minute))
	require.NoError(t, err)
	assert.Zero(t, removed)
}

func TestCacheHotLayerServesHits(t *testing.T) {
	hot := newMemoryHotStore()
	svc, _ := newTestCache(t, hot)
	ctx := context.Background()

	e := entry(models.AIKindFeedback, 1, 2, 0, "p")
	require.NoError(t, svc.Put(ctx, &e, time.Hour))
	require.Contains(t, hot.data, e.CacheKey)

	// the hot copy answers before the database is consulted
	require.NoError(t, svc.db.Exec("UPDATE ai_response_caches SET response = ?", "stale").Error)
	got, ok, err := svc.Get(ctx, e.CacheKey)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "response to p", got.Response)
}

type failingStats struct{ MemoryStatsCounter }

func (f *failingStats) Hit(context.Context) error { return errors.New("redis down") }

func TestCacheStatsFailureDoesNotFailGet(t *testing.T) {
	db := testutil.NewDB(t)
	svc := NewAiResponseCacheService(db, nil, &failingStats{})
	svc.now = func() time.Time { return testutil.Now }
	ctx := context.Background()

	e := entry(models.AIKindSummary, 1, 0, 0, "p")
	require.NoError(t, svc.Put(ctx, &e, time.Hour))
	_, ok, err := svc.Get(ctx, e.CacheKey)
	require.NoError(t, err)
	assert.True(t, ok)
}
