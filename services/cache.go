package services

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"lawsim/models"
)

const (
	InvalidateDocumentUpdated = "document_updated"
	InvalidateDocumentDeleted = "document_deleted"
	InvalidateEvidenceRelease = "evidence_released"
	InvalidateCaseUpdated     = "case_updated"
	InvalidateTeamChanged     = "team_changed"
	InvalidateRubricUpdated   = "rubric_updated"
)

// InvalidationEvent describes a domain change that makes cached AI output stale
type InvalidationEvent struct {
	Type       string `json:"type"`
	CaseID     uint   `json:"case_id,omitempty"`
	DocumentID uint   `json:"document_id,omitempty"`
	TeamID     uint   `json:"team_id,omitempty"`
}

// Invalidator is what domain code needs from the cache
type Invalidator interface {
	Invalidate(ctx context.Context, event InvalidationEvent) (int64, error)
}

type CacheStats struct {
	Hits          int64   `json:"hits"`
	Misses        int64   `json:"misses"`
	HitRate       float64 `json:"hit_rate"`
	Entries       int64   `json:"entries"`
	Expired       int64   `json:"expired"`
	TotalHitCount int64   `json:"total_hit_count"`
}

// AiResponseCacheService persists generated AI responses in the database and
// mirrors them into an optional hot store
type AiResponseCacheService struct {
	db    *gorm.DB
	hot   HotStore
	stats StatsCounter
	now   func() time.Time
	log   *logrus.Entry
}

// NewAiResponseCacheService wires the cache. hot may be nil; stats defaults to
// in-process counters.
func NewAiResponseCacheService(db *gorm.DB, hot HotStore, stats StatsCounter) *AiResponseCacheService {
	if stats == nil {
		stats = &MemoryStatsCounter{}
	}
	return &AiResponseCacheService{
		db:    db,
		hot:   hot,
		stats: stats,
		now:   func() time.Time { return time.Now().UTC() },
		log:   logrus.WithField("component", "ai_cache"),
	}
}

// CacheKey derives the lookup key for a prompt sent to model
func CacheKey(kind, model, prompt string) string {
	sum := sha256.Sum256([]byte(kind + "|" + model + "|" + prompt))
	return fmt.Sprintf("ai:%s:%s", kind, hex.EncodeToString(sum[:]))
}

func PromptHash(prompt string) string {
	sum := sha256.Sum256([]byte(prompt))
	return hex.EncodeToString(sum[:])
}

// Get returns a live entry for key. The bool is false on a miss.
func (s *AiResponseCacheService) Get(ctx context.Context, key string) (*models.AiResponseCache, bool, error) {
	now := s.now()

	if entry := s.getHot(ctx, key, now); entry != nil {
		s.recordHit(ctx, key, now)
		return entry, true, nil
	}

	var entry models.AiResponseCache
	err := s.db.WithContext(ctx).Where("cache_key = ? AND expires_at > ?", key, now).First(&entry).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		s.count(ctx, false)
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}

	s.setHot(ctx, &entry, now)
	s.recordHit(ctx, key, now)
	entry.HitCount++
	entry.LastHitAt = &now
	return &entry, true, nil
}

// Put stores entry under its CacheKey for ttl, replacing any previous response
func (s *AiResponseCacheService) Put(ctx context.Context, entry *models.AiResponseCache, ttl time.Duration) error {
	if entry.CacheKey == "" {
		return fmt.Errorf("%w: cache key is required", ErrInvalidInput)
	}
	if ttl <= 0 {
		return fmt.Errorf("%w: ttl must be positive", ErrInvalidInput)
	}
	now := s.now()
	entry.ExpiresAt = now.Add(ttl)
	entry.HitCount = 0
	entry.LastHitAt = nil

	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "cache_key"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"kind", "case_id", "document_id", "team_id", "model", "prompt_hash",
			"response", "metadata", "expires_at", "hit_count", "last_hit_at", "updated_at",
		}),
	}).Create(entry).Error
	if err != nil {
		return err
	}

	s.setHot(ctx, entry, now)
	return nil
}

// Fetch returns the cached entry for template.CacheKey, or calls generate,
// stores its response and returns the new entry. The bool reports a cache hit.
func (s *AiResponseCacheService) Fetch(ctx context.Context, template models.AiResponseCache, ttl time.Duration, generate func(ctx context.Context) (string, error)) (*models.AiResponseCache, bool, error) {
	entry, ok, err := s.Get(ctx, template.CacheKey)
	if err != nil {
		return nil, false, err
	}
	if ok {
		return entry, true, nil
	}

	response, err := generate(ctx)
	if err != nil {
		return nil, false, err
	}
	fresh := template
	fresh.Response = response
	if err := s.Put(ctx, &fresh, ttl); err != nil {
		return nil, false, err
	}
	return &fresh, false, nil
}

func (s *AiResponseCacheService) scope(ctx context.Context, event InvalidationEvent) (*gorm.DB, error) {
	q := s.db.WithContext(ctx).Model(&models.AiResponseCache{})
	switch event.Type {
	case InvalidateDocumentUpdated, InvalidateDocumentDeleted:
		if event.DocumentID == 0 {
			return nil, fmt.Errorf("%w: %s needs document_id", ErrInvalidInput, event.Type)
		}
		return q.Where("document_id = ?", event.DocumentID), nil
	case InvalidateEvidenceRelease, InvalidateCaseUpdated:
		if event.CaseID == 0 {
			return nil, fmt.Errorf("%w: %s needs case_id", ErrInvalidInput, event.Type)
		}
		return q.Where("case_id = ?", event.CaseID), nil
	case InvalidateTeamChanged:
		if event.TeamID == 0 {
			return nil, fmt.Errorf("%w: %s needs team_id", ErrInvalidInput, event.Type)
		}
		return q.Where("team_id = ?", event.TeamID), nil
	case InvalidateRubricUpdated:
		if event.CaseID == 0 {
			return nil, fmt.Errorf("%w: %s needs case_id", ErrInvalidInput, event.Type)
		}
		return q.Where("case_id = ? AND kind = ?", event.CaseID, models.AIKindGrading), nil
	}
	return nil, fmt.Errorf("%w: unknown invalidation event %q", ErrInvalidInput, event.Type)
}

// Invalidate drops every entry made stale by event and returns how many
func (s *AiResponseCacheService) Invalidate(ctx context.Context, event InvalidationEvent) (int64, error) {
	q, err := s.scope(ctx, event)
	if err != nil {
		return 0, err
	}

	var keys []string
	if err := q.Session(&gorm.Session{}).Pluck("cache_key", &keys).Error; err != nil {
		return 0, err
	}
	if len(keys) == 0 {
		return 0, nil
	}

	res := s.db.WithContext(ctx).Unscoped().Where("cache_key IN ?", keys).Delete(&models.AiResponseCache{})
	if res.Error != nil {
		return 0, res.Error
	}
	s.deleteHot(ctx, keys)

	s.log.WithFields(logrus.Fields{
		"event":       event.Type,
		"case_id":     event.CaseID,
		"document_id": event.DocumentID,
		"team_id":     event.TeamID,
		"removed":     res.RowsAffected,
	}).Info("invalidated ai cache entries")
	return res.RowsAffected, nil
}

// Cleanup hard-deletes entries that expired at or before now
func (s *AiResponseCacheService) Cleanup(ctx context.Context, now time.Time) (int64, error) {
	res := s.db.WithContext(ctx).Unscoped().Where("expires_at <= ?", now).Delete(&models.AiResponseCache{})
	if res.Error != nil {
		return 0, res.Error
	}
	s.log.WithField("removed", res.RowsAffected).Info("ai cache cleanup finished")
	return res.RowsAffected, nil
}

func (s *AiResponseCacheService) Stats(ctx context.Context, now time.Time) (*CacheStats, error) {
	hits, misses, err := s.stats.Counts(ctx)
	if err != nil {
		return nil, err
	}
	stats := &CacheStats{Hits: hits, Misses: misses}
	if total := hits + misses; total > 0 {
		stats.HitRate = float64(hits) / float64(total)
	}

	db := s.db.WithContext(ctx).Model(&models.AiResponseCache{})
	if err := db.Session(&gorm.Session{}).Where("expires_at > ?", now).Count(&stats.Entries).Error; err != nil {
		return nil, err
	}
	if err := db.Session(&gorm.Session{}).Where("expires_at <= ?", now).Count(&stats.Expired).Error; err != nil {
		return nil, err
	}
	if err := db.Session(&gorm.Session{}).Select("COALESCE(SUM(hit_count), 0)").Row().Scan(&stats.TotalHitCount); err != nil {
		return nil, err
	}
	return stats, nil
}

func (s *AiResponseCacheService) ResetStats(ctx context.Context) error {
	return s.stats.Reset(ctx)
}

func (s *AiResponseCacheService) recordHit(ctx context.Context, key string, now time.Time) {
	err := s.db.WithContext(ctx).Model(&models.AiResponseCache{}).
		Where("cache_key = ?", key).
		Updates(map[string]interface{}{
			"hit_count":   gorm.Expr("hit_count + ?", 1),
			"last_hit_at": now,
		}).Error
	if err != nil {
		s.log.WithError(err).WithField("key", key).Warn("failed to record cache hit")
	}
	s.count(ctx, true)
}

func (s *AiResponseCacheService) count(ctx context.Context, hit bool) {
	var err error
	if hit {
		err = s.stats.Hit(ctx)
	} else {
		err = s.stats.Miss(ctx)
	}
	if err != nil {
		s.log.WithError(err).Warn("failed to update cache stats")
	}
}

func (s *AiResponseCacheService) getHot(ctx context.Context, key string, now time.Time) *models.AiResponseCache {
	if s.hot == nil {
		return nil
	}
	raw, err := s.hot.Get(ctx, key)
	if err != nil {
		s.log.WithError(err).Warn("hot cache read failed")
		return nil
	}
	if raw == nil {
		return nil
	}
	var entry models.AiResponseCache
	if err := json.Unmarshal(raw, &entry); err != nil || entry.Expired(now) {
		return nil
	}
	return &entry
}

func (s *AiResponseCacheService) setHot(ctx context.Context, entry *models.AiResponseCache, now time.Time) {
	if s.hot == nil {
		return
	}
	ttl := entry.ExpiresAt.Sub(now)
	if ttl <= 0 {
		return
	}
	raw, err := json.Marshal(entry)
	if err != nil {
		return
	}
	if err := s.hot.Set(ctx, entry.CacheKey, raw, ttl); err != nil {
		s.log.WithError(err).Warn("hot cache write failed")
	}
}

func (s *AiResponseCacheService) deleteHot(ctx context.Context, keys []string) {
	if s.hot == nil {
		return
	}
	if err := s.hot.Delete(ctx, keys...); err != nil {
		s.log.WithError(err).Warn("hot cache delete failed")
	}
}
