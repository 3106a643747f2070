package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"lawsim/models"
)

const (
	FeedEvidenceReleased  = "evidence_released"
	FeedDocumentSubmitted = "document_submitted"
	FeedCaseStatus        = "case_status"
)

// Notifier pushes live-feed messages to viewers of a case
type Notifier interface {
	Publish(ctx context.Context, caseID uint, msgType string, data interface{}) error
}

type noopNotifier struct{}

func (noopNotifier) Publish(context.Context, uint, string, interface{}) error { return nil }

// EvidenceReleaseService makes scheduled evidence visible to students
type EvidenceReleaseService struct {
	db       *gorm.DB
	cache    Invalidator
	notifier Notifier
	log      *logrus.Entry
}

func NewEvidenceReleaseService(db *gorm.DB, cache Invalidator, notifier Notifier) *EvidenceReleaseService {
	if notifier == nil {
		notifier = noopNotifier{}
	}
	return &EvidenceReleaseService{
		db:       db,
		cache:    cache,
		notifier: notifier,
		log:      logrus.WithField("component", "evidence_release"),
	}
}

// Due lists evidence ready for release at now, oldest release time first
func (s *EvidenceReleaseService) Due(ctx context.Context, now time.Time, limit int) ([]models.Document, error) {
	var docs []models.Document
	q := s.db.WithContext(ctx).
		Joins("JOIN cases ON cases.id = documents.case_id AND cases.deleted_at IS NULL").
		Where("documents.kind = ? AND documents.released = ?", models.DocEvidence, false).
		Where("documents.release_at IS NOT NULL AND documents.release_at <= ?", now).
		Where("cases.status = ?", models.CaseActive).
		Order("documents.release_at, documents.id")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&docs).Error; err != nil {
		return nil, err
	}
	return docs, nil
}

// ReleaseDue releases every ready document and returns those it released.
// Documents released concurrently elsewhere are skipped.
func (s *EvidenceReleaseService) ReleaseDue(ctx context.Context, now time.Time, limit int) ([]models.Document, error) {
	due, err := s.Due(ctx, now, limit)
	if err != nil {
		return nil, err
	}

	released := make([]models.Document, 0, len(due))
	for i := range due {
		if err := ctx.Err(); err != nil {
			return released, err
		}
		doc := due[i]
		ok, err := s.release(ctx, &doc, nil, now)
		if err != nil {
			return released, fmt.Errorf("release document %d: %w", doc.ID, err)
		}
		if ok {
			released = append(released, doc)
		}
	}

	if len(released) > 0 {
		s.log.WithField("released", len(released)).Info("released scheduled evidence")
	}
	return released, nil
}

// Release releases one document immediately on behalf of actor. Releasing an
// already released document is a no-op that returns the document.
func (s *EvidenceReleaseService) Release(ctx context.Context, docID uint, actorID *uint, now time.Time) (*models.Document, error) {
	var doc models.Document
	if err := s.db.WithContext(ctx).First(&doc, docID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, notFound("document")
		}
		return nil, err
	}
	if doc.Released {
		return &doc, nil
	}
	if _, err := s.release(ctx, &doc, actorID, now); err != nil {
		return nil, err
	}
	return &doc, nil
}

func (s *EvidenceReleaseService) release(ctx context.Context, doc *models.Document, actorID *uint, now time.Time) (bool, error) {
	applied := false
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&models.Document{}).
			Where("id = ? AND released = ?", doc.ID, false).
			Updates(map[string]interface{}{"released": true, "released_at": now})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return nil
		}
		applied = true

		meta, _ := json.Marshal(map[string]interface{}{"kind": doc.Kind, "visibility": doc.Visibility})
		event := models.CaseEvent{
			CaseID:     doc.CaseID,
			Type:       models.EventEvidenceReleased,
			Title:      doc.Title,
			OccurredAt: now,
			ActorID:    actorID,
			DocumentID: &doc.ID,
			Metadata:   datatypes.JSON(meta),
		}
		return tx.Create(&event).Error
	})
	if err != nil || !applied {
		return false, err
	}

	doc.Released = true
	doc.ReleasedAt = &now

	if s.cache != nil {
		if _, err := s.cache.Invalidate(ctx, InvalidationEvent{Type: InvalidateEvidenceRelease, CaseID: doc.CaseID}); err != nil {
			s.log.WithError(err).WithField("document_id", doc.ID).Warn("cache invalidation after release failed")
		}
	}
	payload := map[string]interface{}{
		"document_id": doc.ID,
		"title":       doc.Title,
		"visibility":  doc.Visibility,
		"released_at": now,
	}
	if err := s.notifier.Publish(ctx, doc.CaseID, FeedEvidenceReleased, payload); err != nil {
		s.log.WithError(err).WithField("document_id", doc.ID).Warn("live feed publish failed")
	}
	return true, nil
}
