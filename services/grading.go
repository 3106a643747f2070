package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"lawsim/models"
)

const DefaultRubric = "Assess legal reasoning, use of the evidence, identification of the governing rules, " +
	"and clarity of argument. Score from 0 to 100."

const gradingSystemPrompt = "You are a business law instructor grading a student submission in a moot court " +
	"simulation. Respond with JSON only, in the form {\"score\": number, \"feedback\": string}."

type GradeRequest struct {
	DocumentID uint   `json:"document_id"`
	Rubric     string `json:"rubric"`
	Force      bool   `json:"force"`
}

type GradeResult struct {
	DocumentID uint     `json:"document_id"`
	Score      *float64 `json:"score"`
	Feedback   string   `json:"feedback"`
	Model      string   `json:"model"`
	Cached     bool     `json:"cached"`
	CacheKey   string   `json:"cache_key"`
}

// GradingService grades submissions with the AI client, going through the
// response cache
type GradingService struct {
	db       *gorm.DB
	cache    *AiResponseCacheService
	ai       AIClient
	licenses *LicenseEnforcer
	ttl      time.Duration
	log      *logrus.Entry
}

func NewGradingService(db *gorm.DB, cache *AiResponseCacheService, ai AIClient, licenses *LicenseEnforcer, ttl time.Duration) *GradingService {
	return &GradingService{
		db:       db,
		cache:    cache,
		ai:       ai,
		licenses: licenses,
		ttl:      ttl,
		log:      logrus.WithField("component", "grading"),
	}
}

// BuildGradingPrompt assembles the grading prompt. teamRole may be empty.
func BuildGradingPrompt(c *models.Case, teamRole string, doc *models.Document, rubric string) string {
	if strings.TrimSpace(rubric) == "" {
		rubric = DefaultRubric
	}
	if teamRole == "" {
		teamRole = "unassigned"
	}
	var b strings.Builder
	fmt.Fprintf(&b, "Case: %s\n", c.Title)
	fmt.Fprintf(&b, "Summary: %s\n", c.Summary)
	fmt.Fprintf(&b, "Team side: %s\n\n", teamRole)
	fmt.Fprintf(&b, "Rubric:\n%s\n\n", strings.TrimSpace(rubric))
	fmt.Fprintf(&b, "Submission (%s):\n%s\n", doc.Title, doc.Content)
	return b.String()
}

// ParseGrade reads {"score", "feedback"} from a model response. Markdown
// fences are stripped. Anything that is not JSON becomes plain feedback.
func ParseGrade(raw string) (*float64, string) {
	text := strings.TrimSpace(raw)
	if strings.HasPrefix(text, "```") {
		text = strings.TrimPrefix(text, "```json")
		text = strings.TrimPrefix(text, "```")
		text = strings.TrimSuffix(strings.TrimSpace(text), "```")
		text = strings.TrimSpace(text)
	}

	var parsed struct {
		Score    *float64 `json:"score"`
		Feedback string   `json:"feedback"`
	}
	if err := json.Unmarshal([]byte(text), &parsed); err != nil {
		return nil, strings.TrimSpace(raw)
	}
	return parsed.Score, parsed.Feedback
}

func (s *GradingService) loadSubmission(ctx context.Context, docID uint) (*models.Document, *models.Case, string, error) {
	var doc models.Document
	if err := s.db.WithContext(ctx).Preload("Team").First(&doc, docID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil, "", notFound("document")
		}
		return nil, nil, "", err
	}
	if doc.Kind != models.DocSubmission {
		return nil, nil, "", fmt.Errorf("%w: only submissions can be graded", ErrUnprocessable)
	}
	var c models.Case
	if err := s.db.WithContext(ctx).First(&c, doc.CaseID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil, "", notFound("case")
		}
		return nil, nil, "", err
	}
	role := ""
	if doc.Team != nil {
		role = doc.Team.Role
	}
	return &doc, &c, role, nil
}

func (s *GradingService) template(doc *models.Document, c *models.Case, prompt, rubric string) models.AiResponseCache {
	meta, _ := json.Marshal(map[string]string{
		"rubric_hash":  PromptHash(rubric),
		"content_hash": doc.ContentHash,
	})
	model := s.ai.Model()
	return models.AiResponseCache{
		CacheKey:   CacheKey(models.AIKindGrading, model, prompt),
		Kind:       models.AIKindGrading,
		CaseID:     &c.ID,
		DocumentID: &doc.ID,
		TeamID:     doc.TeamID,
		AIModel:    model,
		PromptHash: PromptHash(prompt),
		Metadata:   datatypes.JSON(meta),
	}
}

// Grade returns a grade for a submission. Force skips the cache read but the
// fresh result is still stored.
func (s *GradingService) Grade(ctx context.Context, req GradeRequest) (*GradeResult, error) {
	doc, c, role, err := s.loadSubmission(ctx, req.DocumentID)
	if err != nil {
		return nil, err
	}
	prompt := BuildGradingPrompt(c, role, doc, req.Rubric)
	tmpl := s.template(doc, c, prompt, req.Rubric)

	generate := func(ctx context.Context) (string, error) {
		return s.ai.Generate(ctx, gradingSystemPrompt, prompt)
	}

	var entry *models.AiResponseCache
	cached := false
	if req.Force {
		response, err := generate(ctx)
		if err != nil {
			return nil, err
		}
		fresh := tmpl
		fresh.Response = response
		if err := s.cache.Put(ctx, &fresh, s.ttl); err != nil {
			return nil, err
		}
		entry = &fresh
	} else {
		entry, cached, err = s.cache.Fetch(ctx, tmpl, s.ttl, generate)
		if err != nil {
			return nil, err
		}
	}

	score, feedback := ParseGrade(entry.Response)
	return &GradeResult{
		DocumentID: doc.ID,
		Score:      score,
		Feedback:   feedback,
		Model:      entry.AIModel,
		Cached:     cached,
		CacheKey:   entry.CacheKey,
	}, nil
}

// WarmCase grades every submission of a case that has no live cache entry
// and returns how many were generated
func (s *GradingService) WarmCase(ctx context.Context, caseID uint, rubric string) (int, error) {
	var docs []models.Document
	err := s.db.WithContext(ctx).
		Where("case_id = ? AND kind = ?", caseID, models.DocSubmission).
		Order("id").
		Find(&docs).Error
	if err != nil {
		return 0, err
	}

	warmed := 0
	for _, d := range docs {
		if err := ctx.Err(); err != nil {
			return warmed, err
		}
		res, err := s.Grade(ctx, GradeRequest{DocumentID: d.ID, Rubric: rubric})
		if err != nil {
			return warmed, fmt.Errorf("warm document %d: %w", d.ID, err)
		}
		if !res.Cached {
			warmed++
		}
	}
	s.log.WithFields(logrus.Fields{"case_id": caseID, "warmed": warmed}).Info("warmed grading cache")
	return warmed, nil
}

// WarmActiveCases warms every active case whose organization is licensed for
// AI grading
func (s *GradingService) WarmActiveCases(ctx context.Context, rubric string, now time.Time) (int, error) {
	var rows []struct {
		CaseID         uint
		OrganizationID uint
	}
	err := s.db.WithContext(ctx).Model(&models.Case{}).
		Select("cases.id AS case_id, courses.organization_id AS organization_id").
		Joins("JOIN courses ON courses.id = cases.course_id AND courses.deleted_at IS NULL").
		Where("cases.status = ?", models.CaseActive).
		Order("cases.id").
		Scan(&rows).Error
	if err != nil {
		return 0, err
	}

	licensed := map[uint]bool{}
	total := 0
	for _, r := range rows {
		ok, seen := licensed[r.OrganizationID]
		if !seen {
			ok, err = s.licenses.HasFeature(ctx, r.OrganizationID, models.FeatureAIGrading, now)
			if err != nil {
				return total, err
			}
			licensed[r.OrganizationID] = ok
		}
		if !ok {
			continue
		}
		n, err := s.WarmCase(ctx, r.CaseID, rubric)
		total += n
		if err != nil {
			return total, err
		}
	}
	return total, nil
}
