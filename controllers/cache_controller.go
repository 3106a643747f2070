package controller

import (
	"context"
	"errors"
	"time"

	"github.com/gofiber/fiber/v2"

	"lawsim/services"
	"lawsim/worker"
)

// JobEnqueuer is the part of the job runner the admin endpoints need
type JobEnqueuer interface {
	Enqueue(ctx context.Context, jobType string, payload interface{}) (*worker.Job, error)
	Types() []string
}

type InvalidateCacheRequest struct {
	Type       string `json:"type" validate:"required"`
	CaseID     uint   `json:"case_id"`
	DocumentID uint   `json:"document_id"`
	TeamID     uint   `json:"team_id"`
}

type WarmCacheRequest struct {
	CaseID uint   `json:"case_id"`
	Rubric string `json:"rubric"`
}

type EnqueueJobRequest struct {
	Type    string      `json:"type" validate:"required"`
	Payload interface{} `json:"payload"`
}

type CacheController struct {
	Cache *services.AiResponseCacheService
	Jobs  JobEnqueuer
}

func NewCacheController(cache *services.AiResponseCacheService, jobs JobEnqueuer) *CacheController {
	return &CacheController{Cache: cache, Jobs: jobs}
}

func (cc *CacheController) Stats(c *fiber.Ctx) error {
	stats, err := cc.Cache.Stats(c.UserContext(), time.Now().UTC())
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(stats)
}

func (cc *CacheController) ResetStats(c *fiber.Ctx) error {
	if err := cc.Cache.ResetStats(c.UserContext()); err != nil {
		return writeError(c, err)
	}
	return c.SendStatus(fiber.StatusNoContent)
}

func (cc *CacheController) Cleanup(c *fiber.Ctx) error {
	return cc.enqueue(c, worker.TypeAICacheManagement, worker.AICachePayload{Mode: worker.ModeCleanup})
}

func (cc *CacheController) Invalidate(c *fiber.Ctx) error {
	var req InvalidateCacheRequest
	if err := parseBody(c, &req); err != nil {
		return err
	}
	return cc.enqueue(c, worker.TypeAICacheManagement, worker.AICachePayload{
		Mode:       worker.ModeInvalidate,
		Event:      req.Type,
		CaseID:     req.CaseID,
		DocumentID: req.DocumentID,
		TeamID:     req.TeamID,
	})
}

// Warm queues grading for one case, or for every licensed active case when
// case_id is omitted
func (cc *CacheController) Warm(c *fiber.Ctx) error {
	var req WarmCacheRequest
	if len(c.Body()) > 0 {
		if err := parseBody(c, &req); err != nil {
			return err
		}
	}
	return cc.enqueue(c, worker.TypeAICacheManagement, worker.AICachePayload{
		Mode:   worker.ModeWarm,
		CaseID: req.CaseID,
		Rubric: req.Rubric,
	})
}

func (cc *CacheController) EnqueueJob(c *fiber.Ctx) error {
	var req EnqueueJobRequest
	if err := parseBody(c, &req); err != nil {
		return err
	}
	return cc.enqueue(c, req.Type, req.Payload)
}

func (cc *CacheController) ListJobTypes(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"types": cc.Jobs.Types(),
	})
}

func (cc *CacheController) enqueue(c *fiber.Ctx, jobType string, payload interface{}) error {
	job, err := cc.Jobs.Enqueue(c.UserContext(), jobType, payload)
	if errors.Is(err, worker.ErrUnknownJobType) {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": err.Error(),
		})
	}
	if err != nil {
		return writeError(c, err)
	}
	return c.Status(fiber.StatusAccepted).JSON(fiber.Map{
		"job_id": job.ID,
		"type":   job.Type,
	})
}
