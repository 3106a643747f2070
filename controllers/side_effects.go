package controller

import (
	"github.com/gofiber/fiber/v2"
	"github.com/sirupsen/logrus"

	"lawsim/services"
)

// invalidate drops cached AI output after a write. Failures are logged only,
// the write has already been committed.
func invalidate(c *fiber.Ctx, cache services.Invalidator, log *logrus.Entry, event services.InvalidationEvent) {
	if cache == nil {
		return
	}
	if _, err := cache.Invalidate(c.UserContext(), event); err != nil {
		log.WithError(err).WithField("event", event.Type).Warn("cache invalidation failed")
	}
}

func publish(c *fiber.Ctx, notifier services.Notifier, log *logrus.Entry, caseID uint, msgType string, data interface{}) {
	if notifier == nil {
		return
	}
	if err := notifier.Publish(c.UserContext(), caseID, msgType, data); err != nil {
		log.WithError(err).WithFields(logrus.Fields{"case_id": caseID, "type": msgType}).Warn("live feed publish failed")
	}
}
