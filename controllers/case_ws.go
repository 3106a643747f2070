package controller

import (
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"
	"github.com/sirupsen/logrus"

	"lawsim/models"
	"lawsim/realtime"
	"lawsim/services"
)

const (
	feedPingInterval = 30 * time.Second
	feedWriteTimeout = 10 * time.Second
)

type LiveFeedController struct {
	Access   *services.Access
	Licenses *services.LicenseEnforcer
	Hub      *realtime.Hub
	log      *logrus.Entry
}

func NewLiveFeedController(access *services.Access, licenses *services.LicenseEnforcer, hub *realtime.Hub) *LiveFeedController {
	return &LiveFeedController{
		Access:   access,
		Licenses: licenses,
		Hub:      hub,
		log:      logrus.WithField("component", "live_feed"),
	}
}

// Authorize runs before the websocket upgrade. It resolves the case, checks
// the viewer may see it and that the organization has the live feed.
func (lc *LiveFeedController) Authorize(c *fiber.Ctx) error {
	if !websocket.IsWebSocketUpgrade(c) {
		return fiber.ErrUpgradeRequired
	}
	id, err := paramID(c, "id")
	if err != nil {
		return err
	}
	user := currentUser(c)
	kase, err := lc.Access.CaseForViewer(c.UserContext(), user, id)
	if err != nil {
		return writeError(c, err)
	}
	if !user.IsAdmin() {
		err := lc.Licenses.RequireFeature(c.UserContext(), kase.Course.OrganizationID, models.FeatureLiveFeed, time.Now().UTC())
		if err != nil {
			return writeError(c, err)
		}
	}
	c.Locals("caseID", kase.ID)
	return c.Next()
}

// Stream relays hub messages for one case until the client goes away
func (lc *LiveFeedController) Stream(conn *websocket.Conn) {
	caseID, _ := conn.Locals("caseID").(uint)
	userID, _ := conn.Locals("userID").(uint)
	log := lc.log.WithFields(logrus.Fields{"case_id": caseID, "user_id": userID})

	client := lc.Hub.Subscribe(caseID)
	defer func() {
		lc.Hub.Unsubscribe(client)
		conn.Close()
		log.Debug("live feed closed")
	}()
	log.Debug("live feed opened")

	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ping := time.NewTicker(feedPingInterval)
	defer ping.Stop()

	for {
		select {
		case <-closed:
			return
		case raw, ok := <-client.Messages():
			if !ok {
				return
			}
			conn.SetWriteDeadline(time.Now().Add(feedWriteTimeout))
			if err := conn.WriteMessage(websocket.TextMessage, raw); err != nil {
				log.WithError(err).Debug("live feed write failed")
				return
			}
		case <-ping.C:
			conn.SetWriteDeadline(time.Now().Add(feedWriteTimeout))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
