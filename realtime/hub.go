package realtime

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/sirupsen/logrus"
)

const (
	Channel      = "lawsim:case_events"
	clientBuffer = 32
)

// Message is the envelope sent to live-feed clients
type Message struct {
	Type   string      `json:"type"`
	CaseID uint        `json:"case_id"`
	Data   interface{} `json:"data,omitempty"`
	SentAt time.Time   `json:"sent_at"`
}

// Client is one subscriber to a case feed
type Client struct {
	caseID uint
	send   chan []byte
}

// Messages yields encoded messages until the client is unsubscribed
func (c *Client) Messages() <-chan []byte {
	return c.send
}

func (c *Client) CaseID() uint {
	return c.caseID
}

// Hub fans case events out to websocket clients. With a Redis client every
// process receives every message through pub/sub.
type Hub struct {
	mu    sync.RWMutex
	rooms map[uint]map[*Client]struct{}
	redis *redis.Client
	log   *logrus.Entry
}

func NewHub(client *redis.Client) *Hub {
	return &Hub{
		rooms: make(map[uint]map[*Client]struct{}),
		redis: client,
		log:   logrus.WithField("component", "live_feed"),
	}
}

func (h *Hub) Subscribe(caseID uint) *Client {
	c := &Client{caseID: caseID, send: make(chan []byte, clientBuffer)}
	h.mu.Lock()
	defer h.mu.Unlock()
	room, ok := h.rooms[caseID]
	if !ok {
		room = make(map[*Client]struct{})
		h.rooms[caseID] = room
	}
	room[c] = struct{}{}
	return c
}

func (h *Hub) Unsubscribe(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	room, ok := h.rooms[c.caseID]
	if !ok {
		return
	}
	if _, ok := room[c]; !ok {
		return
	}
	delete(room, c)
	close(c.send)
	if len(room) == 0 {
		delete(h.rooms, c.caseID)
	}
}

// Subscribers returns how many clients are watching a case
func (h *Hub) Subscribers(caseID uint) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[caseID])
}

// Publish sends a message to every viewer of caseID
func (h *Hub) Publish(ctx context.Context, caseID uint, msgType string, data interface{}) error {
	raw, err := json.Marshal(Message{Type: msgType, CaseID: caseID, Data: data, SentAt: time.Now().UTC()})
	if err != nil {
		return err
	}
	if h.redis != nil {
		return h.redis.Publish(ctx, Channel, raw).Err()
	}
	h.broadcast(caseID, raw)
	return nil
}

// broadcast never blocks; clients with a full buffer miss the message
func (h *Hub) broadcast(caseID uint, raw []byte) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.rooms[caseID] {
		select {
		case c.send <- raw:
		default:
			h.log.WithField("case_id", caseID).Warn("dropping live feed message for slow client")
		}
	}
}

// Run relays Redis pub/sub messages to local clients until ctx is done.
// Without Redis it just waits.
func (h *Hub) Run(ctx context.Context) error {
	if h.redis == nil {
		<-ctx.Done()
		return nil
	}

	sub := h.redis.Subscribe(ctx, Channel)
	defer sub.Close()
	if _, err := sub.Receive(ctx); err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return err
	}
	h.log.Info("live feed subscriber started")

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			h.log.Info("live feed subscriber stopped")
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			var m struct {
				CaseID uint `json:"case_id"`
			}
			if err := json.Unmarshal([]byte(msg.Payload), &m); err != nil {
				h.log.WithError(err).Warn("invalid live feed message")
				continue
			}
			h.broadcast(m.CaseID, []byte(msg.Payload))
		}
	}
}
