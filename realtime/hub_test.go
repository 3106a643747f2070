package realtime

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func TestHubPublishLocal(t *testing.T) {
	hub := NewHub(nil)
	watcher := hub.Subscribe(7)
	other := hub.Subscribe(8)
	defer hub.Unsubscribe(watcher)
	defer hub.Unsubscribe(other)

	require.NoError(t, hub.Publish(context.Background(), 7, "evidence_released", map[string]uint{"document_id": 3}))

	select {
	case raw := <-watcher.Messages():
		var msg Message
		require.NoError(t, json.Unmarshal(raw, &msg))
		assert.Equal(t, "evidence_released", msg.Type)
		assert.Equal(t, uint(7), msg.CaseID)
	case <-time.After(time.Second):
		t.Fatal("message not delivered")
	}

	select {
	case <-other.Messages():
		t.Fatal("message leaked to another case")
	default:
	}
}

func TestHubUnsubscribeClosesClient(t *testing.T) {
	hub := NewHub(nil)
	c := hub.Subscribe(1)
	assert.Equal(t, 1, hub.Subscribers(1))

	hub.Unsubscribe(c)
	hub.Unsubscribe(c)

	_, open := <-c.Messages()
	assert.False(t, open)
	assert.Equal(t, 0, hub.Subscribers(1))
}

func TestHubSlowClientDoesNotBlock(t *testing.T) {
	hub := NewHub(nil)
	c := hub.Subscribe(1)
	defer hub.Unsubscribe(c)

	for i := 0; i < clientBuffer+10; i++ {
		require.NoError(t, hub.Publish(context.Background(), 1, "note", i))
	}
	assert.Len(t, c.Messages(), clientBuffer)
}

func TestHubRunWithoutRedisStopsOnCancel(t *testing.T) {
	hub := NewHub(nil)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- hub.Run(ctx) }()

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("Run did not return")
	}
}

func TestHubRelaysAcrossProcessesThroughRedis(t *testing.T) {
	server := miniredis.RunT(t)
	newHub := func() *Hub {
		client := redis.NewClient(&redis.Options{Addr: server.Addr()})
		t.Cleanup(func() { _ = client.Close() })
		return NewHub(client)
	}
	publisher, viewer := newHub(), newHub()

	ctx, cancel := context.WithCancel(context.Background())
	errs := make(chan error, 2)
	for _, h := range []*Hub{publisher, viewer} {
		go func(h *Hub) { errs <- h.Run(ctx) }(h)
	}
	require.Eventually(t, func() bool {
		return server.PubSubNumSub(Channel)[Channel] == 2
	}, 2*time.Second, 10*time.Millisecond)

	remote := viewer.Subscribe(4)
	local := publisher.Subscribe(4)
	elsewhere := viewer.Subscribe(5)

	require.NoError(t, publisher.Publish(context.Background(), 4, "grade_posted", map[string]uint{"submission_id": 11}))

	for _, c := range []*Client{remote, local} {
		select {
		case raw := <-c.Messages():
			var msg Message
			require.NoError(t, json.Unmarshal(raw, &msg))
			assert.Equal(t, "grade_posted", msg.Type)
			assert.Equal(t, uint(4), msg.CaseID)
		case <-time.After(2 * time.Second):
			t.Fatal("message not relayed")
		}
	}
	select {
	case <-elsewhere.Messages():
		t.Fatal("message leaked to another case")
	case <-time.After(50 * time.Millisecond):
	}

	cancel()
	for i := 0; i < 2; i++ {
		select {
		case err := <-errs:
			assert.NoError(t, err)
		case <-time.After(2 * time.Second):
			t.Fatal("hub did not stop")
		}
	}
	viewer.Unsubscribe(remote)
	viewer.Unsubscribe(elsewhere)
	publisher.Unsubscribe(local)
}
