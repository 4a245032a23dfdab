package notifications

import (
	"context"
	"encoding/json"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testEventuallyTimeout = time.Second
	testPollInterval      = 10 * time.Millisecond
)

func decodeEvent(t *testing.T, raw []byte) (string, map[string]any) {
	t.Helper()
	var env struct {
		Type    string         `json:"type"`
		Payload map[string]any `json:"payload"`
	}
	require.NoError(t, json.Unmarshal(raw, &env))
	return env.Type, env.Payload
}

func nextEvent(t *testing.T, c *Client) (string, map[string]any) {
	t.Helper()
	select {
	case raw := <-c.Send:
		return decodeEvent(t, raw)
	case <-time.After(testEventuallyTimeout):
		t.Fatalf("no event for user %d", c.UserID)
		return "", nil
	}
}

func TestHub_RegisterDoesNotJoinPresence(t *testing.T) {
	t.Parallel()
	hub := NewHub(nil)

	c, err := hub.Register(10, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, hub.ConnCount(10))
	assert.False(t, hub.Presence().IsOnline(10))

	online := hub.Join(context.Background(), c)
	assert.Equal(t, []uint{10}, online)
	assert.True(t, hub.Presence().IsOnline(10))

	typ, payload := nextEvent(t, c)
	assert.Equal(t, EventOnlineUsers, typ)
	assert.Equal(t, []any{float64(10)}, payload["user_ids"])
}

func TestHub_LastDisconnectBroadcastsOfflineOnce(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	hub := NewHub(nil)

	var offline int32
	hub.Presence().OnOffline(func(uint) { atomic.AddInt32(&offline, 1) })

	a, err := hub.Register(15, nil)
	require.NoError(t, err)
	b, err := hub.Register(15, nil)
	require.NoError(t, err)
	hub.Join(ctx, a)
	hub.Join(ctx, b)

	hub.UnregisterClient(a)
	assert.True(t, hub.Presence().IsOnline(15))
	assert.Zero(t, atomic.LoadInt32(&offline))

	hub.UnregisterClient(b)
	hub.UnregisterClient(b)
	assert.False(t, hub.Presence().IsOnline(15))
	assert.Equal(t, int32(1), atomic.LoadInt32(&offline))
}

func TestHub_PerUserLimit(t *testing.T) {
	t.Parallel()
	hub := NewHub(nil)
	for i := 0; i < maxConnsPerUser; i++ {
		_, err := hub.Register(3, nil)
		require.NoError(t, err)
	}
	_, err := hub.Register(3, nil)
	assert.ErrorIs(t, err, ErrUserConnLimit)
}

func TestHub_EmitToUserOnlyReachesRoom(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	hub := NewHub(nil)

	alice, _ := hub.Register(1, nil)
	bob, _ := hub.Register(2, nil)

	hub.EmitToUser(ctx, 1, Event{Type: EventTyping, Payload: TypingPayload{SenderID: 2}})
	typ, payload := nextEvent(t, alice)
	assert.Equal(t, EventTyping, typ)
	assert.Equal(t, float64(2), payload["sender_id"])
	assert.Empty(t, bob.Send)

	hub.Broadcast(ctx, Event{Type: EventDeletePost, Payload: PostDeletedPayload{PostID: 8}})
	typ, _ = nextEvent(t, alice)
	assert.Equal(t, EventDeletePost, typ)
	typ, _ = nextEvent(t, bob)
	assert.Equal(t, EventDeletePost, typ)
}

func TestHub_PresenceWiringBroadcasts(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	hub := NewHub(nil)
	WirePresence(hub.Presence(), hub)

	watcher, _ := hub.Register(1, nil)
	joiner, _ := hub.Register(2, nil)

	hub.Join(ctx, joiner)
	typ, payload := nextEvent(t, watcher)
	assert.Equal(t, EventUserOnline, typ)
	assert.Equal(t, float64(2), payload["user_id"])

	hub.UnregisterClient(joiner)
	typ, payload = nextEvent(t, watcher)
	assert.Equal(t, EventUserOffline, typ)
	assert.Equal(t, float64(2), payload["user_id"])
}

func TestClient_TrySendBackpressure(t *testing.T) {
	t.Parallel()
	hub := NewHub(nil)
	c := &Client{Hub: hub, UserID: 4, Send: make(chan []byte, 1)}

	c.TrySend([]byte(`{"type":"a"}`))
	c.TrySend([]byte(`{"type":"b"}`))
	assert.Len(t, c.Send, 1)

	// Closed channel must not panic the caller.
	c.Close()
	assert.NotPanics(t, func() { c.TrySend([]byte(`{}`)) })
}

func TestHub_ShutdownClosesClients(t *testing.T) {
	t.Parallel()
	hub := NewHub(nil)
	c, _ := hub.Register(5, nil)
	hub.Join(context.Background(), c)
	<-c.Send

	require.NoError(t, hub.Shutdown(context.Background()))
	_, open := <-c.Send
	assert.False(t, open)
	assert.False(t, hub.Presence().IsOnline(5))

	_, err := hub.Register(5, nil)
	assert.ErrorIs(t, err, ErrServerFull)
}
