package notifications

import (
	"context"
	"errors"
	"log/slog"
	"strconv"
	"strings"
	"sync"

	"betelconnect/internal/observability"

	"github.com/gofiber/websocket/v2"
)

const (
	// Max connections per user
	maxConnsPerUser = 12
	// Max total connections
	maxTotalConns = 10000
)

var (
	// ErrServerFull is returned by Register once maxTotalConns is reached.
	ErrServerFull = errors.New("server connection limit reached")
	// ErrUserConnLimit is returned by Register once a user holds maxConnsPerUser sockets.
	ErrUserConnLimit = errors.New("user connection limit reached")
)

// Hub is the in-process room registry: each user id is a room holding that
// user's connected clients. It delivers events locally and implements Bus.
type Hub struct {
	mu         sync.RWMutex
	conns      map[uint]map[*Client]struct{}
	totalConns int
	presence   *Presence
	closed     bool
}

// NewHub creates a Hub. Connections leaving the hub are removed from presence.
func NewHub(presence *Presence) *Hub {
	if presence == nil {
		presence = NewPresence(nil, PresenceConfig{})
	}
	return &Hub{
		conns:    make(map[uint]map[*Client]struct{}),
		presence: presence,
	}
}

// Name returns a human-readable identifier for this hub.
func (h *Hub) Name() string { return "event hub" }

// Presence returns the tracker fed by this hub's connections.
func (h *Hub) Presence() *Presence { return h.presence }

// Register puts a new connection into userID's room. The connection does not
// count toward presence until Join.
func (h *Hub) Register(userID uint, conn *websocket.Conn) (*Client, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed || h.totalConns >= maxTotalConns {
		return nil, ErrServerFull
	}

	m, ok := h.conns[userID]
	if !ok {
		m = make(map[*Client]struct{})
		h.conns[userID] = m
	}
	if len(m) >= maxConnsPerUser {
		return nil, ErrUserConnLimit
	}

	client := NewClient(h, conn, userID)
	m[client] = struct{}{}
	h.totalConns++
	observability.WebSocketConnectionsTotal.Inc()
	return client, nil
}

// UnregisterClient removes the client from its room and disconnects its
// presence handle.
func (h *Hub) UnregisterClient(client *Client) {
	h.mu.Lock()
	removed := false
	if m, ok := h.conns[client.UserID]; ok {
		if _, exists := m[client]; exists {
			delete(m, client)
			h.totalConns--
			removed = true
		}
		if len(m) == 0 {
			delete(h.conns, client.UserID)
		}
	}
	h.mu.Unlock()

	if !removed {
		return
	}
	observability.WebSocketConnectionsTotal.Dec()
	h.presence.Disconnect(context.Background(), client.ConnID)
	client.Close()
}

// Join marks the client's connection as present and replies to that
// connection alone with the current online set.
func (h *Hub) Join(ctx context.Context, client *Client) []uint {
	online, _ := h.presence.Join(ctx, client.UserID, client.ConnID)
	client.SendEvent(Event{Type: EventOnlineUsers, Payload: OnlineUsersPayload{UserIDs: online}})
	return online
}

// ConnCount returns how many sockets userID has registered.
func (h *Hub) ConnCount(userID uint) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.conns[userID])
}

// EmitToUser delivers ev to every connection in userID's room.
func (h *Hub) EmitToUser(ctx context.Context, userID uint, ev Event) {
	data, err := ev.Marshal()
	if err != nil {
		slog.ErrorContext(ctx, "marshal event", slog.String("type", ev.Type), slog.String("error", err.Error()))
		return
	}
	observability.BusEventsEmitted.WithLabelValues(ev.Type, "local").Inc()
	h.DeliverUser(userID, data)
}

// Broadcast delivers ev to every connection.
func (h *Hub) Broadcast(ctx context.Context, ev Event) {
	data, err := ev.Marshal()
	if err != nil {
		slog.ErrorContext(ctx, "marshal event", slog.String("type", ev.Type), slog.String("error", err.Error()))
		return
	}
	observability.BusEventsEmitted.WithLabelValues(ev.Type, "local").Inc()
	h.DeliverAll(data)
}

// DeliverUser queues an encoded event for every connection of userID.
func (h *Hub) DeliverUser(userID uint, data []byte) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.conns[userID] {
		c.TrySend(data)
	}
}

// DeliverAll queues an encoded event for every connection.
func (h *Hub) DeliverAll(data []byte) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, clients := range h.conns {
		for c := range clients {
			c.TrySend(data)
		}
	}
}

// StartWiring subscribes to the Notifier's channels and delivers relayed
// events to local connections.
func (h *Hub) StartWiring(ctx context.Context, n *Notifier) error {
	return n.StartPatternSubscriber(ctx, func(channel, payload string) {
		if channel == BroadcastChannel {
			h.DeliverAll([]byte(payload))
			return
		}
		raw, ok := strings.CutPrefix(channel, userChannelPrefix)
		if !ok {
			slog.Warn("invalid event channel", slog.String("channel", channel))
			return
		}
		id, err := strconv.ParseUint(raw, 10, 64)
		if err != nil {
			slog.Warn("invalid event channel", slog.String("channel", channel))
			return
		}
		h.DeliverUser(uint(id), []byte(payload))
	})
}

// Shutdown closes every client's send channel; each WritePump then writes a
// close frame and exits.
func (h *Hub) Shutdown(_ context.Context) error {
	h.mu.Lock()
	h.closed = true
	clients := make([]*Client, 0, h.totalConns)
	for _, userConns := range h.conns {
		for c := range userConns {
			clients = append(clients, c)
		}
	}
	h.conns = make(map[uint]map[*Client]struct{})
	h.totalConns = 0
	h.mu.Unlock()

	for _, c := range clients {
		h.presence.Disconnect(context.Background(), c.ConnID)
		c.Close()
	}
	observability.WebSocketConnectionsTotal.Set(0)
	return nil
}
