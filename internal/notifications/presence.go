package notifications

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"strconv"
	"sync"
	"time"

	"betelconnect/internal/observability"

	"github.com/redis/go-redis/v9"
)

const (
	defaultLastSeenKeyPrefix = "presence:last_seen:"
	defaultLastSeenTTL       = 30 * 24 * time.Hour
)

// PresenceConfig controls the optional Redis last-seen mirror.
type PresenceConfig struct {
	LastSeenKeyPrefix string
	LastSeenTTL       time.Duration
}

// Presence maps a user id to the set of its joined connection handles. A user
// is online while that set is non-empty. State is process-local; Redis only
// mirrors the last time a user was seen.
type Presence struct {
	rdb *redis.Client

	// transMu is held across a state change and its callbacks, so
	// transitions are delivered in the order they happened. Callbacks must
	// not call back into Join or Disconnect.
	transMu sync.Mutex

	mu        sync.Mutex
	conns     map[uint]map[string]struct{}
	owner     map[string]uint
	onOnline  []func(userID uint)
	onOffline []func(userID uint)

	lastSeenKeyPrefix string
	lastSeenTTL       time.Duration
}

// NewPresence creates a tracker. rdb may be nil.
func NewPresence(rdb *redis.Client, cfg PresenceConfig) *Presence {
	p := &Presence{
		rdb:               rdb,
		conns:             make(map[uint]map[string]struct{}),
		owner:             make(map[string]uint),
		lastSeenKeyPrefix: defaultLastSeenKeyPrefix,
		lastSeenTTL:       defaultLastSeenTTL,
	}
	if cfg.LastSeenKeyPrefix != "" {
		p.lastSeenKeyPrefix = cfg.LastSeenKeyPrefix
	}
	if cfg.LastSeenTTL > 0 {
		p.lastSeenTTL = cfg.LastSeenTTL
	}
	return p
}

// OnOnline registers a callback fired when a user goes from zero to one connection.
func (p *Presence) OnOnline(fn func(userID uint)) {
	p.mu.Lock()
	p.onOnline = append(p.onOnline, fn)
	p.mu.Unlock()
}

// OnOffline registers a callback fired when a user's last connection leaves.
func (p *Presence) OnOffline(fn func(userID uint)) {
	p.mu.Lock()
	p.onOffline = append(p.onOffline, fn)
	p.mu.Unlock()
}

// Join adds connID to userID's set. It returns the online users after the
// join and whether this join took the user online. Joining twice with the same
// handle is idempotent; a handle already owned by another user is moved.
func (p *Presence) Join(ctx context.Context, userID uint, connID string) ([]uint, bool) {
	p.transMu.Lock()
	p.mu.Lock()
	prev, moved := p.owner[connID]
	moved = moved && prev != userID
	p.mu.Unlock()
	if moved {
		if _, went := p.disconnectLocked(connID); went {
			p.fireOffline(prev)
		}
		p.touch(ctx, prev)
	}

	p.mu.Lock()
	set, ok := p.conns[userID]
	if !ok {
		set = make(map[string]struct{})
		p.conns[userID] = set
	}
	becameOnline := len(set) == 0
	set[connID] = struct{}{}
	p.owner[connID] = userID
	online := p.snapshotLocked()
	callbacks := p.onOnline
	p.mu.Unlock()

	if becameOnline {
		observability.PresenceOnlineUsers.Inc()
		for _, cb := range callbacks {
			cb(userID)
		}
	}
	p.transMu.Unlock()

	p.touch(ctx, userID)
	return online, becameOnline
}

// Disconnect removes connID from whichever user holds it. It returns that user
// and whether the user went offline. Unknown handles return (0, false).
func (p *Presence) Disconnect(ctx context.Context, connID string) (uint, bool) {
	p.transMu.Lock()
	userID, wentOffline := p.disconnectLocked(connID)
	if wentOffline {
		p.fireOffline(userID)
	}
	p.transMu.Unlock()

	if userID != 0 {
		p.touch(ctx, userID)
	}
	return userID, wentOffline
}

// disconnectLocked drops connID from the state. Callers hold transMu.
func (p *Presence) disconnectLocked(connID string) (uint, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	userID, ok := p.owner[connID]
	if !ok {
		return 0, false
	}
	delete(p.owner, connID)

	set := p.conns[userID]
	delete(set, connID)
	if len(set) > 0 {
		return userID, false
	}
	delete(p.conns, userID)
	return userID, true
}

func (p *Presence) fireOffline(userID uint) {
	p.mu.Lock()
	callbacks := p.onOffline
	p.mu.Unlock()

	observability.PresenceOnlineUsers.Dec()
	for _, cb := range callbacks {
		cb(userID)
	}
}

// IsOnline reports whether userID has at least one joined connection.
func (p *Presence) IsOnline(userID uint) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.conns[userID]) > 0
}

// ConnectionCount returns how many handles userID currently holds.
func (p *Presence) ConnectionCount(userID uint) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.conns[userID])
}

// OnlineUsers returns the online user ids in ascending order.
func (p *Presence) OnlineUsers() []uint {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.snapshotLocked()
}

func (p *Presence) snapshotLocked() []uint {
	ids := make([]uint, 0, len(p.conns))
	for id, set := range p.conns {
		if len(set) > 0 {
			ids = append(ids, id)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// LastSeen returns the last time userID joined or left, as mirrored in Redis.
func (p *Presence) LastSeen(ctx context.Context, userID uint) (time.Time, bool) {
	if p.rdb == nil {
		return time.Time{}, false
	}
	raw, err := p.rdb.Get(ctx, p.lastSeenKey(userID)).Result()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			observability.RedisErrorRate.WithLabelValues("presence_get").Inc()
		}
		return time.Time{}, false
	}
	sec, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return time.Time{}, false
	}
	return time.Unix(sec, 0).UTC(), true
}

func (p *Presence) touch(ctx context.Context, userID uint) {
	if p.rdb == nil {
		return
	}
	now := strconv.FormatInt(time.Now().Unix(), 10)
	if err := p.rdb.SetEx(ctx, p.lastSeenKey(userID), now, p.lastSeenTTL).Err(); err != nil {
		observability.RedisErrorRate.WithLabelValues("presence_setex").Inc()
		slog.WarnContext(ctx, "presence last-seen mirror failed",
			slog.Uint64("user_id", uint64(userID)), slog.String("error", err.Error()))
	}
}

func (p *Presence) lastSeenKey(userID uint) string {
	return p.lastSeenKeyPrefix + strconv.FormatUint(uint64(userID), 10)
}
