package notifications

import (
	"context"
	"log/slog"

	"betelconnect/internal/observability"
)

// RelayBus publishes events through Redis when a Notifier is available, so
// every process's Hub receives them via StartWiring. Without Redis, or when a
// publish fails, it delivers to the local Hub instead. Each event takes exactly
// one of the two paths.
type RelayBus struct {
	notifier *Notifier
	local    *Hub
}

// NewRelayBus creates a bus over notifier and local. notifier may be nil.
func NewRelayBus(notifier *Notifier, local *Hub) *RelayBus {
	return &RelayBus{notifier: notifier, local: local}
}

// EmitToUser sends ev to userID's room.
func (b *RelayBus) EmitToUser(ctx context.Context, userID uint, ev Event) {
	data, err := ev.Marshal()
	if err != nil {
		slog.ErrorContext(ctx, "marshal event", slog.String("type", ev.Type), slog.String("error", err.Error()))
		return
	}
	if b.notifier.Enabled() {
		err := b.notifier.PublishUser(ctx, userID, data)
		if err == nil {
			observability.BusEventsEmitted.WithLabelValues(ev.Type, "redis").Inc()
			return
		}
		observability.RedisErrorRate.WithLabelValues("publish_user").Inc()
		slog.WarnContext(ctx, "event relay failed, delivering locally",
			slog.String("type", ev.Type), slog.Uint64("user_id", uint64(userID)), slog.String("error", err.Error()))
	}
	observability.BusEventsEmitted.WithLabelValues(ev.Type, "local").Inc()
	b.local.DeliverUser(userID, data)
}

// Broadcast sends ev to every connection.
func (b *RelayBus) Broadcast(ctx context.Context, ev Event) {
	data, err := ev.Marshal()
	if err != nil {
		slog.ErrorContext(ctx, "marshal event", slog.String("type", ev.Type), slog.String("error", err.Error()))
		return
	}
	if b.notifier.Enabled() {
		err := b.notifier.PublishBroadcast(ctx, data)
		if err == nil {
			observability.BusEventsEmitted.WithLabelValues(ev.Type, "redis").Inc()
			return
		}
		observability.RedisErrorRate.WithLabelValues("publish_broadcast").Inc()
		slog.WarnContext(ctx, "event relay failed, delivering locally",
			slog.String("type", ev.Type), slog.String("error", err.Error()))
	}
	observability.BusEventsEmitted.WithLabelValues(ev.Type, "local").Inc()
	b.local.DeliverAll(data)
}

// WirePresence broadcasts user_online and user_offline on presence transitions.
func WirePresence(p *Presence, bus Bus) {
	p.OnOnline(func(userID uint) {
		bus.Broadcast(context.Background(), Event{Type: EventUserOnline, Payload: PresencePayload{UserID: userID}})
	})
	p.OnOffline(func(userID uint) {
		bus.Broadcast(context.Background(), Event{Type: EventUserOffline, Payload: PresencePayload{UserID: userID}})
	})
}

var (
	_ Bus = (*Hub)(nil)
	_ Bus = (*RelayBus)(nil)
)
