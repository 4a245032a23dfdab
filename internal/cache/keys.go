package cache

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const (
	wsTicketPrefix = "ws_ticket:"
	// WSTicketTTL bounds how long an issued websocket ticket stays redeemable.
	WSTicketTTL = 30 * time.Second
)

// ErrTicketInvalid is returned when a ticket is unknown, expired or already used.
var ErrTicketInvalid = errors.New("invalid or expired websocket ticket")

// WSTicketKey derives the Redis key for a websocket ticket.
func WSTicketKey(ticket string) string {
	return wsTicketPrefix + ticket
}

// TypingKey derives the rate-limit resource for typing indicators.
func TypingKey(senderID, receiverID uint) string {
	return fmt.Sprintf("typing:%d:%d", senderID, receiverID)
}

// IssueWSTicket stores a fresh single-use ticket for userID.
func IssueWSTicket(ctx context.Context, rdb *redis.Client, userID uint) (string, error) {
	if rdb == nil {
		return "", errors.New("redis unavailable")
	}
	ticket := uuid.NewString()
	if err := rdb.Set(ctx, WSTicketKey(ticket), strconv.FormatUint(uint64(userID), 10), WSTicketTTL).Err(); err != nil {
		return "", fmt.Errorf("store ws ticket: %w", err)
	}
	return ticket, nil
}

// ConsumeWSTicket redeems ticket atomically and returns its user id.
func ConsumeWSTicket(ctx context.Context, rdb *redis.Client, ticket string) (uint, error) {
	if rdb == nil || ticket == "" {
		return 0, ErrTicketInvalid
	}
	raw, err := rdb.GetDel(ctx, WSTicketKey(ticket)).Result()
	if errors.Is(err, redis.Nil) {
		return 0, ErrTicketInvalid
	}
	if err != nil {
		return 0, fmt.Errorf("redeem ws ticket: %w", err)
	}
	id, err := strconv.ParseUint(raw, 10, 64)
	if err != nil || id == 0 {
		return 0, ErrTicketInvalid
	}
	return uint(id), nil
}
