package service

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"betelconnect/internal/cache"
	"betelconnect/internal/middleware"
	"betelconnect/internal/models"
	"betelconnect/internal/notifications"
	"betelconnect/internal/observability"
	"betelconnect/internal/repository"

	"go.opentelemetry.io/otel/attribute"
)

const (
	imagePreview      = "[Image]"
	previewMaxRunes   = 30
	typingLimit       = 20
	typingLimitWindow = 10 * time.Second
)

// Contact types accepted by Contacts.
const (
	ContactsFarmers  = "farmers"
	ContactsOfficers = "officers"
)

// PresenceView answers liveness questions about users.
type PresenceView interface {
	IsOnline(userID uint) bool
	LastSeen(ctx context.Context, userID uint) (time.Time, bool)
}

// RateLimiter is a fixed-window limiter keyed by resource and caller.
type RateLimiter interface {
	Allow(ctx context.Context, resource, id string, limit int, window time.Duration) (bool, error)
}

// Contact is one entry of the messaging user list.
type Contact struct {
	DirectoryEntry
	LastMessage     string     `json:"last_message"`
	LastMessageTime *time.Time `json:"last_message_time"`
	UnreadCount     int        `json:"unread_count"`
	Online          bool       `json:"online"`
	LastSeen        *time.Time `json:"last_seen,omitempty"`
}

type MessageService struct {
	messages repository.MessageRepository
	users    repository.UserRepository
	dir      Directory
	blobs    BlobStore
	notifier Notifier
	bus      notifications.Bus
	presence PresenceView
	limiter  RateLimiter
	now      func() time.Time
}

func NewMessageService(
	messages repository.MessageRepository,
	users repository.UserRepository,
	dir Directory,
	blobs BlobStore,
	notifier Notifier,
	bus notifications.Bus,
	presence PresenceView,
	limiter RateLimiter,
) *MessageService {
	return &MessageService{
		messages: messages,
		users:    users,
		dir:      dir,
		blobs:    blobs,
		notifier: notifier,
		bus:      bus,
		presence: presence,
		limiter:  limiter,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// preview is the short form of a message shown in lists and notifications.
func preview(m *models.DirectMessage) string {
	if m.IsImage {
		return imagePreview
	}
	return m.Content
}

func truncatePreview(s string) string {
	if utf8.RuneCountInString(s) <= previewMaxRunes {
		return s
	}
	return string([]rune(s)[:previewMaxRunes]) + "..."
}

// Send stores a direct message and pushes it to both participants. An image
// data URI is uploaded first; nothing is stored when the upload fails.
func (s *MessageService) Send(ctx context.Context, senderID, receiverID uint, content string) (msg *models.DirectMessage, err error) {
	span, ctx := observability.NewSpan(ctx, "message.send")
	defer func() {
		span.SetError(err)
		span.End()
	}()
	span.AddAttributes(attribute.Int64("message.sender_id", int64(senderID)), attribute.Int64("message.receiver_id", int64(receiverID)))

	if senderID == receiverID {
		return nil, models.NewValidationError("Cannot send a message to yourself")
	}
	if strings.TrimSpace(content) == "" {
		return nil, models.NewValidationError("Content is required")
	}
	if _, err := s.dir.GetByID(ctx, receiverID); err != nil {
		return nil, err
	}

	msg = &models.DirectMessage{SenderID: senderID, ReceiverID: receiverID, Content: content}
	if IsImageDataURI(content) {
		asset, err := upload(ctx, s.blobs, UploadInput{DataURI: content, Folder: FolderMessages})
		if err != nil {
			return nil, err
		}
		msg.Content, msg.IsImage, msg.PublicID = asset.URL, true, &asset.PublicID
	}
	if err := s.messages.Create(ctx, msg); err != nil {
		if msg.PublicID != nil {
			releaseBlob(ctx, s.blobs, *msg.PublicID)
		}
		return nil, err
	}

	last := preview(msg)
	s.bus.EmitToUser(ctx, senderID, notifications.Event{Type: notifications.EventUpdateUserList, Payload: notifications.UserListPayload{
		UserID: receiverID, LastMessage: last, LastMessageTime: msg.CreatedAt,
	}})
	s.bus.EmitToUser(ctx, receiverID, notifications.Event{Type: notifications.EventUpdateUserList, Payload: notifications.UserListPayload{
		UserID: senderID, LastMessage: last, LastMessageTime: msg.CreatedAt,
	}})
	s.bus.EmitToUser(ctx, senderID, notifications.Event{Type: notifications.EventMessage, Payload: notifications.NewMessagePayload(msg)})

	if s.presence.IsOnline(receiverID) {
		if err := s.messages.MarkDelivered(ctx, msg.ID); err != nil {
			middleware.Logger.WarnContext(ctx, "mark delivered failed",
				slog.Uint64("message_id", uint64(msg.ID)), slog.String("error", err.Error()))
		} else {
			msg.Delivered = true
			s.bus.EmitToUser(ctx, senderID, notifications.Event{Type: notifications.EventMessageDelivered, Payload: notifications.DeliveredPayload{
				MessageID: msg.ID, SenderID: senderID, ReceiverID: receiverID,
			}})
		}
	}
	s.bus.EmitToUser(ctx, receiverID, notifications.Event{Type: notifications.EventMessage, Payload: notifications.NewMessagePayload(msg)})
	span.AddAttributes(attribute.Bool("message.delivered", msg.Delivered), attribute.Bool("message.is_image", msg.IsImage))

	notifyLogged(ctx, s.notifier, NotifyInput{
		Type:           models.NotificationMessage,
		SenderID:       senderID,
		ReceiverID:     receiverID,
		Correlation:    models.Correlation{MessageID: models.UintPtr(msg.ID)},
		Content:        fmt.Sprintf("%s sent you a message", displayEntry(ctx, s.dir, senderID).Name),
		MessageContent: last,
		IsImage:        msg.IsImage,
	})
	return msg, nil
}

// Edit replaces the content of a message written by requesterID. A message
// that no longer exists is ignored and (nil, nil) is returned.
func (s *MessageService) Edit(ctx context.Context, messageID, requesterID uint, content string) (*models.DirectMessage, error) {
	if strings.TrimSpace(content) == "" {
		return nil, models.NewValidationError("Content is required")
	}
	msg, err := s.messages.GetByID(ctx, messageID)
	if models.IsCode(err, models.CodeNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if msg.SenderID != requesterID {
		return nil, models.NewForbiddenError("You can only edit your own messages")
	}

	oldPublicID := ""
	if msg.IsImage && msg.PublicID != nil {
		oldPublicID = *msg.PublicID
	}
	if IsImageDataURI(content) {
		asset, err := upload(ctx, s.blobs, UploadInput{DataURI: content, Folder: FolderMessages})
		if err != nil {
			return nil, err
		}
		msg.Content, msg.IsImage, msg.PublicID = asset.URL, true, &asset.PublicID
	} else {
		msg.Content, msg.IsImage, msg.PublicID = content, false, nil
	}
	now := s.now()
	msg.UpdatedAt = &now

	if err := s.messages.UpdateContent(ctx, msg); err != nil {
		return nil, err
	}
	releaseBlob(ctx, s.blobs, oldPublicID)

	ev := notifications.Event{Type: notifications.EventMessageUpdated, Payload: notifications.MessageUpdatedPayload{
		MessageID: msg.ID, Content: msg.Content, IsImage: msg.IsImage,
	}}
	s.bus.EmitToUser(ctx, msg.SenderID, ev)
	s.bus.EmitToUser(ctx, msg.ReceiverID, ev)
	return msg, nil
}

// Delete removes a message written by requesterID and releases its image.
func (s *MessageService) Delete(ctx context.Context, messageID, requesterID uint) error {
	msg, err := s.messages.GetByID(ctx, messageID)
	if err != nil {
		return err
	}
	if msg.SenderID != requesterID {
		return models.NewForbiddenError("You can only delete your own messages")
	}
	if err := s.messages.Delete(ctx, messageID); err != nil {
		return err
	}
	if msg.PublicID != nil {
		releaseBlob(ctx, s.blobs, *msg.PublicID)
	}

	ev := notifications.Event{Type: notifications.EventMessageDeleted, Payload: notifications.MessageDeletedPayload{MessageID: messageID}}
	s.bus.EmitToUser(ctx, msg.SenderID, ev)
	s.bus.EmitToUser(ctx, msg.ReceiverID, ev)
	return nil
}

// MarkRead marks everything senderID sent to receiverID as read and tells
// both sides.
func (s *MessageService) MarkRead(ctx context.Context, receiverID, senderID uint) (int64, error) {
	if receiverID == 0 || senderID == 0 {
		return 0, models.NewValidationError("Both participants are required")
	}
	n, err := s.messages.MarkRead(ctx, senderID, receiverID)
	if err != nil {
		return 0, err
	}
	s.bus.EmitToUser(ctx, receiverID, notifications.Event{Type: notifications.EventMessagesRead, Payload: notifications.ReadReceiptPayload{SenderID: senderID}})
	s.bus.EmitToUser(ctx, senderID, notifications.Event{Type: notifications.EventMessagesRead, Payload: notifications.ReadReceiptPayload{SenderID: receiverID}})
	return n, nil
}

// Conversation returns the messages between two users, oldest first.
func (s *MessageService) Conversation(ctx context.Context, userID, otherID uint) ([]models.DirectMessage, error) {
	return s.messages.Conversation(ctx, userID, otherID)
}

// Contacts lists farmers or officers with their last message, unread count
// and liveness relative to userID.
func (s *MessageService) Contacts(ctx context.Context, userID uint, contactType string) ([]Contact, error) {
	role := models.RoleOfficer
	if contactType == ContactsFarmers {
		role = models.RoleFarmer
	}
	users, err := s.users.ListByRole(ctx, role, userID)
	if err != nil {
		return nil, err
	}
	ids := make([]uint, 0, len(users))
	for _, u := range users {
		ids = append(ids, u.ID)
	}
	last, err := s.messages.LastBetween(ctx, userID, ids)
	if err != nil {
		return nil, err
	}
	unread, err := s.messages.UnreadCounts(ctx, userID)
	if err != nil {
		return nil, err
	}

	out := make([]Contact, 0, len(users))
	for i := range users {
		u := &users[i]
		c := Contact{
			DirectoryEntry: EntryFor(u),
			UnreadCount:    unread[u.ID],
			Online:         s.presence.IsOnline(u.ID),
		}
		if m, ok := last[u.ID]; ok {
			c.LastMessage = truncatePreview(preview(&m))
			t := m.CreatedAt
			c.LastMessageTime = &t
		}
		if !c.Online {
			if seen, ok := s.presence.LastSeen(ctx, u.ID); ok {
				c.LastSeen = &seen
			}
		}
		out = append(out, c)
	}
	return out, nil
}

// Typing tells receiverID that senderID is typing.
func (s *MessageService) Typing(ctx context.Context, senderID, receiverID uint) {
	s.typing(ctx, notifications.EventTyping, senderID, receiverID)
}

// StopTyping tells receiverID that senderID stopped typing.
func (s *MessageService) StopTyping(ctx context.Context, senderID, receiverID uint) {
	s.typing(ctx, notifications.EventStopTyping, senderID, receiverID)
}

func (s *MessageService) typing(ctx context.Context, evType string, senderID, receiverID uint) {
	if receiverID == 0 || senderID == receiverID {
		return
	}
	if s.limiter != nil {
		ok, err := s.limiter.Allow(ctx, "ws", cache.TypingKey(senderID, receiverID), typingLimit, typingLimitWindow)
		if err != nil {
			middleware.Logger.WarnContext(ctx, "typing rate limit check failed", slog.String("error", err.Error()))
		} else if !ok {
			return
		}
	}
	s.bus.EmitToUser(ctx, receiverID, notifications.Event{Type: evType, Payload: notifications.TypingPayload{SenderID: senderID}})
}
