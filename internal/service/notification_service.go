package service

import (
	"context"
	"log/slog"

	"betelconnect/internal/middleware"
	"betelconnect/internal/models"
	"betelconnect/internal/notifications"
	"betelconnect/internal/observability"
	"betelconnect/internal/repository"
)

// NotifyInput describes one interaction to record and push.
type NotifyInput struct {
	Type           string
	SenderID       uint
	ReceiverID     uint
	Correlation    models.Correlation
	Content        string
	MessageContent string
	IsImage        bool
}

// Notifier records a notification and pushes it to the receiver.
type Notifier interface {
	Notify(ctx context.Context, in NotifyInput) (*models.Notification, error)
}

type NotificationService struct {
	repo repository.NotificationRepository
	dir  Directory
	bus  notifications.Bus
}

var _ Notifier = (*NotificationService)(nil)

func NewNotificationService(repo repository.NotificationRepository, dir Directory, bus notifications.Bus) *NotificationService {
	return &NotificationService{repo: repo, dir: dir, bus: bus}
}

// Notify persists the notification and emits it to the receiver's room. Only
// a persistence failure is returned.
func (s *NotificationService) Notify(ctx context.Context, in NotifyInput) (*models.Notification, error) {
	n := &models.Notification{
		Type:           in.Type,
		SenderID:       in.SenderID,
		ReceiverID:     in.ReceiverID,
		Correlation:    in.Correlation,
		Content:        in.Content,
		MessageContent: in.MessageContent,
		IsImage:        in.IsImage,
	}
	if err := s.repo.Create(ctx, n); err != nil {
		return nil, err
	}
	observability.NotificationsCreated.WithLabelValues(in.Type).Inc()

	if sender, err := s.dir.GetByID(ctx, in.SenderID); err != nil {
		middleware.Logger.WarnContext(ctx, "notification sender lookup failed",
			slog.Uint64("sender_id", uint64(in.SenderID)), slog.String("error", err.Error()))
	} else {
		n.SenderName = sender.Name
	}

	s.bus.EmitToUser(ctx, in.ReceiverID, notifications.Event{
		Type: notifications.EventNotification,
		Payload: notifications.NotificationPayload{
			ID:             n.ID,
			Type:           n.Type,
			SenderID:       n.SenderID,
			SenderName:     n.SenderName,
			ReceiverID:     n.ReceiverID,
			Content:        n.Content,
			MessageContent: n.MessageContent,
			IsImage:        n.IsImage,
			Read:           n.Read,
			Timestamp:      n.CreatedAt,
			Correlation:    n.Correlation,
		},
	})
	return n, nil
}

// List returns the receiver's notifications newest first with sender names.
func (s *NotificationService) List(ctx context.Context, receiverID uint) ([]models.Notification, error) {
	list, err := s.repo.ListByReceiver(ctx, receiverID)
	if err != nil {
		return nil, err
	}
	for i := range list {
		list[i].SenderName = displayEntry(ctx, s.dir, list[i].SenderID).Name
	}
	return list, nil
}

func (s *NotificationService) MarkRead(ctx context.Context, receiverID, id uint) error {
	return s.repo.MarkRead(ctx, receiverID, id)
}

func (s *NotificationService) MarkAllRead(ctx context.Context, receiverID uint) (int64, error) {
	return s.repo.MarkAllRead(ctx, receiverID)
}

func (s *NotificationService) Delete(ctx context.Context, receiverID, id uint) error {
	return s.repo.Delete(ctx, receiverID, id)
}

func (s *NotificationService) Clear(ctx context.Context, receiverID uint) (int64, error) {
	return s.repo.DeleteAll(ctx, receiverID)
}

func (s *NotificationService) UnreadCount(ctx context.Context, receiverID uint) (int64, error) {
	return s.repo.UnreadCount(ctx, receiverID)
}
