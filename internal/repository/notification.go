package repository

import (
	"context"

	"betelconnect/internal/models"
	"betelconnect/internal/observability"

	"gorm.io/gorm"
)

// NotificationRepository defines persistence operations for notifications.
// Every call is scoped to the receiving user.
type NotificationRepository interface {
	Create(ctx context.Context, n *models.Notification) error
	ListByReceiver(ctx context.Context, receiverID uint) ([]models.Notification, error)
	MarkRead(ctx context.Context, receiverID, id uint) error
	MarkAllRead(ctx context.Context, receiverID uint) (int64, error)
	Delete(ctx context.Context, receiverID, id uint) error
	DeleteAll(ctx context.Context, receiverID uint) (int64, error)
	UnreadCount(ctx context.Context, receiverID uint) (int64, error)
}

type notificationRepository struct {
	db  *gorm.DB
	log *observability.RepoLogger
}

// NewNotificationRepository creates a new NotificationRepository
func NewNotificationRepository(db *gorm.DB) NotificationRepository {
	return &notificationRepository{db: db, log: observability.NewRepoLogger("notifications")}
}

func (r *notificationRepository) Create(ctx context.Context, n *models.Notification) error {
	if err := r.db.WithContext(ctx).Create(n).Error; err != nil {
		r.log.LogError(ctx, err, "create")
		return models.NewInternalError(err)
	}
	r.log.LogCreate(ctx, map[string]any{"id": n.ID, "type": n.Type, "receiver_id": n.ReceiverID})
	return nil
}

// ListByReceiver returns the receiver's notifications newest first.
func (r *notificationRepository) ListByReceiver(ctx context.Context, receiverID uint) ([]models.Notification, error) {
	defer observability.TrackQuery("list", "notifications")()
	var out []models.Notification
	if err := r.db.WithContext(ctx).
		Where("receiver_id = ?", receiverID).
		Order("created_at DESC, id DESC").
		Find(&out).Error; err != nil {
		return nil, models.NewInternalError(err)
	}
	return out, nil
}

func (r *notificationRepository) MarkRead(ctx context.Context, receiverID, id uint) error {
	res := r.db.WithContext(ctx).
		Model(&models.Notification{}).
		Where("id = ? AND receiver_id = ?", id, receiverID).
		UpdateColumn("read", true)
	if res.Error != nil {
		return models.NewInternalError(res.Error)
	}
	if res.RowsAffected == 0 {
		return models.NewNotFoundError("Notification", id)
	}
	return nil
}

func (r *notificationRepository) MarkAllRead(ctx context.Context, receiverID uint) (int64, error) {
	res := r.db.WithContext(ctx).
		Model(&models.Notification{}).
		Where("receiver_id = ? AND read = ?", receiverID, false).
		UpdateColumn("read", true)
	if res.Error != nil {
		return 0, models.NewInternalError(res.Error)
	}
	return res.RowsAffected, nil
}

func (r *notificationRepository) Delete(ctx context.Context, receiverID, id uint) error {
	res := r.db.WithContext(ctx).
		Where("id = ? AND receiver_id = ?", id, receiverID).
		Delete(&models.Notification{})
	if res.Error != nil {
		r.log.LogError(ctx, res.Error, "delete")
		return models.NewInternalError(res.Error)
	}
	if res.RowsAffected == 0 {
		return models.NewNotFoundError("Notification", id)
	}
	r.log.LogDelete(ctx, map[string]any{"id": id})
	return nil
}

func (r *notificationRepository) DeleteAll(ctx context.Context, receiverID uint) (int64, error) {
	res := r.db.WithContext(ctx).
		Where("receiver_id = ?", receiverID).
		Delete(&models.Notification{})
	if res.Error != nil {
		return 0, models.NewInternalError(res.Error)
	}
	r.log.LogDelete(ctx, map[string]any{"receiver_id": receiverID, "count": res.RowsAffected})
	return res.RowsAffected, nil
}

func (r *notificationRepository) UnreadCount(ctx context.Context, receiverID uint) (int64, error) {
	var count int64
	if err := r.db.WithContext(ctx).
		Model(&models.Notification{}).
		Where("receiver_id = ? AND read = ?", receiverID, false).
		Count(&count).Error; err != nil {
		return 0, models.NewInternalError(err)
	}
	return count, nil
}
