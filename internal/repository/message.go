package repository

import (
	"context"

	"betelconnect/internal/models"
	"betelconnect/internal/observability"

	"gorm.io/gorm"
)

// MessageRepository defines persistence operations for direct messages.
type MessageRepository interface {
	Create(ctx context.Context, msg *models.DirectMessage) error
	GetByID(ctx context.Context, id uint) (*models.DirectMessage, error)
	MarkDelivered(ctx context.Context, id uint) error
	UpdateContent(ctx context.Context, msg *models.DirectMessage) error
	Delete(ctx context.Context, id uint) error
	MarkRead(ctx context.Context, senderID, receiverID uint) (int64, error)
	Conversation(ctx context.Context, userID, otherID uint) ([]models.DirectMessage, error)
	LastBetween(ctx context.Context, userID uint, otherIDs []uint) (map[uint]models.DirectMessage, error)
	UnreadCounts(ctx context.Context, receiverID uint) (map[uint]int, error)
}

type messageRepository struct {
	db  *gorm.DB
	log *observability.RepoLogger
}

// NewMessageRepository creates a new MessageRepository
func NewMessageRepository(db *gorm.DB) MessageRepository {
	return &messageRepository{db: db, log: observability.NewRepoLogger("direct_messages")}
}

func (r *messageRepository) Create(ctx context.Context, msg *models.DirectMessage) error {
	defer observability.TrackQuery("create", "direct_messages")()
	if err := r.db.WithContext(ctx).Create(msg).Error; err != nil {
		r.log.LogError(ctx, err, "create")
		return models.NewInternalError(err)
	}
	r.log.LogCreate(ctx, map[string]any{"id": msg.ID, "sender_id": msg.SenderID, "receiver_id": msg.ReceiverID})
	return nil
}

func (r *messageRepository) GetByID(ctx context.Context, id uint) (*models.DirectMessage, error) {
	var msg models.DirectMessage
	if err := r.db.WithContext(ctx).First(&msg, id).Error; err != nil {
		return nil, notFoundOr(err, "Message", id)
	}
	return &msg, nil
}

func (r *messageRepository) MarkDelivered(ctx context.Context, id uint) error {
	err := r.db.WithContext(ctx).
		Model(&models.DirectMessage{}).
		Where("id = ?", id).
		UpdateColumn("delivered", true).Error
	if err != nil {
		return models.NewInternalError(err)
	}
	return nil
}

// UpdateContent writes the content, image flag, public id and updated_at of msg.
func (r *messageRepository) UpdateContent(ctx context.Context, msg *models.DirectMessage) error {
	err := r.db.WithContext(ctx).
		Model(&models.DirectMessage{}).
		Where("id = ?", msg.ID).
		Updates(map[string]any{
			"content":    msg.Content,
			"is_image":   msg.IsImage,
			"public_id":  msg.PublicID,
			"updated_at": msg.UpdatedAt,
		}).Error
	if err != nil {
		r.log.LogError(ctx, err, "update")
		return models.NewInternalError(err)
	}
	r.log.LogUpdate(ctx, map[string]any{"id": msg.ID})
	return nil
}

func (r *messageRepository) Delete(ctx context.Context, id uint) error {
	if err := r.db.WithContext(ctx).Delete(&models.DirectMessage{}, id).Error; err != nil {
		r.log.LogError(ctx, err, "delete")
		return models.NewInternalError(err)
	}
	r.log.LogDelete(ctx, map[string]any{"id": id})
	return nil
}

// MarkRead flags every unread senderID -> receiverID message as read and
// returns how many changed. delivered is left as it is.
func (r *messageRepository) MarkRead(ctx context.Context, senderID, receiverID uint) (int64, error) {
	res := r.db.WithContext(ctx).
		Model(&models.DirectMessage{}).
		Where("sender_id = ? AND receiver_id = ? AND read = ?", senderID, receiverID, false).
		UpdateColumn("read", true)
	if res.Error != nil {
		return 0, models.NewInternalError(res.Error)
	}
	return res.RowsAffected, nil
}

func (r *messageRepository) Conversation(ctx context.Context, userID, otherID uint) ([]models.DirectMessage, error) {
	defer observability.TrackQuery("list", "direct_messages")()
	var msgs []models.DirectMessage
	if err := r.db.WithContext(ctx).
		Where("(sender_id = ? AND receiver_id = ?) OR (sender_id = ? AND receiver_id = ?)",
			userID, otherID, otherID, userID).
		Order("created_at ASC, id ASC").
		Find(&msgs).Error; err != nil {
		return nil, models.NewInternalError(err)
	}
	return msgs, nil
}

// LastBetween returns, per counterpart in otherIDs, the newest message
// exchanged with userID. Counterparts without messages are absent.
func (r *messageRepository) LastBetween(ctx context.Context, userID uint, otherIDs []uint) (map[uint]models.DirectMessage, error) {
	out := make(map[uint]models.DirectMessage, len(otherIDs))
	if len(otherIDs) == 0 {
		return out, nil
	}
	defer observability.TrackQuery("last", "direct_messages")()
	// newest row per direction; at most two rows per counterpart come back
	latest := r.db.WithContext(ctx).
		Model(&models.DirectMessage{}).
		Select("MAX(id)").
		Where("(sender_id = ? AND receiver_id IN ?) OR (receiver_id = ? AND sender_id IN ?)",
			userID, otherIDs, userID, otherIDs).
		Group("sender_id, receiver_id")

	var msgs []models.DirectMessage
	if err := r.db.WithContext(ctx).
		Where("id IN (?)", latest).
		Order("created_at DESC, id DESC").
		Find(&msgs).Error; err != nil {
		return nil, models.NewInternalError(err)
	}
	for _, m := range msgs {
		other := m.Counterpart(userID)
		if _, seen := out[other]; !seen {
			out[other] = m
		}
	}
	return out, nil
}

// UnreadCounts returns the number of unread messages to receiverID per sender.
func (r *messageRepository) UnreadCounts(ctx context.Context, receiverID uint) (map[uint]int, error) {
	var rows []struct {
		SenderID uint
		Count    int
	}
	if err := r.db.WithContext(ctx).
		Model(&models.DirectMessage{}).
		Select("sender_id, COUNT(*) AS count").
		Where("receiver_id = ? AND read = ?", receiverID, false).
		Group("sender_id").
		Scan(&rows).Error; err != nil {
		return nil, models.NewInternalError(err)
	}
	out := make(map[uint]int, len(rows))
	for _, row := range rows {
		out[row.SenderID] = row.Count
	}
	return out, nil
}

