package models

import "time"

// Notification types produced by fan-out.
const (
	NotificationPostLike     = "post_like"
	NotificationPostComment  = "post_comment"
	NotificationCommentReply = "comment_reply"
	NotificationNestedReply  = "nested_reply"
	NotificationCommentLike  = "comment_like"
	NotificationReplyLike    = "reply_like"
	NotificationMessage      = "message"
)

// Correlation holds the ids a notification points back to. Only the ids that
// apply to the notification type are set.
type Correlation struct {
	PostID        *uint `json:"post_id,omitempty"`
	CommentID     *uint `json:"comment_id,omitempty"`
	ReplyID       *uint `json:"reply_id,omitempty"`
	NestedReplyID *uint `json:"nested_reply_id,omitempty"`
	MessageID     *uint `json:"message_id,omitempty"`
}

// Notification is a persisted record of a social interaction aimed at one
// receiver. The correlation ids are flattened into the JSON record, the same
// shape as the pushed notification event.
type Notification struct {
	ID             uint        `gorm:"primaryKey" json:"id"`
	Type           string      `gorm:"not null;size:32" json:"type"`
	SenderID       uint        `gorm:"not null" json:"sender_id"`
	ReceiverID     uint        `gorm:"not null;index:idx_notif_receiver,priority:1" json:"receiver_id"`
	Content        string    `gorm:"not null" json:"content"`
	MessageContent string    `json:"message_content,omitempty"`
	IsImage        bool      `gorm:"not null;default:false" json:"is_image"`
	Read           bool      `gorm:"not null;default:false;index:idx_notif_receiver,priority:2" json:"read"`
	CreatedAt      time.Time `json:"timestamp"`
	Correlation    `gorm:"embedded"`

	SenderName string `gorm:"-" json:"sender_name"`
}

// UintPtr returns a pointer to v, or nil when v is zero.
func UintPtr(v uint) *uint {
	if v == 0 {
		return nil
	}
	return &v
}
