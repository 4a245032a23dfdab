// Package notifications delivers real-time events to websocket clients: user
// rooms, presence, and the Redis relay between processes.
package notifications

import (
	"context"
	"encoding/json"
	"time"

	"betelconnect/internal/models"
)

// Event names on the wire.
const (
	EventJoin          = "join"
	EventJoinForum     = "join_forum"
	EventUserOnline    = "user_online"
	EventUserOffline   = "user_offline"
	EventOnlineUsers   = "online_users"
	EventTyping        = "typing"
	EventStopTyping    = "stop_typing"
	EventSendMessage   = "send_message"
	EventUpdateMessage = "update_message"
	EventDeleteMessage = "delete_message"
	EventMarkRead      = "mark_read"

	EventMessage          = "message"
	EventMessageDelivered = "message_delivered"
	EventMessagesRead     = "messages_read"
	EventMessageUpdated   = "message_updated"
	EventMessageDeleted   = "message_deleted"
	EventUpdateUserList   = "update_user_list"
	EventNotification     = "notification"

	EventNewPost         = "new_post"
	EventUpdatePost      = "update_post"
	EventDeletePost      = "delete_post"
	EventUpdatePostLikes = "update_post_likes"

	EventNewComment         = "new_comment"
	EventNewReply           = "new_reply"
	EventNewNestedReply     = "new_nested_reply"
	EventUpdateComment      = "update_comment"
	EventUpdateReply        = "update_reply"
	EventDeleteComment      = "delete_comment"
	EventDeleteReply        = "delete_reply"
	EventUpdateCommentLikes = "update_comment_likes"
	EventUpdateReplyLikes   = "update_reply_likes"

	EventError           = "error"
	EventMessagesDropped = "messages_dropped"
)

// Event is one real-time push. It is marshalled as {"type": ..., "payload": ...}.
type Event struct {
	Type    string `json:"type"`
	Payload any    `json:"payload"`
}

// Marshal encodes the event for the wire.
func (e Event) Marshal() ([]byte, error) {
	return json.Marshal(e)
}

// Bus routes events to user rooms or to everyone.
type Bus interface {
	EmitToUser(ctx context.Context, userID uint, ev Event)
	Broadcast(ctx context.Context, ev Event)
}

// PresencePayload carries user_online and user_offline.
type PresencePayload struct {
	UserID uint `json:"user_id"`
}

// OnlineUsersPayload is the snapshot sent to a connection after it joins.
type OnlineUsersPayload struct {
	UserIDs []uint `json:"user_ids"`
}

// TypingPayload carries typing and stop_typing.
type TypingPayload struct {
	SenderID uint `json:"sender_id"`
}

// MessagePayload is the live form of a direct message.
type MessagePayload struct {
	MessageID  uint      `json:"message_id"`
	SenderID   uint      `json:"sender_id"`
	ReceiverID uint      `json:"receiver_id"`
	Content    string    `json:"content"`
	Timestamp  time.Time `json:"timestamp"`
	Delivered  bool      `json:"delivered"`
	Read       bool      `json:"read"`
	IsImage    bool      `json:"is_image"`
}

// NewMessagePayload builds the payload from a stored message.
func NewMessagePayload(m *models.DirectMessage) MessagePayload {
	return MessagePayload{
		MessageID:  m.ID,
		SenderID:   m.SenderID,
		ReceiverID: m.ReceiverID,
		Content:    m.Content,
		Timestamp:  m.CreatedAt,
		Delivered:  m.Delivered,
		Read:       m.Read,
		IsImage:    m.IsImage,
	}
}

// DeliveredPayload carries message_delivered.
type DeliveredPayload struct {
	MessageID  uint `json:"message_id"`
	SenderID   uint `json:"sender_id"`
	ReceiverID uint `json:"receiver_id"`
}

// ReadReceiptPayload carries messages_read. SenderID names the counterpart
// whose messages were read from the point of view of the room's owner.
type ReadReceiptPayload struct {
	SenderID uint `json:"sender_id"`
}

// MessageUpdatedPayload carries message_updated.
type MessageUpdatedPayload struct {
	MessageID uint   `json:"message_id"`
	Content   string `json:"content"`
	IsImage   bool   `json:"is_image"`
}

// MessageDeletedPayload carries message_deleted.
type MessageDeletedPayload struct {
	MessageID uint `json:"message_id"`
}

// UserListPayload carries update_user_list.
type UserListPayload struct {
	UserID          uint      `json:"user_id"`
	LastMessage     string    `json:"last_message"`
	LastMessageTime time.Time `json:"last_message_time"`
}

// NotificationPayload carries notification. Its keys match the pulled
// models.Notification record.
type NotificationPayload struct {
	ID         uint   `json:"id"`
	Type       string `json:"type"`
	SenderID   uint   `json:"sender_id"`
	SenderName string `json:"sender_name"`
	ReceiverID uint   `json:"receiver_id"`
	Content    string `json:"content"`
	// MessageContent is the preview of a direct message for type "message".
	MessageContent string    `json:"message_content,omitempty"`
	IsImage        bool      `json:"is_image"`
	Read           bool      `json:"read"`
	Timestamp      time.Time `json:"timestamp"`
	models.Correlation
}

// PostDeletedPayload carries delete_post.
type PostDeletedPayload struct {
	PostID uint `json:"post_id"`
}

// PostLikesPayload carries update_post_likes.
type PostLikesPayload struct {
	PostID  uint   `json:"post_id"`
	Likes   int    `json:"likes"`
	LikedBy []uint `json:"liked_by"`
}

// NewCommentPayload carries new_comment. Comment is the rendered node view.
type NewCommentPayload struct {
	PostID        uint `json:"post_id"`
	Comment       any  `json:"comment"`
	CommentsCount int  `json:"comments_count"`
}

// NewReplyPayload carries new_reply.
type NewReplyPayload struct {
	PostID        uint `json:"post_id"`
	CommentID     uint `json:"comment_id"`
	Reply         any  `json:"reply"`
	TotalComments int  `json:"total_comments"`
}

// NewNestedReplyPayload carries new_nested_reply.
type NewNestedReplyPayload struct {
	PostID        uint `json:"post_id"`
	ReplyID       uint `json:"reply_id"`
	NestedReply   any  `json:"nested_reply"`
	TotalComments int  `json:"total_comments"`
}

// NodeUpdatedPayload carries update_comment and update_reply. Exactly one of
// CommentID and ReplyID is set.
type NodeUpdatedPayload struct {
	PostID    uint      `json:"post_id"`
	CommentID uint      `json:"comment_id,omitempty"`
	ReplyID   uint      `json:"reply_id,omitempty"`
	Text      string    `json:"text"`
	Date      time.Time `json:"date"`
}

// NodeDeletedPayload carries delete_comment and delete_reply.
type NodeDeletedPayload struct {
	PostID        uint   `json:"post_id"`
	ID            uint   `json:"id"`
	RemovedIDs    []uint `json:"removed_ids"`
	CommentsCount int    `json:"comments_count"`
}

// NodeLikesPayload carries update_comment_likes and update_reply_likes.
type NodeLikesPayload struct {
	PostID  uint   `json:"post_id"`
	ID      uint   `json:"id"`
	Likes   int    `json:"likes"`
	LikedBy []uint `json:"liked_by"`
}

// ErrorPayload is sent to the calling connection when an inbound event fails.
type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}
