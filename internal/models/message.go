package models

import "time"

// DirectMessage is a one-to-one message between two users.
type DirectMessage struct {
	ID         uint       `gorm:"primaryKey" json:"message_id"`
	SenderID   uint       `gorm:"not null;index:idx_dm_pair,priority:1" json:"sender_id"`
	ReceiverID uint       `gorm:"not null;index:idx_dm_pair,priority:2" json:"receiver_id"`
	Content    string     `gorm:"type:text;not null" json:"content"`
	IsImage    bool       `gorm:"not null;default:false" json:"is_image"`
	PublicID   *string    `json:"-"`
	Delivered  bool       `gorm:"not null;default:false" json:"delivered"`
	Read       bool       `gorm:"not null;default:false;index" json:"read"`
	CreatedAt  time.Time  `gorm:"index" json:"timestamp"`
	UpdatedAt  *time.Time `gorm:"autoUpdateTime:false" json:"updated_at,omitempty"`
}

// Counterpart returns the other participant of the message relative to userID.
func (m *DirectMessage) Counterpart(userID uint) uint {
	if m.SenderID == userID {
		return m.ReceiverID
	}
	return m.SenderID
}
