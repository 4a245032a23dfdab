package models

import (
	"time"
)

// Post is a community forum post. Its comment/reply forest lives in thread_nodes.
type Post struct {
	ID            uint      `gorm:"primaryKey" json:"id"`
	Title         string    `gorm:"not null" json:"title"`
	Description   string    `gorm:"type:text;not null" json:"description"`
	UserID        uint      `gorm:"not null;index" json:"user_id"`
	Image         string    `json:"image"`
	ImagePublicID string    `json:"-"`
	Likes         int       `gorm:"not null;default:0" json:"likes"`
	CreatedAt     time.Time `gorm:"index" json:"date"`
	UpdatedAt     time.Time `json:"updated_at"`
	// CommentsCount is not persisted; computed at query time
	CommentsCount int `gorm:"->;-:migration" json:"total_comments"`
}

// PostLike is one member of a post's liker set.
type PostLike struct {
	PostID    uint      `gorm:"primaryKey;autoIncrement:false" json:"post_id"`
	UserID    uint      `gorm:"primaryKey;autoIncrement:false" json:"user_id"`
	CreatedAt time.Time `json:"created_at"`
}
