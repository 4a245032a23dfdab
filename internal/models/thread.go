package models

import "time"

// ThreadNode is one Comment or Reply of a post's thread, stored as a flat row.
// A nil ParentID marks a top-level comment.
type ThreadNode struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	PostID    uint      `gorm:"not null;index" json:"post_id"`
	ParentID  *uint     `gorm:"index" json:"parent_id,omitempty"`
	UserID    uint      `gorm:"not null;index" json:"user_id"`
	Text      string    `gorm:"type:text;not null" json:"text"`
	Likes     int       `gorm:"not null;default:0" json:"likes"`
	CreatedAt time.Time `json:"date"`
	UpdatedAt time.Time `json:"updated_at"`

	Parent *ThreadNode `gorm:"foreignKey:ParentID;constraint:OnDelete:CASCADE" json:"-"`
}

// IsComment reports whether the node is a top-level comment.
func (n *ThreadNode) IsComment() bool {
	return n.ParentID == nil
}

// NodeLike is one member of a thread node's liker set.
type NodeLike struct {
	NodeID    uint      `gorm:"primaryKey;autoIncrement:false" json:"node_id"`
	UserID    uint      `gorm:"primaryKey;autoIncrement:false" json:"user_id"`
	PostID    uint      `gorm:"not null;index" json:"post_id"`
	CreatedAt time.Time `json:"created_at"`
}
