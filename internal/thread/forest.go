// Package thread holds the in-memory comment/reply forest of a single post.
//
// A Forest is an arena: every node is indexed by id and carries its parent id
// and an ordered list of child ids. All operations address nodes by id
// regardless of depth, and all of them go through the single Walk visitor.
package thread

import (
	"errors"
	"sort"
	"time"

	"betelconnect/internal/models"
)

var (
	// ErrNodeNotFound is returned when no comment or reply matches an id.
	ErrNodeNotFound = errors.New("thread node not found")
	// ErrNotAuthor is returned when a requester tries to mutate a node they did not write.
	ErrNotAuthor = errors.New("requester is not the author of this node")
	// ErrDuplicateNode is returned when an inserted node reuses an existing id.
	ErrDuplicateNode = errors.New("thread node id already present")
)

// Node is a Comment (no parent) or a Reply at any depth.
type Node struct {
	ID        uint
	ParentID  uint // zero for a top-level comment
	AuthorID  uint
	Text      string
	CreatedAt time.Time
	UpdatedAt time.Time
	Likes     int
	LikedBy   map[uint]struct{}
	Children  []uint
}

// IsComment reports whether the node is a top-level comment.
func (n *Node) IsComment() bool { return n.ParentID == 0 }

// Likers returns the liker ids in ascending order.
func (n *Node) Likers() []uint {
	ids := make([]uint, 0, len(n.LikedBy))
	for id := range n.LikedBy {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// WalkAction tells Walk how to proceed after visiting a node.
type WalkAction int

const (
	// Continue descends into the node's children.
	Continue WalkAction = iota
	// SkipChildren moves on to the next sibling.
	SkipChildren
	// Stop ends the walk.
	Stop
)

// Forest is the arena of one post's thread.
type Forest struct {
	PostID uint
	roots  []uint
	nodes  map[uint]*Node
}

// New returns an empty forest for postID.
func New(postID uint) *Forest {
	return &Forest{PostID: postID, nodes: make(map[uint]*Node)}
}

// Build assembles a forest from flat rows and their liker sets. Rows whose
// parent is missing are dropped along with their descendants. Children are
// ordered by creation time, then id.
func Build(postID uint, rows []models.ThreadNode, likers map[uint][]uint) *Forest {
	f := New(postID)

	sorted := make([]models.ThreadNode, len(rows))
	copy(sorted, rows)
	sort.SliceStable(sorted, func(i, j int) bool {
		if sorted[i].CreatedAt.Equal(sorted[j].CreatedAt) {
			return sorted[i].ID < sorted[j].ID
		}
		return sorted[i].CreatedAt.Before(sorted[j].CreatedAt)
	})

	for i := range sorted {
		row := &sorted[i]
		n := &Node{
			ID:        row.ID,
			AuthorID:  row.UserID,
			Text:      row.Text,
			CreatedAt: row.CreatedAt,
			UpdatedAt: row.UpdatedAt,
			LikedBy:   make(map[uint]struct{}),
		}
		if row.ParentID != nil {
			n.ParentID = *row.ParentID
		}
		for _, uid := range likers[row.ID] {
			n.LikedBy[uid] = struct{}{}
		}
		n.Likes = len(n.LikedBy)
		f.nodes[n.ID] = n
	}

	for i := range sorted {
		n := f.nodes[sorted[i].ID]
		if n.ParentID == 0 {
			f.roots = append(f.roots, n.ID)
			continue
		}
		if parent, ok := f.nodes[n.ParentID]; ok {
			parent.Children = append(parent.Children, n.ID)
		}
	}

	// Orphans are unreachable from the roots; forget them so Len matches Walk.
	reachable := make(map[uint]struct{}, len(f.nodes))
	f.Walk(func(n *Node, _ int) WalkAction {
		reachable[n.ID] = struct{}{}
		return Continue
	})
	for id := range f.nodes {
		if _, ok := reachable[id]; !ok {
			delete(f.nodes, id)
		}
	}

	return f
}

// Roots returns the top-level comment ids in order.
func (f *Forest) Roots() []uint {
	out := make([]uint, len(f.roots))
	copy(out, f.roots)
	return out
}

// Node returns the node with id without walking. It is the arena lookup that
// backs Find.
func (f *Forest) Node(id uint) (*Node, bool) {
	n, ok := f.nodes[id]
	return n, ok
}

// Walk visits every node depth-first in thread order. visit receives the node
// and its depth (0 for comments).
func (f *Forest) Walk(visit func(n *Node, depth int) WalkAction) {
	f.walkFrom(f.roots, 0, visit)
}

func (f *Forest) walkFrom(ids []uint, depth int, visit func(n *Node, depth int) WalkAction) bool {
	for _, id := range ids {
		n, ok := f.nodes[id]
		if !ok {
			continue
		}
		switch visit(n, depth) {
		case Stop:
			return false
		case SkipChildren:
			continue
		}
		if !f.walkFrom(n.Children, depth+1, visit) {
			return false
		}
	}
	return true
}

// Find performs a depth-first search for targetID.
func (f *Forest) Find(targetID uint) (*Node, error) {
	var found *Node
	f.Walk(func(n *Node, _ int) WalkAction {
		if n.ID == targetID {
			found = n
			return Stop
		}
		return Continue
	})
	if found == nil {
		return nil, ErrNodeNotFound
	}
	return found, nil
}

// InsertReply appends reply to the children of parentID. A zero parentID
// appends a top-level comment.
func (f *Forest) InsertReply(parentID uint, reply *Node) error {
	if _, exists := f.nodes[reply.ID]; exists {
		return ErrDuplicateNode
	}
	if reply.LikedBy == nil {
		reply.LikedBy = make(map[uint]struct{})
	}
	reply.Likes = len(reply.LikedBy)

	if parentID == 0 {
		reply.ParentID = 0
		f.roots = append(f.roots, reply.ID)
		f.nodes[reply.ID] = reply
		return nil
	}

	parent, err := f.Find(parentID)
	if err != nil {
		return err
	}
	reply.ParentID = parent.ID
	parent.Children = append(parent.Children, reply.ID)
	f.nodes[reply.ID] = reply
	return nil
}

// UpdateText replaces the text of targetID if requesterID wrote it.
func (f *Forest) UpdateText(targetID uint, text string, requesterID uint, now time.Time) (*Node, error) {
	n, err := f.Find(targetID)
	if err != nil {
		return nil, err
	}
	if n.AuthorID != requesterID {
		return nil, ErrNotAuthor
	}
	n.Text = text
	n.UpdatedAt = now
	return n, nil
}

// DeleteNode excises targetID and its whole subtree if requesterID wrote it.
// It returns the removed ids, target first.
func (f *Forest) DeleteNode(targetID, requesterID uint) ([]uint, error) {
	n, err := f.Find(targetID)
	if err != nil {
		return nil, err
	}
	if n.AuthorID != requesterID {
		return nil, ErrNotAuthor
	}

	var removed []uint
	f.walkFrom([]uint{targetID}, 0, func(d *Node, _ int) WalkAction {
		removed = append(removed, d.ID)
		return Continue
	})

	if n.ParentID == 0 {
		f.roots = without(f.roots, targetID)
	} else if parent, ok := f.nodes[n.ParentID]; ok {
		parent.Children = without(parent.Children, targetID)
	}
	for _, id := range removed {
		delete(f.nodes, id)
	}
	return removed, nil
}

// ToggleLike flips userID's membership in the liker set of targetID and returns
// the new count and whether the user now likes the node.
func (f *Forest) ToggleLike(targetID, userID uint) (*Node, int, bool, error) {
	n, err := f.Find(targetID)
	if err != nil {
		return nil, 0, false, err
	}
	_, liked := n.LikedBy[userID]
	if liked {
		delete(n.LikedBy, userID)
	} else {
		n.LikedBy[userID] = struct{}{}
	}
	n.Likes = len(n.LikedBy)
	return n, n.Likes, !liked, nil
}

// TotalCount counts every comment and every reply at every depth.
func (f *Forest) TotalCount() int {
	count := 0
	f.Walk(func(*Node, int) WalkAction {
		count++
		return Continue
	})
	return count
}

// Len is the number of nodes held by the arena.
func (f *Forest) Len() int { return len(f.nodes) }

func without(ids []uint, id uint) []uint {
	out := ids[:0]
	for _, v := range ids {
		if v != id {
			out = append(out, v)
		}
	}
	return out
}
