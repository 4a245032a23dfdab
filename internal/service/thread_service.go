package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"betelconnect/internal/middleware"
	"betelconnect/internal/models"
	"betelconnect/internal/notifications"
	"betelconnect/internal/repository"
	"betelconnect/internal/thread"
)

const maxThreadTextLen = 10000

// NodeView is a comment or reply rendered for one viewer.
type NodeView struct {
	ID        uint           `json:"id"`
	PostID    uint           `json:"post_id"`
	ParentID  uint           `json:"parent_id,omitempty"`
	UserID    uint           `json:"user_id"`
	User      DirectoryEntry `json:"user"`
	Text      string         `json:"text"`
	Date      time.Time      `json:"date"`
	UpdatedAt time.Time      `json:"updated_at"`
	Likes     int            `json:"likes"`
	LikedBy   []uint         `json:"liked_by"`
	Liked     bool           `json:"liked"`
	CanEdit   bool           `json:"can_edit"`
	Replies   []*NodeView    `json:"replies"`
}

// ThreadView is the whole nested thread of a post.
type ThreadView struct {
	PostID        uint        `json:"post_id"`
	TotalComments int         `json:"total_comments"`
	Comments      []*NodeView `json:"comments"`
}

// LikeResult is the state of a liker set after a toggle.
type LikeResult struct {
	Likes   int    `json:"likes"`
	Liked   bool   `json:"liked"`
	LikedBy []uint `json:"liked_by"`
}

type ThreadService struct {
	posts    repository.PostRepository
	threads  repository.ThreadRepository
	dir      Directory
	notifier Notifier
	bus      notifications.Bus
	now      func() time.Time
}

func NewThreadService(
	posts repository.PostRepository,
	threads repository.ThreadRepository,
	dir Directory,
	notifier Notifier,
	bus notifications.Bus,
) *ThreadService {
	return &ThreadService{
		posts:    posts,
		threads:  threads,
		dir:      dir,
		notifier: notifier,
		bus:      bus,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

func validateThreadText(text string) (string, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return "", models.NewValidationError("Text is required")
	}
	if utf8.RuneCountInString(text) > maxThreadTextLen {
		return "", models.NewValidationError("Text too long (max 10000 characters)")
	}
	return text, nil
}

// mapThreadErr turns forest errors into API errors.
func mapThreadErr(err error, nodeID uint) error {
	switch {
	case errors.Is(err, thread.ErrNodeNotFound):
		return models.NewNotFoundError("Comment", nodeID)
	case errors.Is(err, thread.ErrNotAuthor):
		return models.NewForbiddenError("You can only change your own comments")
	default:
		return err
	}
}

func (s *ThreadService) load(ctx context.Context, postID uint) (*models.Post, *thread.Forest, error) {
	post, err := s.posts.GetByID(ctx, postID)
	if err != nil {
		return nil, nil, err
	}
	rows, likers, err := s.threads.ListByPost(ctx, postID)
	if err != nil {
		return nil, nil, err
	}
	return post, thread.Build(postID, rows, likers), nil
}

// ListThread returns the nested thread of a post as seen by viewerID.
func (s *ThreadService) ListThread(ctx context.Context, postID, viewerID uint) (*ThreadView, error) {
	_, f, err := s.load(ctx, postID)
	if err != nil {
		return nil, err
	}
	out := &ThreadView{PostID: postID, TotalComments: f.TotalCount(), Comments: []*NodeView{}}
	for _, id := range f.Roots() {
		n, _ := f.Node(id)
		out.Comments = append(out.Comments, s.view(ctx, f, n, viewerID))
	}
	return out, nil
}

func (s *ThreadService) view(ctx context.Context, f *thread.Forest, n *thread.Node, viewerID uint) *NodeView {
	_, liked := n.LikedBy[viewerID]
	v := &NodeView{
		ID:        n.ID,
		PostID:    f.PostID,
		ParentID:  n.ParentID,
		UserID:    n.AuthorID,
		User:      displayEntry(ctx, s.dir, n.AuthorID),
		Text:      n.Text,
		Date:      n.CreatedAt,
		UpdatedAt: n.UpdatedAt,
		Likes:     n.Likes,
		LikedBy:   n.Likers(),
		Liked:     liked,
		CanEdit:   n.AuthorID == viewerID,
		Replies:   []*NodeView{},
	}
	for _, id := range n.Children {
		if child, ok := f.Node(id); ok {
			v.Replies = append(v.Replies, s.view(ctx, f, child, viewerID))
		}
	}
	return v
}

// AddComment appends a top-level comment to a post.
func (s *ThreadService) AddComment(ctx context.Context, postID, authorID uint, text string) (*NodeView, error) {
	return s.insert(ctx, postID, 0, authorID, text)
}

// AddReply appends a reply under parentID, which may sit at any depth.
func (s *ThreadService) AddReply(ctx context.Context, postID, parentID, authorID uint, text string) (*NodeView, error) {
	if parentID == 0 {
		return nil, models.NewValidationError("Parent is required")
	}
	return s.insert(ctx, postID, parentID, authorID, text)
}

func (s *ThreadService) insert(ctx context.Context, postID, parentID, authorID uint, text string) (*NodeView, error) {
	text, err := validateThreadText(text)
	if err != nil {
		return nil, err
	}
	post, f, err := s.load(ctx, postID)
	if err != nil {
		return nil, err
	}

	var parent *thread.Node
	row := &models.ThreadNode{PostID: postID, UserID: authorID, Text: text}
	if parentID != 0 {
		if parent, err = f.Find(parentID); err != nil {
			return nil, mapThreadErr(err, parentID)
		}
		row.ParentID = &parent.ID
	}
	if err := s.threads.Create(ctx, row); err != nil {
		return nil, err
	}

	node := &thread.Node{ID: row.ID, AuthorID: authorID, Text: row.Text, CreatedAt: row.CreatedAt, UpdatedAt: row.UpdatedAt}
	if err := f.InsertReply(parentID, node); err != nil {
		return nil, mapThreadErr(err, parentID)
	}
	view := s.view(ctx, f, node, authorID)
	total := f.TotalCount()
	authorName := displayEntry(ctx, s.dir, authorID).Name

	switch {
	case parent == nil:
		if post.UserID != authorID {
			notifyLogged(ctx, s.notifier, NotifyInput{
				Type:        models.NotificationPostComment,
				SenderID:    authorID,
				ReceiverID:  post.UserID,
				Correlation: models.Correlation{PostID: models.UintPtr(postID), CommentID: models.UintPtr(node.ID)},
				Content:     fmt.Sprintf("%s commented on your post", authorName),
			})
		}
		s.bus.Broadcast(ctx, notifications.Event{Type: notifications.EventNewComment, Payload: notifications.NewCommentPayload{
			PostID: postID, Comment: view, CommentsCount: total,
		}})
	case parent.IsComment():
		if parent.AuthorID != authorID {
			notifyLogged(ctx, s.notifier, NotifyInput{
				Type:       models.NotificationCommentReply,
				SenderID:   authorID,
				ReceiverID: parent.AuthorID,
				Correlation: models.Correlation{
					PostID: models.UintPtr(postID), CommentID: models.UintPtr(parent.ID), ReplyID: models.UintPtr(node.ID),
				},
				Content: fmt.Sprintf("%s replied to your comment", authorName),
			})
		}
		s.bus.Broadcast(ctx, notifications.Event{Type: notifications.EventNewReply, Payload: notifications.NewReplyPayload{
			PostID: postID, CommentID: parent.ID, Reply: view, TotalComments: total,
		}})
	default:
		if parent.AuthorID != authorID {
			notifyLogged(ctx, s.notifier, NotifyInput{
				Type:       models.NotificationNestedReply,
				SenderID:   authorID,
				ReceiverID: parent.AuthorID,
				Correlation: models.Correlation{
					PostID:        models.UintPtr(postID),
					CommentID:     models.UintPtr(rootOf(f, parent).ID),
					ReplyID:       models.UintPtr(parent.ID),
					NestedReplyID: models.UintPtr(node.ID),
				},
				Content: fmt.Sprintf("%s replied to your comment", authorName),
			})
		}
		s.bus.Broadcast(ctx, notifications.Event{Type: notifications.EventNewNestedReply, Payload: notifications.NewNestedReplyPayload{
			PostID: postID, ReplyID: parent.ID, NestedReply: view, TotalComments: total,
		}})
	}
	return view, nil
}

// rootOf follows parent links up to the top-level comment.
func rootOf(f *thread.Forest, n *thread.Node) *thread.Node {
	for !n.IsComment() {
		parent, ok := f.Node(n.ParentID)
		if !ok {
			break
		}
		n = parent
	}
	return n
}

// UpdateText edits a node written by requesterID.
func (s *ThreadService) UpdateText(ctx context.Context, postID, nodeID, requesterID uint, text string) (*NodeView, error) {
	text, err := validateThreadText(text)
	if err != nil {
		return nil, err
	}
	_, f, err := s.load(ctx, postID)
	if err != nil {
		return nil, err
	}
	n, err := f.UpdateText(nodeID, text, requesterID, s.now())
	if err != nil {
		return nil, mapThreadErr(err, nodeID)
	}
	if err := s.threads.UpdateText(ctx, postID, nodeID, n.Text, n.UpdatedAt); err != nil {
		return nil, err
	}

	payload := notifications.NodeUpdatedPayload{PostID: postID, Text: n.Text, Date: n.UpdatedAt}
	evType := notifications.EventUpdateComment
	if n.IsComment() {
		payload.CommentID = n.ID
	} else {
		payload.ReplyID = n.ID
		evType = notifications.EventUpdateReply
	}
	s.bus.Broadcast(ctx, notifications.Event{Type: evType, Payload: payload})
	return s.view(ctx, f, n, requesterID), nil
}

// DeleteNode removes a node written by requesterID and its whole subtree. It
// returns the removed ids.
func (s *ThreadService) DeleteNode(ctx context.Context, postID, nodeID, requesterID uint) ([]uint, error) {
	_, f, err := s.load(ctx, postID)
	if err != nil {
		return nil, err
	}
	n, err := f.Find(nodeID)
	if err != nil {
		return nil, mapThreadErr(err, nodeID)
	}
	isComment := n.IsComment()
	if _, err := f.DeleteNode(nodeID, requesterID); err != nil {
		return nil, mapThreadErr(err, nodeID)
	}
	removed, err := s.threads.DeleteSubtree(ctx, postID, nodeID)
	if err != nil {
		return nil, err
	}

	evType := notifications.EventDeleteReply
	if isComment {
		evType = notifications.EventDeleteComment
	}
	s.bus.Broadcast(ctx, notifications.Event{Type: evType, Payload: notifications.NodeDeletedPayload{
		PostID: postID, ID: nodeID, RemovedIDs: removed, CommentsCount: f.TotalCount(),
	}})
	return removed, nil
}

// ToggleLike flips userID's like on a node.
func (s *ThreadService) ToggleLike(ctx context.Context, postID, nodeID, userID uint) (*LikeResult, error) {
	_, f, err := s.load(ctx, postID)
	if err != nil {
		return nil, err
	}
	n, _, liked, err := f.ToggleLike(nodeID, userID)
	if err != nil {
		return nil, mapThreadErr(err, nodeID)
	}

	likes, err := s.threads.SetLike(ctx, postID, nodeID, userID, liked)
	transition := err == nil && liked
	if errors.Is(err, repository.ErrAlreadyLiked) {
		// a concurrent request recorded this like first
		likes, err = n.Likes, nil
	}
	if err != nil {
		return nil, err
	}
	res := &LikeResult{Likes: likes, Liked: liked, LikedBy: n.Likers()}

	if transition && n.AuthorID != userID {
		in := NotifyInput{
			SenderID:   userID,
			ReceiverID: n.AuthorID,
		}
		name := displayEntry(ctx, s.dir, userID).Name
		if n.IsComment() {
			in.Type = models.NotificationCommentLike
			in.Correlation = models.Correlation{PostID: models.UintPtr(postID), CommentID: models.UintPtr(n.ID)}
			in.Content = fmt.Sprintf("%s liked your comment", name)
		} else {
			in.Type = models.NotificationReplyLike
			in.Correlation = models.Correlation{
				PostID: models.UintPtr(postID), CommentID: models.UintPtr(rootOf(f, n).ID), ReplyID: models.UintPtr(n.ID),
			}
			in.Content = fmt.Sprintf("%s liked your reply", name)
		}
		notifyLogged(ctx, s.notifier, in)
	}

	evType := notifications.EventUpdateReplyLikes
	if n.IsComment() {
		evType = notifications.EventUpdateCommentLikes
	}
	s.bus.Broadcast(ctx, notifications.Event{Type: evType, Payload: notifications.NodeLikesPayload{
		PostID: postID, ID: n.ID, Likes: res.Likes, LikedBy: res.LikedBy,
	}})
	return res, nil
}

// notifyLogged sends a notification after the action it describes has been
// stored, so a failure is logged instead of failing the action.
func notifyLogged(ctx context.Context, notifier Notifier, in NotifyInput) {
	if _, err := notifier.Notify(ctx, in); err != nil {
		middleware.Logger.ErrorContext(ctx, "failed to record notification",
			slog.String("type", in.Type), slog.String("error", err.Error()))
	}
}
