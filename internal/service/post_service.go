package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"betelconnect/internal/middleware"
	"betelconnect/internal/models"
	"betelconnect/internal/notifications"
	"betelconnect/internal/repository"
)

// Post list scopes.
const (
	ScopeAll = "all"
	ScopeOwn = "own"
)

const (
	maxTitleLen       = 300
	maxDescriptionLen = 50000
)

type PostService struct {
	posts    repository.PostRepository
	blobs    BlobStore
	dir      Directory
	notifier Notifier
	bus      notifications.Bus
	now      func() time.Time
}

// PostView is a post rendered for one viewer.
type PostView struct {
	*models.Post
	User    DirectoryEntry `json:"user"`
	Liked   bool           `json:"liked"`
	TimeAgo string         `json:"time_ago"`
}

type CreatePostInput struct {
	UserID      uint
	Title       string
	Description string
	// Image is either raw bytes or ImageDataURI.
	Image        []byte
	ImageDataURI string
}

type UpdatePostInput struct {
	UserID       uint
	PostID       uint
	Title        string
	Description  string
	Image        []byte
	ImageDataURI string
}

type ListPostsInput struct {
	ViewerID uint
	Sort     string
	Scope    string
}

func NewPostService(
	posts repository.PostRepository,
	blobs BlobStore,
	dir Directory,
	notifier Notifier,
	bus notifications.Bus,
) *PostService {
	return &PostService{
		posts:    posts,
		blobs:    blobs,
		dir:      dir,
		notifier: notifier,
		bus:      bus,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

func validatePostText(title, description string) (string, string, error) {
	title = strings.TrimSpace(title)
	description = strings.TrimSpace(description)
	if title == "" || description == "" {
		return "", "", models.NewValidationError("All fields are required")
	}
	if len(title) > maxTitleLen {
		return "", "", models.NewValidationError("Title too long (max 300 characters)")
	}
	if len(description) > maxDescriptionLen {
		return "", "", models.NewValidationError("Description too long (max 50000 characters)")
	}
	return title, description, nil
}

// upload stores media, wrapping unexpected failures as upload errors.
func upload(ctx context.Context, blobs BlobStore, in UploadInput) (Asset, error) {
	asset, err := blobs.Upload(ctx, in)
	if err != nil {
		var appErr *models.AppError
		if errors.As(err, &appErr) {
			return Asset{}, err
		}
		return Asset{}, models.NewUploadError(err)
	}
	return asset, nil
}

// releaseBlob deletes a blob and only logs failures.
func releaseBlob(ctx context.Context, blobs BlobStore, publicID string) {
	if publicID == "" {
		return
	}
	if err := blobs.Delete(ctx, publicID); err != nil {
		middleware.Logger.WarnContext(ctx, "failed to release blob",
			slog.String("public_id", publicID), slog.String("error", err.Error()))
	}
}

func (s *PostService) CreatePost(ctx context.Context, in CreatePostInput) (*PostView, error) {
	title, description, err := validatePostText(in.Title, in.Description)
	if err != nil {
		return nil, err
	}
	if len(in.Image) == 0 && in.ImageDataURI == "" {
		return nil, models.NewValidationError("All fields are required")
	}

	asset, err := upload(ctx, s.blobs, UploadInput{Data: in.Image, DataURI: in.ImageDataURI, Folder: FolderPosts})
	if err != nil {
		return nil, err
	}

	post := &models.Post{
		Title:         title,
		Description:   description,
		UserID:        in.UserID,
		Image:         asset.URL,
		ImagePublicID: asset.PublicID,
	}
	if err := s.posts.Create(ctx, post); err != nil {
		releaseBlob(ctx, s.blobs, asset.PublicID)
		return nil, err
	}

	view := s.view(ctx, post, false)
	s.bus.Broadcast(ctx, notifications.Event{Type: notifications.EventNewPost, Payload: view})
	return view, nil
}

func (s *PostService) UpdatePost(ctx context.Context, in UpdatePostInput) (*PostView, error) {
	post, err := s.posts.GetByID(ctx, in.PostID)
	if err != nil {
		return nil, err
	}
	if post.UserID != in.UserID {
		return nil, models.NewForbiddenError("You can only update your own posts")
	}

	title, description := in.Title, in.Description
	if strings.TrimSpace(title) == "" {
		title = post.Title
	}
	if strings.TrimSpace(description) == "" {
		description = post.Description
	}
	if title, description, err = validatePostText(title, description); err != nil {
		return nil, err
	}

	oldPublicID := ""
	if len(in.Image) > 0 || in.ImageDataURI != "" {
		asset, err := upload(ctx, s.blobs, UploadInput{Data: in.Image, DataURI: in.ImageDataURI, Folder: FolderPosts})
		if err != nil {
			return nil, err
		}
		oldPublicID = post.ImagePublicID
		post.Image, post.ImagePublicID = asset.URL, asset.PublicID
	}
	post.Title, post.Description = title, description

	if err := s.posts.Update(ctx, post); err != nil {
		return nil, err
	}
	releaseBlob(ctx, s.blobs, oldPublicID)

	liked, err := s.posts.IsLiked(ctx, post.ID, in.UserID)
	if err != nil {
		return nil, err
	}
	view := s.view(ctx, post, liked)
	s.bus.Broadcast(ctx, notifications.Event{Type: notifications.EventUpdatePost, Payload: view})
	return view, nil
}

func (s *PostService) DeletePost(ctx context.Context, postID, userID uint) error {
	post, err := s.posts.GetByID(ctx, postID)
	if err != nil {
		return err
	}
	if post.UserID != userID {
		return models.NewForbiddenError("You can only delete your own posts")
	}
	if err := s.posts.Delete(ctx, postID); err != nil {
		return err
	}
	releaseBlob(ctx, s.blobs, post.ImagePublicID)

	s.bus.Broadcast(ctx, notifications.Event{
		Type:    notifications.EventDeletePost,
		Payload: notifications.PostDeletedPayload{PostID: postID},
	})
	return nil
}

// ToggleLike flips userID's like on a post.
func (s *PostService) ToggleLike(ctx context.Context, postID, userID uint) (*LikeResult, error) {
	post, err := s.posts.GetByID(ctx, postID)
	if err != nil {
		return nil, err
	}
	wasLiked, err := s.posts.IsLiked(ctx, postID, userID)
	if err != nil {
		return nil, err
	}
	liked := !wasLiked

	likes, err := s.posts.SetLike(ctx, postID, userID, liked)
	transition := err == nil && liked
	if errors.Is(err, repository.ErrAlreadyLiked) {
		// a concurrent request recorded this like first
		err = nil
		if fresh, getErr := s.posts.GetByID(ctx, postID); getErr == nil {
			likes = fresh.Likes
		}
	}
	if err != nil {
		return nil, err
	}
	likedBy, err := s.posts.LikedBy(ctx, postID)
	if err != nil {
		return nil, err
	}

	if transition && post.UserID != userID {
		notifyLogged(ctx, s.notifier, NotifyInput{
			Type:        models.NotificationPostLike,
			SenderID:    userID,
			ReceiverID:  post.UserID,
			Correlation: models.Correlation{PostID: models.UintPtr(postID)},
			Content:     fmt.Sprintf("%s liked your post", displayEntry(ctx, s.dir, userID).Name),
		})
	}

	s.bus.Broadcast(ctx, notifications.Event{Type: notifications.EventUpdatePostLikes, Payload: notifications.PostLikesPayload{
		PostID: postID, Likes: likes, LikedBy: likedBy,
	}})
	return &LikeResult{Likes: likes, Liked: liked, LikedBy: likedBy}, nil
}

// ListPosts lists posts for a viewer. Unknown sorts fall back to latest and
// unknown scopes to all.
func (s *PostService) ListPosts(ctx context.Context, in ListPostsInput) ([]*PostView, error) {
	opts := repository.PostListOptions{Sort: in.Sort}
	if in.Scope == ScopeOwn {
		opts.AuthorID = in.ViewerID
	}
	posts, err := s.posts.List(ctx, opts)
	if err != nil {
		return nil, err
	}

	ids := make([]uint, 0, len(posts))
	for _, p := range posts {
		ids = append(ids, p.ID)
	}
	likedIDs, err := s.posts.LikedPostIDs(ctx, in.ViewerID, ids)
	if err != nil {
		return nil, err
	}
	liked := make(map[uint]struct{}, len(likedIDs))
	for _, id := range likedIDs {
		liked[id] = struct{}{}
	}

	out := make([]*PostView, 0, len(posts))
	for _, p := range posts {
		_, ok := liked[p.ID]
		out = append(out, s.view(ctx, p, ok))
	}
	return out, nil
}

func (s *PostService) view(ctx context.Context, p *models.Post, liked bool) *PostView {
	return &PostView{
		Post:    p,
		User:    displayEntry(ctx, s.dir, p.UserID),
		Liked:   liked,
		TimeAgo: TimeAgo(s.now(), p.CreatedAt),
	}
}

// TimeAgo renders the age of t relative to now.
func TimeAgo(now, t time.Time) string {
	d := now.Sub(t)
	days := int(d.Hours() / 24)
	switch {
	case d < time.Minute:
		return "Just now"
	case d < time.Hour:
		return fmt.Sprintf("%d Minute Ago", int(d.Minutes()))
	case d < 24*time.Hour:
		return fmt.Sprintf("%d Hour Ago", int(d.Hours()))
	case days < 30:
		return fmt.Sprintf("%d Day Ago", days)
	case days < 365:
		return fmt.Sprintf("%d Month Ago", days/30)
	default:
		return fmt.Sprintf("%d Year Ago", days/365)
	}
}
