package repository

import (
	"context"
	"errors"

	"betelconnect/internal/models"
	"betelconnect/internal/observability"

	"gorm.io/gorm"
)

// Post list orderings.
const (
	SortLatest        = "latest"
	SortOldest        = "oldest"
	SortMostLiked     = "most-liked"
	SortMostCommented = "most-commented"
)

// PostListOptions filters and orders List.
type PostListOptions struct {
	Sort string
	// AuthorID limits the list to one author when non-zero.
	AuthorID uint
}

// PostRepository defines the interface for post data operations
type PostRepository interface {
	Create(ctx context.Context, post *models.Post) error
	GetByID(ctx context.Context, id uint) (*models.Post, error)
	List(ctx context.Context, opts PostListOptions) ([]*models.Post, error)
	Update(ctx context.Context, post *models.Post) error
	Delete(ctx context.Context, id uint) error
	IsLiked(ctx context.Context, postID, userID uint) (bool, error)
	LikedBy(ctx context.Context, postID uint) ([]uint, error)
	LikedPostIDs(ctx context.Context, userID uint, postIDs []uint) ([]uint, error)
	SetLike(ctx context.Context, postID, userID uint, like bool) (int, error)
}

// postRepository implements PostRepository
type postRepository struct {
	db  *gorm.DB
	log *observability.RepoLogger
}

// NewPostRepository creates a new post repository
func NewPostRepository(db *gorm.DB) PostRepository {
	return &postRepository{db: db, log: observability.NewRepoLogger("posts")}
}

func (r *postRepository) Create(ctx context.Context, post *models.Post) error {
	if err := r.db.WithContext(ctx).Create(post).Error; err != nil {
		r.log.LogError(ctx, err, "create")
		return models.NewInternalError(err)
	}
	r.log.LogCreate(ctx, map[string]any{"id": post.ID, "user_id": post.UserID})
	return nil
}

func (r *postRepository) GetByID(ctx context.Context, id uint) (*models.Post, error) {
	defer observability.TrackQuery("get", "posts")()
	var post models.Post
	if err := r.withCommentCount(r.db.WithContext(ctx)).First(&post, id).Error; err != nil {
		return nil, notFoundOr(err, "Post", id)
	}
	return &post, nil
}

func (r *postRepository) List(ctx context.Context, opts PostListOptions) ([]*models.Post, error) {
	defer observability.TrackQuery("list", "posts")()
	var posts []*models.Post
	q := r.withCommentCount(r.db.WithContext(ctx))
	if opts.AuthorID != 0 {
		q = q.Where("posts.user_id = ?", opts.AuthorID)
	}
	if err := applySort(q, opts.Sort).Find(&posts).Error; err != nil {
		return nil, models.NewInternalError(err)
	}
	return posts, nil
}

// withCommentCount selects the post columns plus the number of thread nodes
// under the post as comments_count.
func (r *postRepository) withCommentCount(db *gorm.DB) *gorm.DB {
	return db.Model(&models.Post{}).Select("posts.*, " +
		"(SELECT COUNT(*) FROM thread_nodes WHERE thread_nodes.post_id = posts.id) AS comments_count")
}

// applySort appends the ORDER BY clause for the requested sort. comments_count
// is the SELECT alias from withCommentCount.
func applySort(db *gorm.DB, sort string) *gorm.DB {
	switch sort {
	case SortOldest:
		return db.Order("posts.created_at ASC, posts.id ASC")
	case SortMostLiked:
		return db.Order("posts.likes DESC, posts.created_at DESC")
	case SortMostCommented:
		return db.Order("comments_count DESC, posts.created_at DESC")
	default: // latest and anything unrecognized
		return db.Order("posts.created_at DESC, posts.id DESC")
	}
}

func (r *postRepository) Update(ctx context.Context, post *models.Post) error {
	err := r.db.WithContext(ctx).Model(post).Select("title", "description", "image", "image_public_id", "updated_at").
		Updates(post).Error
	if err != nil {
		r.log.LogError(ctx, err, "update")
		return models.NewInternalError(err)
	}
	r.log.LogUpdate(ctx, map[string]any{"id": post.ID})
	return nil
}

// Delete removes the post together with its thread rows and liker sets.
func (r *postRepository) Delete(ctx context.Context, id uint) error {
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("post_id = ?", id).Delete(&models.NodeLike{}).Error; err != nil {
			return err
		}
		if err := tx.Where("post_id = ?", id).Delete(&models.ThreadNode{}).Error; err != nil {
			return err
		}
		if err := tx.Where("post_id = ?", id).Delete(&models.PostLike{}).Error; err != nil {
			return err
		}
		return tx.Delete(&models.Post{}, id).Error
	})
	if err != nil {
		r.log.LogError(ctx, err, "delete")
		return models.NewInternalError(err)
	}
	r.log.LogDelete(ctx, map[string]any{"id": id})
	return nil
}

func (r *postRepository) IsLiked(ctx context.Context, postID, userID uint) (bool, error) {
	var count int64
	if err := r.db.WithContext(ctx).
		Model(&models.PostLike{}).
		Where("post_id = ? AND user_id = ?", postID, userID).
		Count(&count).Error; err != nil {
		return false, models.NewInternalError(err)
	}
	return count > 0, nil
}

func (r *postRepository) LikedBy(ctx context.Context, postID uint) ([]uint, error) {
	var ids []uint
	err := r.db.WithContext(ctx).
		Model(&models.PostLike{}).
		Where("post_id = ?", postID).
		Order("user_id ASC").
		Pluck("user_id", &ids).Error
	if err != nil {
		return nil, models.NewInternalError(err)
	}
	return ids, nil
}

func (r *postRepository) LikedPostIDs(ctx context.Context, userID uint, postIDs []uint) ([]uint, error) {
	if len(postIDs) == 0 {
		return nil, nil
	}
	var liked []uint
	err := r.db.WithContext(ctx).
		Model(&models.PostLike{}).
		Where("user_id = ? AND post_id IN ?", userID, postIDs).
		Pluck("post_id", &liked).Error
	if err != nil {
		return nil, models.NewInternalError(err)
	}
	return liked, nil
}

// SetLike adds or removes userID from the post's liker set and keeps the
// likes counter in step, in one transaction. It returns the new count.
func (r *postRepository) SetLike(ctx context.Context, postID, userID uint, like bool) (int, error) {
	var likes int
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		delta, err := toggleLikeRow(tx, &models.PostLike{PostID: postID, UserID: userID}, like,
			"post_id = ? AND user_id = ?", postID, userID)
		if err != nil {
			return err
		}
		return bumpLikes(tx, &models.Post{}, postID, delta, &likes)
	})
	if err != nil {
		if errors.Is(err, ErrAlreadyLiked) {
			return 0, err
		}
		return 0, notFoundOr(err, "Post", postID)
	}
	return likes, nil
}

// toggleLikeRow inserts or deletes one liker-set row and returns the change
// to apply to the owning counter.
func toggleLikeRow(tx *gorm.DB, row any, like bool, where string, args ...any) (int, error) {
	if like {
		if err := tx.Create(row).Error; err != nil {
			if isUniqueViolation(err) {
				return 0, ErrAlreadyLiked
			}
			return 0, err
		}
		return 1, nil
	}
	res := tx.Where(where, args...).Delete(row)
	if res.Error != nil {
		return 0, res.Error
	}
	return -int(res.RowsAffected), nil
}

// bumpLikes adds delta to the likes column of the row with id and reads the
// result back into out.
func bumpLikes(tx *gorm.DB, model any, id uint, delta int, out *int) error {
	if delta != 0 {
		res := tx.Model(model).Where("id = ?", id).UpdateColumn("likes", gorm.Expr("likes + ?", delta))
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return gorm.ErrRecordNotFound
		}
	}
	var counts []int
	if err := tx.Model(model).Where("id = ?", id).Pluck("likes", &counts).Error; err != nil {
		return err
	}
	if len(counts) == 0 {
		return gorm.ErrRecordNotFound
	}
	*out = counts[0]
	return nil
}
