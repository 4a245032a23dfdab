package repository

import (
	"context"
	"errors"
	"sort"
	"time"

	"betelconnect/internal/models"
	"betelconnect/internal/observability"

	"gorm.io/gorm"
)

// ThreadRepository stores the comment/reply rows of post threads. Every
// mutation touches only the rows it changes.
type ThreadRepository interface {
	ListByPost(ctx context.Context, postID uint) ([]models.ThreadNode, map[uint][]uint, error)
	Create(ctx context.Context, node *models.ThreadNode) error
	UpdateText(ctx context.Context, postID, nodeID uint, text string, at time.Time) error
	DeleteSubtree(ctx context.Context, postID, rootID uint) ([]uint, error)
	SetLike(ctx context.Context, postID, nodeID, userID uint, like bool) (int, error)
	CountByPost(ctx context.Context, postID uint) (int, error)
}

type threadRepository struct {
	db  *gorm.DB
	log *observability.RepoLogger
}

// NewThreadRepository creates a new ThreadRepository
func NewThreadRepository(db *gorm.DB) ThreadRepository {
	return &threadRepository{db: db, log: observability.NewRepoLogger("thread_nodes")}
}

// ListByPost returns the post's rows in (created_at, id) order along with the
// liker set of every node that has one.
func (r *threadRepository) ListByPost(ctx context.Context, postID uint) ([]models.ThreadNode, map[uint][]uint, error) {
	defer observability.TrackQuery("list", "thread_nodes")()
	var rows []models.ThreadNode
	if err := r.db.WithContext(ctx).
		Where("post_id = ?", postID).
		Order("created_at ASC, id ASC").
		Find(&rows).Error; err != nil {
		return nil, nil, models.NewInternalError(err)
	}

	var likes []models.NodeLike
	if err := r.db.WithContext(ctx).
		Where("post_id = ?", postID).
		Order("node_id ASC, user_id ASC").
		Find(&likes).Error; err != nil {
		return nil, nil, models.NewInternalError(err)
	}
	likers := make(map[uint][]uint)
	for _, l := range likes {
		likers[l.NodeID] = append(likers[l.NodeID], l.UserID)
	}
	return rows, likers, nil
}

// Create inserts node. A reply whose parent row is gone, or belongs to another
// post, fails with NotFound; the parent_id foreign key closes the window
// between the check and the insert.
func (r *threadRepository) Create(ctx context.Context, node *models.ThreadNode) error {
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if node.ParentID == nil {
			return tx.Create(node).Error
		}
		var n int64
		if err := tx.Model(&models.ThreadNode{}).
			Where("id = ? AND post_id = ?", *node.ParentID, node.PostID).
			Count(&n).Error; err != nil {
			return err
		}
		if n == 0 {
			return errParentGone
		}
		return tx.Create(node).Error
	})
	if err != nil {
		if errors.Is(err, errParentGone) || isForeignKeyViolation(err) {
			return models.NewNotFoundError("Comment", *node.ParentID)
		}
		r.log.LogError(ctx, err, "create")
		return models.NewInternalError(err)
	}
	r.log.LogCreate(ctx, map[string]any{"id": node.ID, "post_id": node.PostID})
	return nil
}

func (r *threadRepository) UpdateText(ctx context.Context, postID, nodeID uint, text string, at time.Time) error {
	res := r.db.WithContext(ctx).
		Model(&models.ThreadNode{}).
		Where("id = ? AND post_id = ?", nodeID, postID).
		Updates(map[string]any{"text": text, "updated_at": at})
	if res.Error != nil {
		r.log.LogError(ctx, res.Error, "update")
		return models.NewInternalError(res.Error)
	}
	if res.RowsAffected == 0 {
		return models.NewNotFoundError("Comment", nodeID)
	}
	r.log.LogUpdate(ctx, map[string]any{"id": nodeID, "post_id": postID})
	return nil
}

var errParentGone = errors.New("parent node gone")

// subtreeSQL selects rootID and every row below it, read at delete time so
// replies added after the caller loaded the thread are included.
const subtreeSQL = `WITH RECURSIVE subtree(id) AS (
	SELECT id FROM thread_nodes WHERE id = ? AND post_id = ?
	UNION ALL
	SELECT t.id FROM thread_nodes t JOIN subtree s ON t.parent_id = s.id
)
SELECT id FROM subtree`

// DeleteSubtree removes rootID and all of its descendants with their likes, in
// one transaction. It returns the removed ids, root first.
func (r *threadRepository) DeleteSubtree(ctx context.Context, postID, rootID uint) ([]uint, error) {
	var ids []uint
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Raw(subtreeSQL, rootID, postID).Scan(&ids).Error; err != nil {
			return err
		}
		if len(ids) == 0 {
			return gorm.ErrRecordNotFound
		}
		if err := tx.Where("node_id IN ?", ids).Delete(&models.NodeLike{}).Error; err != nil {
			return err
		}
		return tx.Where("post_id = ? AND id IN ?", postID, ids).Delete(&models.ThreadNode{}).Error
	})
	if err != nil {
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			r.log.LogError(ctx, err, "delete")
		}
		return nil, notFoundOr(err, "Comment", rootID)
	}

	sort.Slice(ids, func(i, j int) bool {
		if ids[i] == rootID || ids[j] == rootID {
			return ids[i] == rootID
		}
		return ids[i] < ids[j]
	})
	r.log.LogDelete(ctx, map[string]any{"post_id": postID, "ids": ids})
	return ids, nil
}

// SetLike adds or removes userID from the node's liker set and keeps the
// likes counter in step, in one transaction. It returns the new count.
func (r *threadRepository) SetLike(ctx context.Context, postID, nodeID, userID uint, like bool) (int, error) {
	var likes int
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		delta, err := toggleLikeRow(tx, &models.NodeLike{NodeID: nodeID, UserID: userID, PostID: postID}, like,
			"node_id = ? AND user_id = ?", nodeID, userID)
		if err != nil {
			return err
		}
		return bumpLikes(tx, &models.ThreadNode{}, nodeID, delta, &likes)
	})
	if err != nil {
		if errors.Is(err, ErrAlreadyLiked) {
			return 0, err
		}
		return 0, notFoundOr(err, "Comment", nodeID)
	}
	return likes, nil
}

func (r *threadRepository) CountByPost(ctx context.Context, postID uint) (int, error) {
	var count int64
	if err := r.db.WithContext(ctx).
		Model(&models.ThreadNode{}).
		Where("post_id = ?", postID).
		Count(&count).Error; err != nil {
		return 0, models.NewInternalError(err)
	}
	return int(count), nil
}
