package repository

import (
	"context"
	"testing"
	"time"

	"betelconnect/internal/models"
	"betelconnect/internal/testutil"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestThreadRepository_RowLevelWrites(t *testing.T) {
	t.Parallel()
	db := testutil.OpenTestDB(t)
	repo := NewThreadRepository(db)
	ctx := context.Background()

	comment := &models.ThreadNode{PostID: 1, UserID: 1, Text: "comment"}
	require.NoError(t, repo.Create(ctx, comment))
	reply := &models.ThreadNode{PostID: 1, ParentID: &comment.ID, UserID: 2, Text: "reply"}
	require.NoError(t, repo.Create(ctx, reply))
	nested := &models.ThreadNode{PostID: 1, ParentID: &reply.ID, UserID: 3, Text: "nested"}
	require.NoError(t, repo.Create(ctx, nested))
	other := &models.ThreadNode{PostID: 2, UserID: 1, Text: "elsewhere"}
	require.NoError(t, repo.Create(ctx, other))

	_, err := repo.SetLike(ctx, 1, reply.ID, 7, true)
	require.NoError(t, err)

	rows, likers, err := repo.ListByPost(ctx, 1)
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, comment.ID, rows[0].ID)
	assert.Equal(t, []uint{7}, likers[reply.ID])

	count, err := repo.CountByPost(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, 3, count)

	// edits touch one row and are scoped by post
	at := time.Now().UTC()
	require.NoError(t, repo.UpdateText(ctx, 1, nested.ID, "edited", at))
	err = repo.UpdateText(ctx, 2, nested.ID, "wrong post", at)
	assert.True(t, models.IsCode(err, models.CodeNotFound))

	rows, _, err = repo.ListByPost(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, "comment", rows[0].Text)
	assert.Equal(t, "reply", rows[1].Text)
	assert.Equal(t, "edited", rows[2].Text)

	removed, err := repo.DeleteSubtree(ctx, 1, reply.ID)
	require.NoError(t, err)
	assert.Equal(t, []uint{reply.ID, nested.ID}, removed)
	rows, likers, err = repo.ListByPost(ctx, 1)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Empty(t, likers)

	rows, _, err = repo.ListByPost(ctx, 2)
	require.NoError(t, err)
	assert.Len(t, rows, 1)
}

func TestThreadRepository_DeleteSubtreeLeavesNoOrphans(t *testing.T) {
	t.Parallel()
	db := testutil.OpenTestDB(t)
	repo := NewThreadRepository(db)
	ctx := context.Background()

	comment := &models.ThreadNode{PostID: 1, UserID: 1, Text: "comment"}
	require.NoError(t, repo.Create(ctx, comment))
	reply := &models.ThreadNode{PostID: 1, ParentID: &comment.ID, UserID: 2, Text: "reply"}
	require.NoError(t, repo.Create(ctx, reply))
	// written after a caller could have loaded the thread
	late := &models.ThreadNode{PostID: 1, ParentID: &reply.ID, UserID: 3, Text: "late"}
	require.NoError(t, repo.Create(ctx, late))
	_, err := repo.SetLike(ctx, 1, late.ID, 9, true)
	require.NoError(t, err)

	removed, err := repo.DeleteSubtree(ctx, 1, comment.ID)
	require.NoError(t, err)
	assert.Equal(t, []uint{comment.ID, reply.ID, late.ID}, removed)

	count, err := repo.CountByPost(ctx, 1)
	require.NoError(t, err)
	assert.Zero(t, count)
	var likes int64
	require.NoError(t, db.Model(&models.NodeLike{}).Count(&likes).Error)
	assert.Zero(t, likes)

	// replies under a deleted parent are refused
	orphan := &models.ThreadNode{PostID: 1, ParentID: &reply.ID, UserID: 3, Text: "too late"}
	err = repo.Create(ctx, orphan)
	assert.True(t, models.IsCode(err, models.CodeNotFound))
	count, err = repo.CountByPost(ctx, 1)
	require.NoError(t, err)
	assert.Zero(t, count)

	_, err = repo.DeleteSubtree(ctx, 1, comment.ID)
	assert.True(t, models.IsCode(err, models.CodeNotFound))
}

func TestThreadRepository_CreateRejectsParentFromOtherPost(t *testing.T) {
	t.Parallel()
	db := testutil.OpenTestDB(t)
	repo := NewThreadRepository(db)
	ctx := context.Background()

	comment := &models.ThreadNode{PostID: 1, UserID: 1, Text: "comment"}
	require.NoError(t, repo.Create(ctx, comment))
	stray := &models.ThreadNode{PostID: 2, ParentID: &comment.ID, UserID: 1, Text: "wrong post"}
	err := repo.Create(ctx, stray)
	assert.True(t, models.IsCode(err, models.CodeNotFound))
}

func TestThreadRepository_LikeInvariant(t *testing.T) {
	t.Parallel()
	db := testutil.OpenTestDB(t)
	repo := NewThreadRepository(db)
	ctx := context.Background()

	node := &models.ThreadNode{PostID: 4, UserID: 1, Text: "c"}
	require.NoError(t, repo.Create(ctx, node))

	for _, uid := range []uint{2, 3, 4} {
		_, err := repo.SetLike(ctx, 4, node.ID, uid, true)
		require.NoError(t, err)
	}
	_, err := repo.SetLike(ctx, 4, node.ID, 3, true)
	assert.ErrorIs(t, err, ErrAlreadyLiked)
	likes, err := repo.SetLike(ctx, 4, node.ID, 2, false)
	require.NoError(t, err)

	var stored models.ThreadNode
	require.NoError(t, db.First(&stored, node.ID).Error)
	var set int64
	require.NoError(t, db.Model(&models.NodeLike{}).Where("node_id = ?", node.ID).Count(&set).Error)
	assert.Equal(t, 2, likes)
	assert.Equal(t, int64(stored.Likes), set)
}
