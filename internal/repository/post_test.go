package repository

import (
	"context"
	"regexp"
	"sync"
	"testing"
	"time"

	"betelconnect/internal/models"
	"betelconnect/internal/testutil"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPostRepository_Create(t *testing.T) {
	db, mock := setupMockDB(t)
	repo := NewPostRepository(db)
	ctx := context.Background()

	post := &models.Post{Title: "Paddy blight", Description: "Spots on leaves", UserID: 3}

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta(`INSERT INTO "posts"`)).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(1))
	mock.ExpectCommit()

	assert.NoError(t, repo.Create(ctx, post))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostRepository_LikeCounterMatchesLikerSet(t *testing.T) {
	t.Parallel()
	db := testutil.OpenTestDB(t)
	repo := NewPostRepository(db)
	ctx := context.Background()

	author := testutil.CreateUser(t, db, "author", models.RoleFarmer)
	post := &models.Post{Title: "t", Description: "d", UserID: author.ID}
	require.NoError(t, repo.Create(ctx, post))

	likes, err := repo.SetLike(ctx, post.ID, 10, true)
	require.NoError(t, err)
	assert.Equal(t, 1, likes)

	likes, err = repo.SetLike(ctx, post.ID, 11, true)
	require.NoError(t, err)
	assert.Equal(t, 2, likes)

	_, err = repo.SetLike(ctx, post.ID, 10, true)
	assert.ErrorIs(t, err, ErrAlreadyLiked)

	likes, err = repo.SetLike(ctx, post.ID, 10, false)
	require.NoError(t, err)
	assert.Equal(t, 1, likes)

	// unliking twice leaves the counter alone
	likes, err = repo.SetLike(ctx, post.ID, 10, false)
	require.NoError(t, err)
	assert.Equal(t, 1, likes)

	likers, err := repo.LikedBy(ctx, post.ID)
	require.NoError(t, err)
	assert.Equal(t, []uint{11}, likers)

	got, err := repo.GetByID(ctx, post.ID)
	require.NoError(t, err)
	assert.Equal(t, len(likers), got.Likes)

	liked, err := repo.IsLiked(ctx, post.ID, 11)
	require.NoError(t, err)
	assert.True(t, liked)

	_, err = repo.SetLike(ctx, 999, 1, true)
	assert.True(t, models.IsCode(err, models.CodeNotFound), "got %v", err)
}

func TestPostRepository_ConcurrentLikesBySameUser(t *testing.T) {
	t.Parallel()
	db := testutil.OpenTestDB(t)
	repo := NewPostRepository(db)
	ctx := context.Background()

	post := &models.Post{Title: "t", Description: "d", UserID: 1}
	require.NoError(t, repo.Create(ctx, post))

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = repo.SetLike(ctx, post.ID, 42, true)
		}()
	}
	wg.Wait()

	got, err := repo.GetByID(ctx, post.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, got.Likes)
}

func TestPostRepository_ListSortAndCounts(t *testing.T) {
	t.Parallel()
	db := testutil.OpenTestDB(t)
	repo := NewPostRepository(db)
	threads := NewThreadRepository(db)
	ctx := context.Background()

	base := time.Now().Add(-time.Hour)
	older := &models.Post{Title: "older", Description: "d", UserID: 1, CreatedAt: base}
	newer := &models.Post{Title: "newer", Description: "d", UserID: 2, CreatedAt: base.Add(time.Minute)}
	require.NoError(t, repo.Create(ctx, older))
	require.NoError(t, repo.Create(ctx, newer))

	require.NoError(t, threads.Create(ctx, &models.ThreadNode{PostID: older.ID, UserID: 2, Text: "c"}))
	require.NoError(t, threads.Create(ctx, &models.ThreadNode{PostID: older.ID, UserID: 2, Text: "c2"}))
	_, err := repo.SetLike(ctx, newer.ID, 5, true)
	require.NoError(t, err)

	titles := func(opts PostListOptions) []string {
		posts, err := repo.List(ctx, opts)
		require.NoError(t, err)
		out := make([]string, 0, len(posts))
		for _, p := range posts {
			out = append(out, p.Title)
		}
		return out
	}

	assert.Equal(t, []string{"newer", "older"}, titles(PostListOptions{Sort: SortLatest}))
	assert.Equal(t, []string{"older", "newer"}, titles(PostListOptions{Sort: SortOldest}))
	assert.Equal(t, []string{"newer", "older"}, titles(PostListOptions{Sort: SortMostLiked}))
	assert.Equal(t, []string{"older", "newer"}, titles(PostListOptions{Sort: SortMostCommented}))
	assert.Equal(t, []string{"newer"}, titles(PostListOptions{AuthorID: 2}))

	got, err := repo.GetByID(ctx, older.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, got.CommentsCount)

	liked, err := repo.LikedPostIDs(ctx, 5, []uint{older.ID, newer.ID})
	require.NoError(t, err)
	assert.Equal(t, []uint{newer.ID}, liked)
}

func TestPostRepository_DeleteRemovesThread(t *testing.T) {
	t.Parallel()
	db := testutil.OpenTestDB(t)
	repo := NewPostRepository(db)
	threads := NewThreadRepository(db)
	ctx := context.Background()

	post := &models.Post{Title: "t", Description: "d", UserID: 1}
	require.NoError(t, repo.Create(ctx, post))
	node := &models.ThreadNode{PostID: post.ID, UserID: 2, Text: "c"}
	require.NoError(t, threads.Create(ctx, node))
	_, err := threads.SetLike(ctx, post.ID, node.ID, 3, true)
	require.NoError(t, err)
	_, err = repo.SetLike(ctx, post.ID, 3, true)
	require.NoError(t, err)

	require.NoError(t, repo.Delete(ctx, post.ID))

	_, err = repo.GetByID(ctx, post.ID)
	assert.True(t, models.IsCode(err, models.CodeNotFound))
	for _, m := range []any{&models.ThreadNode{}, &models.NodeLike{}, &models.PostLike{}} {
		var n int64
		require.NoError(t, db.Model(m).Count(&n).Error)
		assert.Zero(t, n, "%T rows left", m)
	}
}

func TestPostRepository_Update(t *testing.T) {
	t.Parallel()
	db := testutil.OpenTestDB(t)
	repo := NewPostRepository(db)
	ctx := context.Background()

	post := &models.Post{Title: "t", Description: "d", UserID: 1, Image: "/media/a/master.jpg", ImagePublicID: "a"}
	require.NoError(t, repo.Create(ctx, post))
	_, err := repo.SetLike(ctx, post.ID, 9, true)
	require.NoError(t, err)

	post.Title = "new title"
	post.Likes = 0 // stale in-memory counter must not be written back
	require.NoError(t, repo.Update(ctx, post))

	got, err := repo.GetByID(ctx, post.ID)
	require.NoError(t, err)
	assert.Equal(t, "new title", got.Title)
	assert.Equal(t, 1, got.Likes)
}
