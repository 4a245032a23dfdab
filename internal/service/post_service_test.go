package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"betelconnect/internal/models"
	"betelconnect/internal/notifications"
	"betelconnect/internal/repository"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// postRepoStub is a stub for repository.PostRepository.
type postRepoStub struct {
	repository.PostRepository
	createFn  func(context.Context, *models.Post) error
	getByIDFn func(context.Context, uint) (*models.Post, error)
}

func (s *postRepoStub) Create(ctx context.Context, post *models.Post) error {
	return s.createFn(ctx, post)
}

func (s *postRepoStub) GetByID(ctx context.Context, id uint) (*models.Post, error) {
	return s.getByIDFn(ctx, id)
}

func TestPostService_CreatePost(t *testing.T) {
	t.Parallel()
	e := newEnv(t)
	ctx := context.Background()
	author := e.user(t, "Ravi", models.RoleFarmer)
	svc := e.postService()

	_, err := svc.CreatePost(ctx, CreatePostInput{UserID: author.ID, Title: "t", Description: "d"})
	assert.True(t, models.IsCode(err, models.CodeValidation))

	_, err = svc.CreatePost(ctx, CreatePostInput{UserID: author.ID, Title: " ", Description: "d", Image: []byte{1}})
	assert.True(t, models.IsCode(err, models.CodeValidation))

	view, err := svc.CreatePost(ctx, CreatePostInput{
		UserID: author.ID, Title: " Leaf rot ", Description: "After the rains", ImageDataURI: "data:image/png;base64,AAAA",
	})
	require.NoError(t, err)
	assert.Equal(t, "Leaf rot", view.Title)
	assert.Equal(t, "/media/betel/posts/abc/master.jpg", view.Image)
	assert.Equal(t, "Ravi", view.User.Name)
	assert.Equal(t, "Just now", view.TimeAgo)

	evs := e.bus.broadcasts()
	require.Len(t, evs, 1)
	assert.Equal(t, notifications.EventNewPost, evs[0].Type)
}

func TestPostService_CreatePostReleasesBlobOnStoreFailure(t *testing.T) {
	t.Parallel()
	blobs := &blobStoreStub{}
	repo := &postRepoStub{createFn: func(context.Context, *models.Post) error {
		return models.NewInternalError(errors.New("insert failed"))
	}}
	svc := NewPostService(repo, blobs, NewUserDirectory(nil, 1, 0), &notifierStub{}, &busRecorder{})

	_, err := svc.CreatePost(context.Background(), CreatePostInput{UserID: 1, Title: "t", Description: "d", Image: []byte{1}})
	assert.True(t, models.IsCode(err, models.CodeInternal))
	assert.Equal(t, []string{FolderPosts + "/abc"}, blobs.deletedIDs())
}

func TestPostService_CreatePostUploadError(t *testing.T) {
	t.Parallel()
	repo := &postRepoStub{createFn: func(context.Context, *models.Post) error {
		t.Fatal("post must not be stored")
		return nil
	}}
	blobs := &blobStoreStub{uploadFn: func(context.Context, UploadInput) (Asset, error) {
		return Asset{}, errors.New("permission denied")
	}}
	svc := NewPostService(repo, blobs, NewUserDirectory(nil, 1, 0), &notifierStub{}, &busRecorder{})

	_, err := svc.CreatePost(context.Background(), CreatePostInput{UserID: 1, Title: "t", Description: "d", Image: []byte{1}})
	assert.True(t, models.IsCode(err, models.CodeUpload))
}

func TestPostService_UpdatePost(t *testing.T) {
	t.Parallel()
	e := newEnv(t)
	ctx := context.Background()
	author := e.user(t, "Ravi", models.RoleFarmer)
	other := e.user(t, "Sita", models.RoleFarmer)
	svc := e.postService()

	created, err := svc.CreatePost(ctx, CreatePostInput{UserID: author.ID, Title: "t", Description: "d", Image: []byte{1}})
	require.NoError(t, err)

	_, err = svc.UpdatePost(ctx, UpdatePostInput{UserID: other.ID, PostID: created.ID, Title: "mine now"})
	assert.True(t, models.IsCode(err, models.CodeForbidden))

	e.blobs.uploadFn = func(context.Context, UploadInput) (Asset, error) {
		return Asset{URL: "/media/betel/posts/new/master.jpg", PublicID: "betel/posts/new"}, nil
	}
	updated, err := svc.UpdatePost(ctx, UpdatePostInput{UserID: author.ID, PostID: created.ID, Description: "new text", Image: []byte{2}})
	require.NoError(t, err)
	assert.Equal(t, "t", updated.Title)
	assert.Equal(t, "new text", updated.Description)
	assert.Equal(t, "/media/betel/posts/new/master.jpg", updated.Image)
	assert.Equal(t, []string{FolderPosts + "/abc"}, e.blobs.deletedIDs())

	stored, err := e.posts.GetByID(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, "betel/posts/new", stored.ImagePublicID)
}

func TestPostService_DeletePost(t *testing.T) {
	t.Parallel()
	e := newEnv(t)
	ctx := context.Background()
	author := e.user(t, "Ravi", models.RoleFarmer)
	other := e.user(t, "Sita", models.RoleFarmer)
	svc := e.postService()

	created, err := svc.CreatePost(ctx, CreatePostInput{UserID: author.ID, Title: "t", Description: "d", Image: []byte{1}})
	require.NoError(t, err)
	_, err = e.threadService().AddComment(ctx, created.ID, other.ID, "nice")
	require.NoError(t, err)

	assert.True(t, models.IsCode(svc.DeletePost(ctx, created.ID, other.ID), models.CodeForbidden))

	e.bus.reset()
	require.NoError(t, svc.DeletePost(ctx, created.ID, author.ID))
	_, err = e.posts.GetByID(ctx, created.ID)
	assert.True(t, models.IsCode(err, models.CodeNotFound))
	n, err := e.threads.CountByPost(ctx, created.ID)
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Equal(t, []notifications.Event{{
		Type: notifications.EventDeletePost, Payload: notifications.PostDeletedPayload{PostID: created.ID},
	}}, e.bus.broadcasts())
}

func TestPostService_ToggleLike(t *testing.T) {
	t.Parallel()
	e := newEnv(t)
	ctx := context.Background()
	author := e.user(t, "Ravi", models.RoleFarmer)
	fan := e.user(t, "Meena", models.RoleOfficer)
	post := e.post(t, author.ID)
	svc := e.postService()

	res, err := svc.ToggleLike(ctx, post.ID, fan.ID)
	require.NoError(t, err)
	assert.Equal(t, &LikeResult{Likes: 1, Liked: true, LikedBy: []uint{fan.ID}}, res)

	res, err = svc.ToggleLike(ctx, post.ID, fan.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, res.Likes)
	assert.False(t, res.Liked)

	_, err = svc.ToggleLike(ctx, post.ID, author.ID)
	require.NoError(t, err)

	calls := e.notifier.recorded()
	require.Len(t, calls, 1)
	assert.Equal(t, models.NotificationPostLike, calls[0].Type)
	assert.Equal(t, "Meena liked your post", calls[0].Content)
	assert.Equal(t, author.ID, calls[0].ReceiverID)

	evs := e.bus.broadcasts()
	require.Len(t, evs, 3)
	assert.Equal(t, notifications.EventUpdatePostLikes, evs[2].Type)
}

func TestPostService_ConcurrentLikesKeepCountConsistent(t *testing.T) {
	t.Parallel()
	e := newEnv(t)
	ctx := context.Background()
	author := e.user(t, "Ravi", models.RoleFarmer)
	post := e.post(t, author.ID)
	svc := e.postService()

	var fans []uint
	for _, name := range []string{"a", "b", "c", "d"} {
		fans = append(fans, e.user(t, name, models.RoleFarmer).ID)
	}
	var wg sync.WaitGroup
	for _, id := range fans {
		wg.Add(1)
		go func(id uint) {
			defer wg.Done()
			_, _ = svc.ToggleLike(ctx, post.ID, id)
		}(id)
	}
	wg.Wait()

	stored, err := e.posts.GetByID(ctx, post.ID)
	require.NoError(t, err)
	likedBy, err := e.posts.LikedBy(ctx, post.ID)
	require.NoError(t, err)
	assert.Equal(t, len(likedBy), stored.Likes)
	assert.ElementsMatch(t, fans, likedBy)
}

func TestPostService_ListPosts(t *testing.T) {
	t.Parallel()
	e := newEnv(t)
	ctx := context.Background()
	ravi := e.user(t, "Ravi", models.RoleFarmer)
	sita := e.user(t, "Sita", models.RoleFarmer)
	p1 := e.post(t, ravi.ID)
	p2 := e.post(t, sita.ID)
	svc := e.postService()

	_, err := svc.ToggleLike(ctx, p2.ID, ravi.ID)
	require.NoError(t, err)

	all, err := svc.ListPosts(ctx, ListPostsInput{ViewerID: ravi.ID, Sort: repository.SortMostLiked, Scope: "bogus"})
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, p2.ID, all[0].ID)
	assert.True(t, all[0].Liked)
	assert.Equal(t, "Sita", all[0].User.Name)
	assert.False(t, all[1].Liked)

	own, err := svc.ListPosts(ctx, ListPostsInput{ViewerID: ravi.ID, Scope: ScopeOwn})
	require.NoError(t, err)
	require.Len(t, own, 1)
	assert.Equal(t, p1.ID, own[0].ID)
}

func TestPostService_UnknownAuthorRendersPlaceholder(t *testing.T) {
	t.Parallel()
	e := newEnv(t)
	e.post(t, 4040)

	list, err := e.postService().ListPosts(context.Background(), ListPostsInput{ViewerID: 1})
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, UnknownUserName, list[0].User.Name)
	assert.Equal(t, DefaultProfilePic, list[0].User.ProfilePic)
}

func TestTimeAgo(t *testing.T) {
	t.Parallel()
	now := time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)
	tests := []struct {
		ago  time.Duration
		want string
	}{
		{10 * time.Second, "Just now"},
		{5 * time.Minute, "5 Minute Ago"},
		{3 * time.Hour, "3 Hour Ago"},
		{2 * 24 * time.Hour, "2 Day Ago"},
		{65 * 24 * time.Hour, "2 Month Ago"},
		{800 * 24 * time.Hour, "2 Year Ago"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, TimeAgo(now, now.Add(-tt.ago)))
	}
}
