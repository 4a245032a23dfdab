package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"betelconnect/internal/models"
	"betelconnect/internal/notifications"
	"betelconnect/internal/repository"
	"betelconnect/internal/testutil"

	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

// recordedEvent is one emit seen by busRecorder. UserID is zero for broadcasts.
type recordedEvent struct {
	UserID uint
	Event  notifications.Event
}

// busRecorder is an in-memory notifications.Bus.
type busRecorder struct {
	mu     sync.Mutex
	events []recordedEvent
}

func (b *busRecorder) EmitToUser(_ context.Context, userID uint, ev notifications.Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events = append(b.events, recordedEvent{UserID: userID, Event: ev})
}

func (b *busRecorder) Broadcast(_ context.Context, ev notifications.Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events = append(b.events, recordedEvent{Event: ev})
}

// to returns the events emitted to userID, in order.
func (b *busRecorder) to(userID uint) []notifications.Event {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []notifications.Event
	for _, e := range b.events {
		if e.UserID == userID {
			out = append(out, e.Event)
		}
	}
	return out
}

// types returns the event types emitted to userID, in order.
func (b *busRecorder) types(userID uint) []string {
	var out []string
	for _, ev := range b.to(userID) {
		out = append(out, ev.Type)
	}
	return out
}

func (b *busRecorder) broadcasts() []notifications.Event {
	return b.to(0)
}

func (b *busRecorder) reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events = nil
}

// notifierStub records Notify calls.
type notifierStub struct {
	mu       sync.Mutex
	calls    []NotifyInput
	notifyFn func(context.Context, NotifyInput) (*models.Notification, error)
}

func (s *notifierStub) Notify(ctx context.Context, in NotifyInput) (*models.Notification, error) {
	s.mu.Lock()
	s.calls = append(s.calls, in)
	s.mu.Unlock()
	if s.notifyFn != nil {
		return s.notifyFn(ctx, in)
	}
	return &models.Notification{Type: in.Type}, nil
}

func (s *notifierStub) recorded() []NotifyInput {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]NotifyInput(nil), s.calls...)
}

// blobStoreStub is a func-field stub for BlobStore.
type blobStoreStub struct {
	mu       sync.Mutex
	deleted  []string
	uploadFn func(context.Context, UploadInput) (Asset, error)
	deleteFn func(context.Context, string) error
}

func (s *blobStoreStub) Upload(ctx context.Context, in UploadInput) (Asset, error) {
	if s.uploadFn != nil {
		return s.uploadFn(ctx, in)
	}
	return Asset{URL: "/media/" + in.Folder + "/abc/master.jpg", PublicID: in.Folder + "/abc"}, nil
}

func (s *blobStoreStub) Delete(ctx context.Context, publicID string) error {
	s.mu.Lock()
	s.deleted = append(s.deleted, publicID)
	s.mu.Unlock()
	if s.deleteFn != nil {
		return s.deleteFn(ctx, publicID)
	}
	return nil
}

func (s *blobStoreStub) deletedIDs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.deleted...)
}

// presenceStub is a fixed set of online users.
type presenceStub struct {
	mu     sync.Mutex
	online map[uint]bool
	seen   map[uint]time.Time
}

func newPresenceStub() *presenceStub {
	return &presenceStub{online: map[uint]bool{}, seen: map[uint]time.Time{}}
}

func (p *presenceStub) set(userID uint, online bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.online[userID] = online
}

func (p *presenceStub) IsOnline(userID uint) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.online[userID]
}

func (p *presenceStub) LastSeen(_ context.Context, userID uint) (time.Time, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	t, ok := p.seen[userID]
	return t, ok
}

// limiterStub allows the first limit calls.
type limiterStub struct {
	mu    sync.Mutex
	limit int
	calls int
	err   error
}

func (l *limiterStub) Allow(_ context.Context, _, _ string, _ int, _ time.Duration) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.calls++
	if l.err != nil {
		return false, l.err
	}
	return l.calls <= l.limit, nil
}

// env wires real repositories on an in-memory SQLite database to recording
// collaborators.
type env struct {
	db       *gorm.DB
	users    repository.UserRepository
	posts    repository.PostRepository
	threads  repository.ThreadRepository
	messages repository.MessageRepository
	notes    repository.NotificationRepository
	dir      *UserDirectory
	bus      *busRecorder
	notifier *notifierStub
	blobs    *blobStoreStub
	presence *presenceStub
}

func newEnv(t *testing.T) *env {
	t.Helper()
	db := testutil.OpenTestDB(t)
	users := repository.NewUserRepository(db)
	return &env{
		db:       db,
		users:    users,
		posts:    repository.NewPostRepository(db),
		threads:  repository.NewThreadRepository(db),
		messages: repository.NewMessageRepository(db),
		notes:    repository.NewNotificationRepository(db),
		dir:      NewUserDirectory(users, 64, time.Minute),
		bus:      &busRecorder{},
		notifier: &notifierStub{},
		blobs:    &blobStoreStub{},
		presence: newPresenceStub(),
	}
}

func (e *env) threadService() *ThreadService {
	return NewThreadService(e.posts, e.threads, e.dir, e.notifier, e.bus)
}

func (e *env) postService() *PostService {
	return NewPostService(e.posts, e.blobs, e.dir, e.notifier, e.bus)
}

func (e *env) messageService(limiter RateLimiter) *MessageService {
	return NewMessageService(e.messages, e.users, e.dir, e.blobs, e.notifier, e.bus, e.presence, limiter)
}

func (e *env) user(t *testing.T, name, role string) *models.User {
	t.Helper()
	return testutil.CreateUser(t, e.db, name, role)
}

func (e *env) post(t *testing.T, authorID uint) *models.Post {
	t.Helper()
	p := &models.Post{Title: "Leaf spot", Description: "Brown spots on leaves", UserID: authorID}
	require.NoError(t, e.posts.Create(context.Background(), p))
	return p
}
