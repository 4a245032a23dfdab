// Package seed creates demo farmers, officers, forum threads and direct
// messages. It is intended for development and manual testing only.
package seed

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"betelconnect/internal/models"
	"betelconnect/internal/repository"

	"github.com/brianvoe/gofakeit/v6"
	"golang.org/x/crypto/bcrypt"
	"gopkg.in/yaml.v3"
	"gorm.io/gorm"
)

// DefaultPassword is given to every seeded account unless a fixture overrides it.
const DefaultPassword = "password123"

// Options size a random seeding run.
type Options struct {
	Farmers         int
	Officers        int
	Posts           int
	CommentsPerPost int
	Messages        int
	// Seed makes runs reproducible; zero picks a random seed.
	Seed int64
	// SkipBcrypt stores the plain password, which keeps test runs fast.
	SkipBcrypt bool
}

// Fixture is a hand-written data set loaded from YAML.
type Fixture struct {
	Password string        `yaml:"password"`
	Users    []FixtureUser `yaml:"users"`
	Posts    []FixturePost `yaml:"posts"`
}

// FixtureUser is one account. Role is farmer or officer.
type FixtureUser struct {
	Name       string `yaml:"name"`
	Email      string `yaml:"email"`
	Role       string `yaml:"role"`
	ProfilePic string `yaml:"profile_pic"`
}

// FixturePost is a post by the user with email Author. Comments are written
// by the remaining fixture users in turn.
type FixturePost struct {
	Author      string   `yaml:"author"`
	Title       string   `yaml:"title"`
	Description string   `yaml:"description"`
	Image       string   `yaml:"image"`
	Comments    []string `yaml:"comments"`
}

// Result summarizes what a run created.
type Result struct {
	Users    []*models.User
	Posts    int
	Nodes    int
	Messages int
}

// ParseFixture decodes a YAML fixture.
func ParseFixture(data []byte) (*Fixture, error) {
	var fx Fixture
	if err := yaml.Unmarshal(data, &fx); err != nil {
		return nil, fmt.Errorf("parse fixture: %w", err)
	}
	for i, u := range fx.Users {
		if strings.TrimSpace(u.Email) == "" || strings.TrimSpace(u.Name) == "" {
			return nil, fmt.Errorf("fixture user %d: name and email are required", i)
		}
		if _, err := roleFor(u.Role); err != nil {
			return nil, fmt.Errorf("fixture user %s: %w", u.Email, err)
		}
	}
	return &fx, nil
}

// LoadFixture reads and decodes a YAML fixture file.
func LoadFixture(path string) (*Fixture, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return ParseFixture(data)
}

func roleFor(role string) (string, error) {
	switch strings.ToLower(strings.TrimSpace(role)) {
	case "", "farmer", models.RoleFarmer:
		return models.RoleFarmer, nil
	case "officer", models.RoleOfficer:
		return models.RoleOfficer, nil
	default:
		return "", fmt.Errorf("unknown role %q", role)
	}
}

// Seeder writes demo data through the repositories.
type Seeder struct {
	db       *gorm.DB
	users    repository.UserRepository
	posts    repository.PostRepository
	threads  repository.ThreadRepository
	messages repository.MessageRepository
	opts     Options
	faker    *gofakeit.Faker
}

// NewSeeder creates a Seeder bound to db.
func NewSeeder(db *gorm.DB, opts Options) *Seeder {
	seed := opts.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	return &Seeder{
		db:       db,
		users:    repository.NewUserRepository(db),
		posts:    repository.NewPostRepository(db),
		threads:  repository.NewThreadRepository(db),
		messages: repository.NewMessageRepository(db),
		opts:     opts,
		faker:    gofakeit.New(seed),
	}
}

// ClearAll removes every row the seeder can create, children first.
func (s *Seeder) ClearAll(ctx context.Context) error {
	tables := []any{
		&models.Notification{},
		&models.DirectMessage{},
		&models.NodeLike{},
		&models.ThreadNode{},
		&models.PostLike{},
		&models.Post{},
		&models.User{},
	}
	for _, t := range tables {
		tx := s.db.WithContext(ctx).Session(&gorm.Session{AllowGlobalUpdate: true}).Unscoped()
		if err := tx.Delete(t).Error; err != nil {
			return fmt.Errorf("clear %T: %w", t, err)
		}
	}
	slog.InfoContext(ctx, "seed data cleared")
	return nil
}

func (s *Seeder) hashPassword(password string) (string, error) {
	if s.opts.SkipBcrypt {
		return password, nil
	}
	hashed, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hashed), nil
}

// ApplyFixture creates the fixture's users, posts and comments.
func (s *Seeder) ApplyFixture(ctx context.Context, fx *Fixture) (*Result, error) {
	password := fx.Password
	if password == "" {
		password = DefaultPassword
	}
	hashed, err := s.hashPassword(password)
	if err != nil {
		return nil, err
	}

	res := &Result{}
	byEmail := make(map[string]*models.User, len(fx.Users))
	for _, fu := range fx.Users {
		role, err := roleFor(fu.Role)
		if err != nil {
			return nil, err
		}
		u := &models.User{Name: fu.Name, Email: fu.Email, Role: role, Password: hashed, ProfilePic: fu.ProfilePic}
		if err := s.users.Create(ctx, u); err != nil {
			return nil, fmt.Errorf("create user %s: %w", fu.Email, err)
		}
		byEmail[fu.Email] = u
		res.Users = append(res.Users, u)
	}

	for _, fp := range fx.Posts {
		author, ok := byEmail[fp.Author]
		if !ok {
			return nil, fmt.Errorf("post %q: unknown author %s", fp.Title, fp.Author)
		}
		image := fp.Image
		if image == "" {
			image = s.placeholderImage()
		}
		post := &models.Post{Title: fp.Title, Description: fp.Description, UserID: author.ID, Image: image}
		if err := s.posts.Create(ctx, post); err != nil {
			return nil, err
		}
		res.Posts++

		commenters := othersThan(res.Users, author.ID)
		for i, text := range fp.Comments {
			commenter := author
			if len(commenters) > 0 {
				commenter = commenters[i%len(commenters)]
			}
			node := &models.ThreadNode{PostID: post.ID, UserID: commenter.ID, Text: text}
			if err := s.threads.Create(ctx, node); err != nil {
				return nil, err
			}
			res.Nodes++
		}
	}
	return res, nil
}

// SeedRandom creates farmers, officers, posts with nested threads and direct
// messages between farmers and officers.
func (s *Seeder) SeedRandom(ctx context.Context) (*Result, error) {
	hashed, err := s.hashPassword(DefaultPassword)
	if err != nil {
		return nil, err
	}

	res := &Result{}
	var farmers, officers []*models.User
	for i := 0; i < s.opts.Farmers+s.opts.Officers; i++ {
		role := models.RoleFarmer
		if i >= s.opts.Farmers {
			role = models.RoleOfficer
		}
		u := &models.User{
			Name:       s.faker.Name(),
			Email:      fmt.Sprintf("%d.%s", i, s.faker.Email()),
			Role:       role,
			Password:   hashed,
			ProfilePic: fmt.Sprintf("https://i.pravatar.cc/150?u=%s", s.faker.UUID()),
		}
		if err := s.users.Create(ctx, u); err != nil {
			return nil, fmt.Errorf("create user: %w", err)
		}
		res.Users = append(res.Users, u)
		if role == models.RoleOfficer {
			officers = append(officers, u)
		} else {
			farmers = append(farmers, u)
		}
	}
	if len(res.Users) == 0 {
		return res, nil
	}

	for i := 0; i < s.opts.Posts; i++ {
		author := res.Users[s.faker.Number(0, len(res.Users)-1)]
		post := &models.Post{
			Title:       s.faker.Sentence(6),
			Description: s.faker.Paragraph(1, 3, 12, "\n"),
			UserID:      author.ID,
			Image:       s.placeholderImage(),
		}
		if err := s.posts.Create(ctx, post); err != nil {
			return nil, err
		}
		res.Posts++

		n, err := s.seedThread(ctx, post.ID, res.Users)
		if err != nil {
			return nil, err
		}
		res.Nodes += n
	}

	if len(farmers) > 0 && len(officers) > 0 {
		for i := 0; i < s.opts.Messages; i++ {
			farmer := farmers[s.faker.Number(0, len(farmers)-1)]
			officer := officers[s.faker.Number(0, len(officers)-1)]
			sender, receiver := farmer, officer
			if s.faker.Bool() {
				sender, receiver = officer, farmer
			}
			msg := &models.DirectMessage{
				SenderID:   sender.ID,
				ReceiverID: receiver.ID,
				Content:    s.faker.Sentence(8),
				Delivered:  true,
				Read:       s.faker.Bool(),
			}
			if err := s.messages.Create(ctx, msg); err != nil {
				return nil, err
			}
			res.Messages++
		}
	}
	return res, nil
}

// seedThread writes CommentsPerPost nodes. Each node after the first replies
// to a random earlier node half of the time, which yields nesting at any depth.
func (s *Seeder) seedThread(ctx context.Context, postID uint, users []*models.User) (int, error) {
	var ids []uint
	for i := 0; i < s.opts.CommentsPerPost; i++ {
		node := &models.ThreadNode{
			PostID: postID,
			UserID: users[s.faker.Number(0, len(users)-1)].ID,
			Text:   s.faker.Sentence(10),
		}
		if len(ids) > 0 && s.faker.Bool() {
			parent := ids[s.faker.Number(0, len(ids)-1)]
			node.ParentID = &parent
		}
		if err := s.threads.Create(ctx, node); err != nil {
			return len(ids), err
		}
		ids = append(ids, node.ID)
	}
	return len(ids), nil
}

func (s *Seeder) placeholderImage() string {
	return fmt.Sprintf("https://picsum.photos/seed/%s/800/600", s.faker.UUID())
}

func othersThan(users []*models.User, id uint) []*models.User {
	out := make([]*models.User, 0, len(users))
	for _, u := range users {
		if u.ID != id {
			out = append(out, u)
		}
	}
	return out
}
