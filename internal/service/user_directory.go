package service

import (
	"context"
	"time"

	"betelconnect/internal/models"
	"betelconnect/internal/repository"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

// DefaultProfilePic is shown for users without an uploaded picture.
const DefaultProfilePic = "/static/images/default_profile.png"

// UnknownUserName stands in for authors whose account no longer resolves.
const UnknownUserName = "Unknown User"

// DirectoryEntry is the public display data of a user.
type DirectoryEntry struct {
	ID         uint   `json:"id"`
	Name       string `json:"name"`
	ProfilePic string `json:"profile_pic"`
	Role       string `json:"role"`
}

// IsOfficer reports whether the entry holds the officer role.
func (e DirectoryEntry) IsOfficer() bool { return e.Role == models.RoleOfficer }

// Directory resolves user ids to display data.
type Directory interface {
	GetByID(ctx context.Context, id uint) (DirectoryEntry, error)
}

// UserDirectory is a read-through cache in front of the user repository.
// Capacity of zero means unlimited size, ttl of zero means entries never expire.
type UserDirectory struct {
	users repository.UserRepository
	cache *expirable.LRU[uint, DirectoryEntry]
}

var _ Directory = (*UserDirectory)(nil)

func NewUserDirectory(users repository.UserRepository, capacity int, ttl time.Duration) *UserDirectory {
	return &UserDirectory{
		users: users,
		cache: expirable.NewLRU[uint, DirectoryEntry](capacity, nil, ttl),
	}
}

func (d *UserDirectory) GetByID(ctx context.Context, id uint) (DirectoryEntry, error) {
	if e, ok := d.cache.Get(id); ok {
		return e, nil
	}
	u, err := d.users.GetByID(ctx, id)
	if err != nil {
		return DirectoryEntry{}, err
	}
	e := EntryFor(u)
	d.cache.Add(id, e)
	return e, nil
}

// EntryFor converts a user row to its public display data.
func EntryFor(u *models.User) DirectoryEntry {
	pic := u.ProfilePic
	if pic == "" {
		pic = DefaultProfilePic
	}
	return DirectoryEntry{ID: u.ID, Name: u.Name, ProfilePic: pic, Role: u.Role}
}

// displayEntry resolves id for rendering, falling back to a placeholder.
func displayEntry(ctx context.Context, dir Directory, id uint) DirectoryEntry {
	e, err := dir.GetByID(ctx, id)
	if err != nil {
		return DirectoryEntry{ID: id, Name: UnknownUserName, ProfilePic: DefaultProfilePic}
	}
	return e
}
