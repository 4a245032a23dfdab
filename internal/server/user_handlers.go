package server

import (
	"time"

	"betelconnect/internal/service"

	"github.com/gofiber/fiber/v2"
)

// UserProfile is the public profile with live presence.
type UserProfile struct {
	service.DirectoryEntry
	Online   bool       `json:"online"`
	LastSeen *time.Time `json:"last_seen,omitempty"`
}

// GetUserProfile handles GET /api/users/:id
func (s *Server) GetUserProfile(c *fiber.Ctx) error {
	id, err := s.parseID(c, "id")
	if err != nil {
		return nil
	}

	ctx := c.UserContext()
	user, err := s.userRepo.GetByID(ctx, id)
	if err != nil {
		return respondErr(c, err)
	}

	profile := UserProfile{DirectoryEntry: service.EntryFor(user)}
	if s.presence != nil {
		profile.Online = s.presence.IsOnline(id)
		if !profile.Online {
			if t, ok := s.presence.LastSeen(ctx, id); ok {
				profile.LastSeen = &t
			}
		}
	}
	return c.JSON(profile)
}
