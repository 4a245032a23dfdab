package server

import (
	"io"

	"betelconnect/internal/models"
	"betelconnect/internal/service"

	"github.com/gofiber/fiber/v2"
)

type postRequest struct {
	Title       string `json:"title" form:"title"`
	Description string `json:"description" form:"description"`
	// Image is an inline data URI. Multipart requests send a file field instead.
	Image string `json:"image" form:"image"`
}

// parsePostRequest accepts JSON with a data URI image or a multipart form
// with an "image" file part.
func parsePostRequest(c *fiber.Ctx) (postRequest, []byte, error) {
	var req postRequest
	if err := c.BodyParser(&req); err != nil {
		return req, nil, models.NewValidationError("Invalid request body")
	}

	fh, err := c.FormFile("image")
	if err != nil {
		// not multipart, or no file part
		return req, nil, nil
	}
	f, err := fh.Open()
	if err != nil {
		return req, nil, models.NewValidationError("Unreadable image upload")
	}
	defer f.Close()
	data, err := io.ReadAll(f)
	if err != nil {
		return req, nil, models.NewValidationError("Unreadable image upload")
	}
	return req, data, nil
}

// GetPosts handles GET /api/posts?sort=&scope=
func (s *Server) GetPosts(c *fiber.Ctx) error {
	userID, err := currentUserID(c)
	if err != nil {
		return nil
	}

	posts, err := s.postService.ListPosts(c.UserContext(), service.ListPostsInput{
		ViewerID: userID,
		Sort:     c.Query("sort", "latest"),
		Scope:    c.Query("scope", service.ScopeAll),
	})
	if err != nil {
		return respondErr(c, err)
	}
	return c.JSON(posts)
}

// CreatePost handles POST /api/posts
func (s *Server) CreatePost(c *fiber.Ctx) error {
	userID, err := currentUserID(c)
	if err != nil {
		return nil
	}

	req, data, err := parsePostRequest(c)
	if err != nil {
		return respondErr(c, err)
	}

	post, err := s.postService.CreatePost(c.UserContext(), service.CreatePostInput{
		UserID:       userID,
		Title:        req.Title,
		Description:  req.Description,
		Image:        data,
		ImageDataURI: req.Image,
	})
	if err != nil {
		return respondErr(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(post)
}

// UpdatePost handles PUT /api/posts/:id
func (s *Server) UpdatePost(c *fiber.Ctx) error {
	userID, err := currentUserID(c)
	if err != nil {
		return nil
	}
	postID, err := s.parseID(c, "id")
	if err != nil {
		return nil
	}

	req, data, err := parsePostRequest(c)
	if err != nil {
		return respondErr(c, err)
	}

	post, err := s.postService.UpdatePost(c.UserContext(), service.UpdatePostInput{
		UserID:       userID,
		PostID:       postID,
		Title:        req.Title,
		Description:  req.Description,
		Image:        data,
		ImageDataURI: req.Image,
	})
	if err != nil {
		return respondErr(c, err)
	}
	return c.JSON(post)
}

// DeletePost handles DELETE /api/posts/:id
func (s *Server) DeletePost(c *fiber.Ctx) error {
	userID, err := currentUserID(c)
	if err != nil {
		return nil
	}
	postID, err := s.parseID(c, "id")
	if err != nil {
		return nil
	}

	if err := s.postService.DeletePost(c.UserContext(), postID, userID); err != nil {
		return respondErr(c, err)
	}
	return c.JSON(fiber.Map{"message": "Post deleted successfully", "post_id": postID})
}

// LikePost handles POST /api/posts/:id/like and toggles the caller's like.
func (s *Server) LikePost(c *fiber.Ctx) error {
	userID, err := currentUserID(c)
	if err != nil {
		return nil
	}
	postID, err := s.parseID(c, "id")
	if err != nil {
		return nil
	}

	res, err := s.postService.ToggleLike(c.UserContext(), postID, userID)
	if err != nil {
		return respondErr(c, err)
	}
	return c.JSON(res)
}
