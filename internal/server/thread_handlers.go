package server

import (
	"betelconnect/internal/models"

	"github.com/gofiber/fiber/v2"
)

type nodeTextRequest struct {
	Text string `json:"text"`
}

func parseNodeText(c *fiber.Ctx) (string, error) {
	var req nodeTextRequest
	if err := c.BodyParser(&req); err != nil {
		return "", models.NewValidationError("Invalid request body")
	}
	return req.Text, nil
}

// GetComments handles GET /api/posts/:id/comments
func (s *Server) GetComments(c *fiber.Ctx) error {
	userID, err := currentUserID(c)
	if err != nil {
		return nil
	}
	postID, err := s.parseID(c, "id")
	if err != nil {
		return nil
	}

	view, err := s.threadService.ListThread(c.UserContext(), postID, userID)
	if err != nil {
		return respondErr(c, err)
	}
	return c.JSON(view)
}

// CreateComment handles POST /api/posts/:id/comments
func (s *Server) CreateComment(c *fiber.Ctx) error {
	userID, err := currentUserID(c)
	if err != nil {
		return nil
	}
	postID, err := s.parseID(c, "id")
	if err != nil {
		return nil
	}
	text, err := parseNodeText(c)
	if err != nil {
		return respondErr(c, err)
	}

	node, err := s.threadService.AddComment(c.UserContext(), postID, userID, text)
	if err != nil {
		return respondErr(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(node)
}

// CreateReply handles POST /api/posts/:id/nodes/:nodeId/replies. The parent
// may be a comment or a reply at any depth.
func (s *Server) CreateReply(c *fiber.Ctx) error {
	userID, err := currentUserID(c)
	if err != nil {
		return nil
	}
	postID, err := s.parseID(c, "id")
	if err != nil {
		return nil
	}
	parentID, err := s.parseID(c, "nodeId")
	if err != nil {
		return nil
	}
	text, err := parseNodeText(c)
	if err != nil {
		return respondErr(c, err)
	}

	node, err := s.threadService.AddReply(c.UserContext(), postID, parentID, userID, text)
	if err != nil {
		return respondErr(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(node)
}

// UpdateNode handles PUT /api/posts/:id/nodes/:nodeId
func (s *Server) UpdateNode(c *fiber.Ctx) error {
	userID, err := currentUserID(c)
	if err != nil {
		return nil
	}
	postID, err := s.parseID(c, "id")
	if err != nil {
		return nil
	}
	nodeID, err := s.parseID(c, "nodeId")
	if err != nil {
		return nil
	}
	text, err := parseNodeText(c)
	if err != nil {
		return respondErr(c, err)
	}

	node, err := s.threadService.UpdateText(c.UserContext(), postID, nodeID, userID, text)
	if err != nil {
		return respondErr(c, err)
	}
	return c.JSON(node)
}

// DeleteNode handles DELETE /api/posts/:id/nodes/:nodeId and removes the
// whole subtree.
func (s *Server) DeleteNode(c *fiber.Ctx) error {
	userID, err := currentUserID(c)
	if err != nil {
		return nil
	}
	postID, err := s.parseID(c, "id")
	if err != nil {
		return nil
	}
	nodeID, err := s.parseID(c, "nodeId")
	if err != nil {
		return nil
	}

	removed, err := s.threadService.DeleteNode(c.UserContext(), postID, nodeID, userID)
	if err != nil {
		return respondErr(c, err)
	}
	return c.JSON(fiber.Map{"deleted": removed})
}

// LikeNode handles POST /api/posts/:id/nodes/:nodeId/like
func (s *Server) LikeNode(c *fiber.Ctx) error {
	userID, err := currentUserID(c)
	if err != nil {
		return nil
	}
	postID, err := s.parseID(c, "id")
	if err != nil {
		return nil
	}
	nodeID, err := s.parseID(c, "nodeId")
	if err != nil {
		return nil
	}

	res, err := s.threadService.ToggleLike(c.UserContext(), postID, nodeID, userID)
	if err != nil {
		return respondErr(c, err)
	}
	return c.JSON(res)
}
