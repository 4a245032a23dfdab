package server

import (
	"betelconnect/internal/models"

	"github.com/gofiber/fiber/v2"
)

type messageRequest struct {
	// Content is text or an image data URI.
	Content string `json:"content"`
}

func parseMessageContent(c *fiber.Ctx) (string, error) {
	var req messageRequest
	if err := c.BodyParser(&req); err != nil {
		return "", models.NewValidationError("Invalid request body")
	}
	return req.Content, nil
}

// GetContacts handles GET /api/messages/contacts?type=farmers|officers
func (s *Server) GetContacts(c *fiber.Ctx) error {
	userID, err := currentUserID(c)
	if err != nil {
		return nil
	}

	contacts, err := s.messageService.Contacts(c.UserContext(), userID, c.Query("type"))
	if err != nil {
		return respondErr(c, err)
	}
	return c.JSON(contacts)
}

// GetConversation handles GET /api/messages/:userId
func (s *Server) GetConversation(c *fiber.Ctx) error {
	userID, err := currentUserID(c)
	if err != nil {
		return nil
	}
	otherID, err := s.parseID(c, "userId")
	if err != nil {
		return nil
	}

	msgs, err := s.messageService.Conversation(c.UserContext(), userID, otherID)
	if err != nil {
		return respondErr(c, err)
	}
	return c.JSON(msgs)
}

// SendMessage handles POST /api/messages/:userId
func (s *Server) SendMessage(c *fiber.Ctx) error {
	userID, err := currentUserID(c)
	if err != nil {
		return nil
	}
	receiverID, err := s.parseID(c, "userId")
	if err != nil {
		return nil
	}
	content, err := parseMessageContent(c)
	if err != nil {
		return respondErr(c, err)
	}

	msg, err := s.messageService.Send(c.UserContext(), userID, receiverID, content)
	if err != nil {
		return respondErr(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(msg)
}

// UpdateMessage handles PUT /api/messages/item/:messageId
func (s *Server) UpdateMessage(c *fiber.Ctx) error {
	userID, err := currentUserID(c)
	if err != nil {
		return nil
	}
	messageID, err := s.parseID(c, "messageId")
	if err != nil {
		return nil
	}
	content, err := parseMessageContent(c)
	if err != nil {
		return respondErr(c, err)
	}

	msg, err := s.messageService.Edit(c.UserContext(), messageID, userID, content)
	if err != nil {
		return respondErr(c, err)
	}
	if msg == nil {
		return respondErr(c, models.NewNotFoundError("Message", messageID))
	}
	return c.JSON(msg)
}

// DeleteMessage handles DELETE /api/messages/item/:messageId
func (s *Server) DeleteMessage(c *fiber.Ctx) error {
	userID, err := currentUserID(c)
	if err != nil {
		return nil
	}
	messageID, err := s.parseID(c, "messageId")
	if err != nil {
		return nil
	}

	if err := s.messageService.Delete(c.UserContext(), messageID, userID); err != nil {
		return respondErr(c, err)
	}
	return c.JSON(fiber.Map{"message_id": messageID})
}

// MarkMessagesRead handles POST /api/messages/:userId/read. It marks every
// unread message from :userId to the caller as read.
func (s *Server) MarkMessagesRead(c *fiber.Ctx) error {
	userID, err := currentUserID(c)
	if err != nil {
		return nil
	}
	senderID, err := s.parseID(c, "userId")
	if err != nil {
		return nil
	}

	n, err := s.messageService.MarkRead(c.UserContext(), userID, senderID)
	if err != nil {
		return respondErr(c, err)
	}
	return c.JSON(fiber.Map{"updated": n})
}
