package web

import (
	"errors"

	"ikak/internal/models"
	"ikak/internal/store"

	"github.com/gofiber/fiber/v2"
)

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type contentRequest struct {
	Content string `json:"content"`
}

type pageRequest struct {
	Page models.Page `json:"page"`
}

func respond(c *fiber.Ctx, err error) error {
	return models.RespondWithError(c, models.StatusFor(err), err)
}

func parseBody(c *fiber.Ctx, dst any) error {
	if err := c.BodyParser(dst); err != nil {
		return respond(c, models.NewValidationError("Invalid request body"))
	}
	return nil
}

// GetSession restores a persisted session on first load and returns the state.
func (h *Host) GetSession(c *fiber.Ctx) error {
	s := session(c)
	s.State.Restore(c.UserContext())
	return c.JSON(s.State.Snapshot())
}

// SetPage switches the screen the client shows.
func (h *Host) SetPage(c *fiber.Ctx) error {
	var req pageRequest
	if err := parseBody(c, &req); err != nil {
		return err
	}
	s := session(c)
	if err := s.State.SetPage(req.Page); err != nil {
		return respond(c, err)
	}
	return c.JSON(s.State.Snapshot())
}

// Login signs in with email and password.
func (h *Host) Login(c *fiber.Ctx) error {
	var req loginRequest
	if err := parseBody(c, &req); err != nil {
		return err
	}
	s := session(c)
	if err := s.State.Login(c.UserContext(), req.Email, req.Password); err != nil {
		return respond(c, err)
	}
	return c.JSON(s.State.Snapshot())
}

// Register creates an account. 202 means the email must be confirmed before
// the account can be used.
func (h *Host) Register(c *fiber.Ctx) error {
	var req store.RegisterInput
	if err := parseBody(c, &req); err != nil {
		return err
	}
	s := session(c)
	err := s.State.Register(c.UserContext(), req)
	switch {
	case errors.Is(err, store.ErrConfirmationRequired):
		return c.Status(fiber.StatusAccepted).JSON(fiber.Map{"status": "confirmation_required"})
	case err != nil:
		return respond(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(s.State.Snapshot())
}

// Activate polls for the session created by opening a confirmation link.
func (h *Host) Activate(c *fiber.Ctx) error {
	s := session(c)
	ok := s.State.ActivateSession(c.UserContext())
	return c.JSON(fiber.Map{
		"activated": ok,
		"session":   s.State.Snapshot(),
	})
}

// Logout signs out and returns the cleared state.
func (h *Host) Logout(c *fiber.Ctx) error {
	s := session(c)
	s.State.Logout(c.UserContext())
	return c.JSON(s.State.Snapshot())
}

// ListPosts returns the feed held by the session.
func (h *Host) ListPosts(c *fiber.Ctx) error {
	return c.JSON(session(c).State.Posts())
}

// RefreshPosts reloads the feed from the backend.
func (h *Host) RefreshPosts(c *fiber.Ctx) error {
	s := session(c)
	if err := s.State.RefreshPosts(c.UserContext()); err != nil {
		return respond(c, err)
	}
	return c.JSON(s.State.Posts())
}

// CreatePost publishes a post.
func (h *Host) CreatePost(c *fiber.Ctx) error {
	var req contentRequest
	if err := parseBody(c, &req); err != nil {
		return err
	}
	post, err := session(c).State.AddPost(c.UserContext(), req.Content)
	if err != nil {
		return respond(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(post)
}

// DeletePost removes one of the user's own posts.
func (h *Host) DeletePost(c *fiber.Ctx) error {
	if err := session(c).State.DeletePost(c.UserContext(), c.Params("id")); err != nil {
		return respond(c, err)
	}
	return c.SendStatus(fiber.StatusNoContent)
}

// ToggleLike likes or unlikes a post.
func (h *Host) ToggleLike(c *fiber.Ctx) error {
	post, err := session(c).State.ToggleLike(c.UserContext(), c.Params("id"))
	if err != nil {
		return respond(c, err)
	}
	return c.JSON(post)
}

// AddComment comments on a post.
func (h *Host) AddComment(c *fiber.Ctx) error {
	var req contentRequest
	if err := parseBody(c, &req); err != nil {
		return err
	}
	comment, err := session(c).State.AddComment(c.UserContext(), c.Params("id"), req.Content)
	if err != nil {
		return respond(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(comment)
}

// UpdateProfile applies a sparse profile patch.
func (h *Host) UpdateProfile(c *fiber.Ctx) error {
	var req models.ProfileUpdate
	if err := parseBody(c, &req); err != nil {
		return err
	}
	user, err := session(c).State.UpdateProfile(c.UserContext(), req)
	if err != nil {
		return respond(c, err)
	}
	return c.JSON(user)
}

// GetSettings returns the local settings.
func (h *Host) GetSettings(c *fiber.Ctx) error {
	return c.JSON(session(c).State.Settings())
}

// UpdateSettings merges a settings patch.
func (h *Host) UpdateSettings(c *fiber.Ctx) error {
	var req models.SettingsUpdate
	if err := parseBody(c, &req); err != nil {
		return err
	}
	return c.JSON(session(c).State.UpdateSettings(req))
}
