package server

import (
	"net/url"
	"strconv"
	"strings"

	"ikak/internal/backend"
	"ikak/internal/middleware"
	"ikak/internal/models"
	"ikak/internal/service"

	"github.com/gofiber/fiber/v2"
)

type signupRequest struct {
	Email    string         `json:"email"`
	Password string         `json:"password"`
	Data     map[string]any `json:"data"`
}

type signupResponse struct {
	User    *backend.AuthUser `json:"user"`
	Session *backend.Session  `json:"session"`
}

// Signup handles POST /auth/v1/signup. The session is null when the account
// still has to be confirmed.
func (s *Server) Signup(c *fiber.Ctx) error {
	var req signupRequest
	if err := c.BodyParser(&req); err != nil {
		return models.RespondWithError(c, fiber.StatusBadRequest,
			models.NewValidationError("Invalid request body"))
	}

	user, session, err := s.auth.SignUp(c.UserContext(), service.SignUpInput{
		Email:      req.Email,
		Password:   req.Password,
		Data:       req.Data,
		RedirectTo: c.Query("redirect_to"),
	})
	if err != nil {
		return respondAuthError(c, err)
	}
	return c.JSON(signupResponse{User: user, Session: session})
}

type tokenRequest struct {
	Email        string `json:"email"`
	Password     string `json:"password"`
	RefreshToken string `json:"refresh_token"`
}

// Token handles POST /auth/v1/token for the password and refresh_token grants.
func (s *Server) Token(c *fiber.Ctx) error {
	var req tokenRequest
	if err := c.BodyParser(&req); err != nil {
		return models.RespondWithError(c, fiber.StatusBadRequest,
			models.NewValidationError("Invalid request body"))
	}

	var (
		session *backend.Session
		err     error
	)
	switch grant := c.Query("grant_type"); grant {
	case "password":
		if req.Email == "" || req.Password == "" {
			return models.RespondWithError(c, fiber.StatusBadRequest,
				models.NewValidationError("missing email or password"))
		}
		session, err = s.auth.SignIn(c.UserContext(), req.Email, req.Password)
	case "refresh_token":
		if req.RefreshToken == "" {
			return models.RespondWithError(c, fiber.StatusBadRequest,
				models.NewValidationError("missing refresh token"))
		}
		session, err = s.auth.Refresh(c.UserContext(), req.RefreshToken)
	default:
		return models.RespondWithError(c, fiber.StatusBadRequest,
			models.NewValidationError("unsupported grant type: "+grant))
	}
	if err != nil {
		return respondAuthError(c, err)
	}
	return c.JSON(session)
}

// Logout handles POST /auth/v1/logout.
func (s *Server) Logout(c *fiber.Ctx) error {
	if err := s.auth.Logout(c.UserContext(), middleware.UserID(c)); err != nil {
		return respondAuthError(c, err)
	}
	return c.SendStatus(fiber.StatusNoContent)
}

// GetUser handles GET /auth/v1/user.
func (s *Server) GetUser(c *fiber.Ctx) error {
	user, err := s.auth.GetUser(c.UserContext(), middleware.UserID(c))
	if err != nil {
		return respondAuthError(c, err)
	}
	return c.JSON(user)
}

// Settings handles GET /auth/v1/settings: the switches a client needs before
// signing up.
func (s *Server) Settings(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"mailer_autoconfirm": !s.featureFlags.Enabled(service.FlagEmailConfirmation, ""),
		"features":           s.featureFlags.Raw(),
	})
}

// Verify handles GET /auth/v1/verify?token=...&redirect_to=... from a
// confirmation email. With a redirect it sends the browser back to the site
// carrying the new session in the URL fragment; otherwise it answers with the
// session as JSON.
func (s *Server) Verify(c *fiber.Ctx) error {
	session, err := s.auth.Verify(c.UserContext(), c.Query("token"))
	if err != nil {
		return respondAuthError(c, err)
	}

	target := s.redirectTarget(c.Query("redirect_to"))
	if target == "" {
		return c.JSON(session)
	}
	fragment := url.Values{
		"access_token":  {session.AccessToken},
		"refresh_token": {session.RefreshToken},
		"expires_in":    {strconv.Itoa(session.ExpiresIn)},
		"token_type":    {session.TokenType},
		"type":          {"signup"},
	}
	return c.Redirect(target+"#"+fragment.Encode(), fiber.StatusSeeOther)
}

// redirectTarget only allows redirects back to the configured site.
func (s *Server) redirectTarget(raw string) string {
	site := strings.TrimRight(s.config.SiteURL, "/")
	if raw == "" || site == "" {
		return ""
	}
	if raw == site || strings.HasPrefix(raw, site+"/") {
		return raw
	}
	return site
}

func respondAuthError(c *fiber.Ctx, err error) error {
	return models.RespondWithError(c, models.StatusFor(err), err)
}
