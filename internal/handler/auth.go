package handler

import (
	"log/slog"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"

	"github.com/airsenalops/api/internal/auth"
	"github.com/airsenalops/api/internal/middleware"
	"github.com/airsenalops/api/internal/model"
	"github.com/airsenalops/api/internal/store"
	"github.com/airsenalops/api/pkg/response"
)

// AuthHandler implements the single-admin login flow. The admin identity
// lives in the secret store, not in configuration, so it can be rotated
// from the dashboard.
type AuthHandler struct {
	tokens    *auth.Service
	secrets   store.SecretStore
	validator *validator.Validate
	logger    *slog.Logger
}

func NewAuthHandler(tokens *auth.Service, secrets store.SecretStore, v *validator.Validate, logger *slog.Logger) *AuthHandler {
	return &AuthHandler{
		tokens:    tokens,
		secrets:   secrets,
		validator: v,
		logger:    logger,
	}
}

// Login handles POST /api/auth/login
func (h *AuthHandler) Login(c *fiber.Ctx) error {
	var req model.LoginRequest
	if err := c.BodyParser(&req); err != nil {
		return response.ValidationError(c, "Invalid request body", nil)
	}

	if err := h.validator.Struct(&req); err != nil {
		return response.ValidationError(c, "Validation failed", formatValidationErrors(err))
	}

	h.logger.Info("login attempt", "email", req.Email)

	adminEmail, emailErr := h.secrets.Get(c.Context(), model.SecretKeyAdminEmail)
	adminHash, hashErr := h.secrets.Decode(c.Context(), model.SecretKeyAdminPasswordHash)
	if emailErr != nil || hashErr != nil || adminEmail == "" || adminHash == "" {
		h.logger.Warn("admin credentials not configured")
		return response.Unauthorized(c, "Admin credentials not configured")
	}

	if req.Email != adminEmail {
		h.logger.Warn("login failed: unknown email", "email", req.Email)
		return response.Unauthorized(c, "Invalid credentials")
	}
	if !auth.VerifyPassword(req.Password, adminHash) {
		h.logger.Warn("login failed: wrong password", "email", req.Email)
		return response.Unauthorized(c, "Invalid credentials")
	}

	token, err := h.tokens.GenerateToken(req.Email)
	if err != nil {
		return response.ServiceError(c, "Failed to issue token")
	}

	h.logger.Info("login successful", "email", req.Email)
	return response.OK(c, model.LoginResponse{Token: token, Email: req.Email})
}

// Check handles GET /api/auth/check
func (h *AuthHandler) Check(c *fiber.Ctx) error {
	email := middleware.GetUserEmail(c)

	adminEmail, err := h.secrets.Get(c.Context(), model.SecretKeyAdminEmail)
	if err != nil || email != adminEmail {
		h.logger.Warn("auth check rejected", "email", email)
		return response.Forbidden(c, "Unauthorized")
	}

	return response.OK(c, model.AuthCheckResponse{Email: email, Authenticated: true})
}

// HashPassword handles POST /api/auth/hash-password
func (h *AuthHandler) HashPassword(c *fiber.Ctx) error {
	var req model.HashPasswordRequest
	if err := c.BodyParser(&req); err != nil {
		return response.ValidationError(c, "Invalid request body", nil)
	}

	if err := h.validator.Struct(&req); err != nil {
		return response.ValidationError(c, "Validation failed", formatValidationErrors(err))
	}

	hash, err := auth.HashPassword(req.Password)
	if err != nil {
		return response.ServiceError(c, "Failed to hash password")
	}

	return response.OK(c, model.HashPasswordResponse{Hash: hash})
}
