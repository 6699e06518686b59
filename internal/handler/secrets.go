package handler

import (
	"errors"
	"log/slog"
	"slices"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"

	"github.com/airsenalops/api/internal/middleware"
	"github.com/airsenalops/api/internal/model"
	"github.com/airsenalops/api/internal/store"
	"github.com/airsenalops/api/pkg/response"
)

type SecretsHandler struct {
	secrets   store.SecretStore
	validator *validator.Validate
	logger    *slog.Logger
}

func NewSecretsHandler(secrets store.SecretStore, v *validator.Validate, logger *slog.Logger) *SecretsHandler {
	return &SecretsHandler{
		secrets:   secrets,
		validator: v,
		logger:    logger,
	}
}

// List handles GET /api/secrets
func (h *SecretsHandler) List(c *fiber.Ctx) error {
	statuses, err := h.secrets.List(c.Context())
	if err != nil {
		return response.ServiceError(c, err.Error())
	}
	return response.OK(c, statuses)
}

// Update handles POST /api/secrets
func (h *SecretsHandler) Update(c *fiber.Ctx) error {
	var req model.SecretUpdate
	if err := c.BodyParser(&req); err != nil {
		return response.ValidationError(c, "Invalid request body", nil)
	}

	if err := h.validator.Struct(&req); err != nil {
		return response.ValidationError(c, "Validation failed", formatValidationErrors(err))
	}

	if !slices.Contains(model.AllowedSecretKeys, req.Key) {
		h.logger.Warn("storing unrecognised secret key", "key", req.Key)
	}

	if err := h.secrets.Set(c.Context(), req.Key, req.Value); err != nil {
		return response.ServiceError(c, "Failed to update secret: "+err.Error())
	}

	h.logger.Info("secret updated", "key", req.Key, "email", middleware.GetUserEmail(c))
	return response.OK(c, model.SecretActionResponse{Success: true, Key: req.Key})
}

// Delete handles DELETE /api/secrets/:key
func (h *SecretsHandler) Delete(c *fiber.Ctx) error {
	key := c.Params("key")

	if err := h.secrets.Delete(c.Context(), key); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return response.NotFound(c, "Secret not found")
		}
		return response.ServiceError(c, err.Error())
	}

	h.logger.Info("secret deleted", "key", key, "email", middleware.GetUserEmail(c))
	return response.OK(c, model.SecretActionResponse{Success: true, Key: key})
}
