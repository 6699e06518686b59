package handler

import (
	"context"
	"errors"
	"log/slog"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"

	"github.com/airsenalops/api/internal/middleware"
	"github.com/airsenalops/api/internal/model"
	"github.com/airsenalops/api/internal/queue"
	"github.com/airsenalops/api/internal/store"
	"github.com/airsenalops/api/pkg/response"
)

// JobQueue is the slice of the queue the HTTP layer drives.
type JobQueue interface {
	Submit(ctx context.Context, command model.JobCommand, parameters map[string]any) (*model.Job, error)
	Cancel(ctx context.Context, jobID string) error
}

type JobsHandler struct {
	queue     JobQueue
	jobs      store.JobStore
	validator *validator.Validate
	logger    *slog.Logger
}

func NewJobsHandler(q JobQueue, jobs store.JobStore, v *validator.Validate, logger *slog.Logger) *JobsHandler {
	return &JobsHandler{
		queue:     q,
		jobs:      jobs,
		validator: v,
		logger:    logger,
	}
}

// Create handles POST /api/jobs
func (h *JobsHandler) Create(c *fiber.Ctx) error {
	var req model.JobCreate
	if err := c.BodyParser(&req); err != nil {
		return response.ValidationError(c, "Invalid request body", nil)
	}

	if err := h.validator.Struct(&req); err != nil {
		return response.ValidationError(c, "Validation failed", formatValidationErrors(err))
	}

	job, err := h.queue.Submit(c.Context(), req.Command, req.Parameters)
	if err != nil {
		return response.ServiceError(c, err.Error())
	}

	h.logger.Info("job created",
		"job_id", job.ID, "command", job.Command, "email", middleware.GetUserEmail(c))
	return response.Accepted(c, job)
}

// List handles GET /api/jobs
func (h *JobsHandler) List(c *fiber.Ctx) error {
	jobs, err := h.jobs.List(c.Context(), 50)
	if err != nil {
		return response.ServiceError(c, err.Error())
	}
	return response.OK(c, jobs)
}

// Get handles GET /api/jobs/:jobId
func (h *JobsHandler) Get(c *fiber.Ctx) error {
	job, err := h.jobs.Get(c.Context(), c.Params("jobId"))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return response.NotFound(c, "Job not found")
		}
		return response.ServiceError(c, err.Error())
	}
	return response.OK(c, job)
}

// Cancel handles POST /api/jobs/:jobId/cancel
func (h *JobsHandler) Cancel(c *fiber.Ctx) error {
	jobID := c.Params("jobId")

	if err := h.queue.Cancel(c.Context(), jobID); err != nil {
		if errors.Is(err, queue.ErrNotRunning) {
			return response.JobNotRunning(c, "Job is not currently running")
		}
		return response.ServiceError(c, err.Error())
	}

	h.logger.Info("job cancelled", "job_id", jobID, "email", middleware.GetUserEmail(c))
	return response.OK(c, model.JobActionResponse{Success: true, JobID: jobID})
}

// ClearAllLogs handles DELETE /api/jobs/logs
func (h *JobsHandler) ClearAllLogs(c *fiber.Ctx) error {
	cleared, err := h.jobs.ClearAllLogs(c.Context())
	if err != nil {
		return response.ServiceError(c, err.Error())
	}

	h.logger.Info("all job logs cleared", "count", cleared, "email", middleware.GetUserEmail(c))
	return response.OK(c, model.LogsClearedResponse{Success: true, Cleared: cleared})
}

// ClearLogs handles DELETE /api/jobs/:jobId/logs
func (h *JobsHandler) ClearLogs(c *fiber.Ctx) error {
	jobID := c.Params("jobId")

	if err := h.jobs.ClearLogs(c.Context(), jobID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return response.NotFound(c, "Job not found")
		}
		return response.ServiceError(c, err.Error())
	}

	h.logger.Info("job logs cleared", "job_id", jobID, "email", middleware.GetUserEmail(c))
	return response.OK(c, model.JobActionResponse{Success: true, JobID: jobID})
}

// Output handles GET /api/jobs/:jobId/output
func (h *JobsHandler) Output(c *fiber.Ctx) error {
	job, err := h.jobs.Get(c.Context(), c.Params("jobId"))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return response.NotFound(c, "Job not found")
		}
		return response.ServiceError(c, err.Error())
	}

	return response.OK(c, model.JobOutputView{
		ID:          job.ID,
		Command:     job.Command,
		Status:      job.Status,
		Parameters:  job.Parameters,
		CompletedAt: job.CompletedAt,
		Output:      job.Output,
	})
}

// formatValidationErrors formats validator errors for response
func formatValidationErrors(err error) interface{} {
	if validationErrors, ok := err.(validator.ValidationErrors); ok {
		errors := make(map[string]string)
		for _, e := range validationErrors {
			errors[e.Field()] = e.Tag()
		}
		return errors
	}
	return nil
}
