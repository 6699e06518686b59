package handler

import (
	"errors"

	"github.com/gofiber/fiber/v2"

	"github.com/airsenalops/api/internal/model"
	"github.com/airsenalops/api/internal/store"
	"github.com/airsenalops/api/pkg/response"
)

type ReportsHandler struct {
	jobs store.JobStore
}

func NewReportsHandler(jobs store.JobStore) *ReportsHandler {
	return &ReportsHandler{jobs: jobs}
}

// Latest handles GET /api/reports/latest
func (h *ReportsHandler) Latest(c *fiber.Ctx) error {
	prediction, err := h.latestFor(c, model.JobCommandPredict)
	if err != nil {
		return response.ServiceError(c, err.Error())
	}
	optimisation, err := h.latestFor(c, model.JobCommandOptimize)
	if err != nil {
		return response.ServiceError(c, err.Error())
	}

	return response.OK(c, model.LatestReports{
		Prediction:   prediction,
		Optimisation: optimisation,
	})
}

func (h *ReportsHandler) latestFor(c *fiber.Ctx, command model.JobCommand) (*model.LatestReport, error) {
	job, err := h.jobs.LatestCompletedOutput(c.Context(), command)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}

	return &model.LatestReport{
		JobOutput:   *job.Output,
		JobID:       job.ID,
		CompletedAt: job.CompletedAt,
	}, nil
}
