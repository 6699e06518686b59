package handler

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"

	"github.com/airsenalops/api/internal/auth"
	"github.com/airsenalops/api/internal/model"
	"github.com/airsenalops/api/internal/store"
	ws "github.com/airsenalops/api/internal/websocket"
)

// WSHandler upgrades log subscribers and seeds each connection with the
// persisted backlog before live events.
type WSHandler struct {
	hub    *ws.Hub
	jobs   store.JobStore
	tokens *auth.Service
	logger *slog.Logger
}

func NewWSHandler(hub *ws.Hub, jobs store.JobStore, tokens *auth.Service, logger *slog.Logger) *WSHandler {
	return &WSHandler{
		hub:    hub,
		jobs:   jobs,
		tokens: tokens,
		logger: logger,
	}
}

// Upgrade gates /ws routes to real upgrade requests.
func (h *WSHandler) Upgrade(c *fiber.Ctx) error {
	if websocket.IsWebSocketUpgrade(c) {
		return c.Next()
	}
	return fiber.ErrUpgradeRequired
}

// Handle handles GET /ws/jobs/:jobId
func (h *WSHandler) Handle() fiber.Handler {
	return websocket.New(func(c *websocket.Conn) {
		jobID := c.Params("jobId")

		// Browsers cannot set headers on WebSocket requests, so the token
		// rides in the query string. Connections without a token are still
		// accepted for older dashboard builds.
		if token := c.Query("token"); token != "" {
			if _, err := h.tokens.VerifyToken(token); err != nil {
				h.logger.Warn("websocket authentication failed", "job_id", jobID)
				c.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "Authentication failed"))
				c.Close()
				return
			}
		} else {
			h.logger.Warn("websocket connection without token", "job_id", jobID)
		}

		h.hub.HandleConnection(c, jobID, h.backlog(jobID))
	})
}

// backlog renders the job's persisted log history plus its current status
// as frames delivered ahead of any live event. An unknown job id yields no
// backlog; the subscription itself is still accepted.
func (h *WSHandler) backlog(jobID string) [][]byte {
	job, err := h.jobs.Get(context.Background(), jobID)
	if err != nil {
		return nil
	}

	frames := make([][]byte, 0, len(job.Logs)+1)
	for _, line := range job.Logs {
		if frame, err := json.Marshal(model.NewLogMessage(line)); err == nil {
			frames = append(frames, frame)
		}
	}
	if frame, err := json.Marshal(model.NewStatusMessage(job.Status, job.Error)); err == nil {
		frames = append(frames, frame)
	}
	return frames
}
