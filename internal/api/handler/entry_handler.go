package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"feedsync/internal/api/dto"
)

// MarkRead handles POST /api/v1/entries/:entry_id/read
func (h *Handler) MarkRead(c *gin.Context) {
	h.applyMutation(c, func(ctx context.Context, userID, entryID string, changedAt time.Time) (bool, error) {
		return h.store.ApplyReadState(ctx, userID, entryID, true, changedAt)
	})
}

// MarkUnread handles POST /api/v1/entries/:entry_id/unread
func (h *Handler) MarkUnread(c *gin.Context) {
	h.applyMutation(c, func(ctx context.Context, userID, entryID string, changedAt time.Time) (bool, error) {
		return h.store.ApplyReadState(ctx, userID, entryID, false, changedAt)
	})
}

// Star handles POST /api/v1/entries/:entry_id/star
func (h *Handler) Star(c *gin.Context) {
	h.applyMutation(c, func(ctx context.Context, userID, entryID string, changedAt time.Time) (bool, error) {
		return h.store.ApplyStarState(ctx, userID, entryID, true, changedAt)
	})
}

// Unstar handles POST /api/v1/entries/:entry_id/unstar
func (h *Handler) Unstar(c *gin.Context) {
	h.applyMutation(c, func(ctx context.Context, userID, entryID string, changedAt time.Time) (bool, error) {
		return h.store.ApplyStarState(ctx, userID, entryID, false, changedAt)
	})
}

// applyMutation is the shared body of the four mutation endpoints. Mutations
// are keyed by (entry_id, changed_at): the store only advances state when the
// client timestamp is newer than the recorded one, so retried or duplicated
// requests are safe and a stale replay cannot clobber a newer intent.
func (h *Handler) applyMutation(c *gin.Context, apply func(context.Context, string, string, time.Time) (bool, error)) {
	userID, ok := h.userID(c)
	if !ok {
		return
	}

	entryID := c.Param("entry_id")
	if _, err := uuid.Parse(entryID); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "entry_id must be a valid UUID"})
		return
	}

	var req dto.MutationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "changed_at is required"})
		return
	}

	applied, err := apply(c.Request.Context(), userID, entryID, req.ChangedAt)
	if err != nil {
		h.logger.Error("Failed to apply entry mutation",
			slog.String("user_id", userID),
			slog.String("entry_id", entryID),
			slog.String("error", err.Error()),
		)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to apply mutation"})
		return
	}

	c.JSON(http.StatusOK, dto.MutationResponse{Applied: applied})
}
