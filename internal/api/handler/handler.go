package handler

import (
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"feedsync/internal/hub"
	"feedsync/internal/jobstore"
	"feedsync/internal/store"
	"feedsync/shared/postgresql"
)

// Dependencies holds all dependencies needed by handlers
type Dependencies struct {
	Logger   *slog.Logger
	DBClient *postgresql.Client
	Store    *store.Store
	Jobs     *jobstore.Store
	Hub      *hub.Manager
}

// Handler handles HTTP requests for feeds, entries, jobs and hub callbacks.
type Handler struct {
	logger   *slog.Logger
	dbClient *postgresql.Client
	store    *store.Store
	jobs     *jobstore.Store
	hub      *hub.Manager
}

// New creates a new Handler instance
func New(deps *Dependencies) *Handler {
	return &Handler{
		logger:   deps.Logger,
		dbClient: deps.DBClient,
		store:    deps.Store,
		jobs:     deps.Jobs,
		hub:      deps.Hub,
	}
}

// userID extracts the caller identity set upstream by the auth layer. Requests
// without it cannot touch per-user state.
func (h *Handler) userID(c *gin.Context) (string, bool) {
	userID := c.GetHeader("X-User-ID")
	if userID == "" {
		c.JSON(http.StatusUnauthorized, gin.H{
			"error": "X-User-ID header is required",
		})
		return "", false
	}
	return userID, true
}
