package router

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"feedsync/internal/api/handler"
)

// SetupRouter configures and returns the Gin router with all routes
func SetupRouter(deps *handler.Dependencies) *gin.Engine {
	r := gin.New()

	r.Use(gin.Recovery())
	r.Use(LoggerMiddleware(deps.Logger))
	r.Use(CORSMiddleware())

	h := handler.New(deps)

	r.GET("/health", func(c *gin.Context) {
		if err := deps.DBClient.HealthCheck(c.Request.Context()); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"status": "unhealthy",
				"error":  err.Error(),
			})
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"status":  "healthy",
			"service": "feedsync-api",
		})
	})

	// Hub callbacks live outside the API group: the URL shape is part of the
	// contract registered with remote hubs.
	hubCallbacks := r.Group("/hub/callback")
	{
		hubCallbacks.GET("/:push_id", h.HubVerify)
		hubCallbacks.POST("/:push_id", h.HubNotify)
	}

	v1 := r.Group("/api/v1")
	{
		feeds := v1.Group("/feeds")
		{
			feeds.POST("", h.CreateFeed)
			feeds.GET("", h.ListFeeds)
			feeds.DELETE("/:feed_id", h.Unsubscribe)
			feeds.GET("/:feed_id/entries", h.ListFeedEntries)
		}

		entries := v1.Group("/entries")
		{
			entries.POST("/:entry_id/read", h.MarkRead)
			entries.POST("/:entry_id/unread", h.MarkUnread)
			entries.POST("/:entry_id/star", h.Star)
			entries.POST("/:entry_id/unstar", h.Unstar)
		}

		jobs := v1.Group("/jobs")
		{
			jobs.GET("", h.ListJobs)
			jobs.GET("/:job_id", h.GetJob)
		}
	}

	return r
}
