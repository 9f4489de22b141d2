package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"feedsync/internal/api/dto"
	"feedsync/internal/domain"
)

const (
	defaultEntryPageSize = 100
	maxEntryPageSize     = 500
)

// CreateFeed handles POST /api/v1/feeds
// Subscribes the calling user to a feed URL, creating the feed row if it is
// new and scheduling an immediate fetch.
func (h *Handler) CreateFeed(c *gin.Context) {
	userID, ok := h.userID(c)
	if !ok {
		return
	}

	var req dto.CreateFeedRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
		return
	}

	parsed, err := url.Parse(req.URL)
	if err != nil || (parsed.Scheme != "http" && parsed.Scheme != "https") || parsed.Host == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "url must be an absolute http(s) URL"})
		return
	}

	ctx := c.Request.Context()

	feed, err := h.store.CreateFeed(ctx, req.URL)
	if err != nil {
		h.logger.Error("Failed to create feed",
			slog.String("url", req.URL),
			slog.String("error", err.Error()),
		)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to create feed"})
		return
	}

	if _, err := h.store.CreateSubscription(ctx, userID, feed.FeedID); err != nil {
		h.logger.Error("Failed to create subscription",
			slog.String("user_id", userID),
			slog.String("feed_id", feed.FeedID),
			slog.String("error", err.Error()),
		)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to subscribe"})
		return
	}

	if err := h.jobs.EnqueueFetch(ctx, feed.FeedID, time.Now()); err != nil {
		// Subscription exists; the sweeper will pick the feed up when due.
		h.logger.Warn("Failed to enqueue initial fetch",
			slog.String("feed_id", feed.FeedID),
			slog.String("error", err.Error()),
		)
	}

	c.JSON(http.StatusCreated, feedToDTO(feed))
}

// ListFeeds handles GET /api/v1/feeds
// Lists the calling user's subscribed feeds.
func (h *Handler) ListFeeds(c *gin.Context) {
	userID, ok := h.userID(c)
	if !ok {
		return
	}

	ctx := c.Request.Context()

	subs, err := h.store.ListSubscriptionsForUser(ctx, userID)
	if err != nil {
		h.logger.Error("Failed to list subscriptions",
			slog.String("user_id", userID),
			slog.String("error", err.Error()),
		)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to list feeds"})
		return
	}

	feeds := make([]dto.FeedDTO, 0, len(subs))
	for i := range subs {
		feed, err := h.store.GetFeed(ctx, subs[i].FeedID)
		if err != nil {
			h.logger.Error("Failed to load subscribed feed",
				slog.String("feed_id", subs[i].FeedID),
				slog.String("error", err.Error()),
			)
			continue
		}
		feeds = append(feeds, feedToDTO(feed))
	}

	c.JSON(http.StatusOK, dto.ListFeedsResponse{Feeds: feeds})
}

// Unsubscribe handles DELETE /api/v1/feeds/:feed_id
// Removes the calling user's subscription. When the last subscriber leaves,
// the feed is retired from polling and, if a push lease is active, a
// hub_unsubscribe job starts the unsubscribe sub-protocol with the hub.
func (h *Handler) Unsubscribe(c *gin.Context) {
	userID, ok := h.userID(c)
	if !ok {
		return
	}

	feedID := c.Param("feed_id")
	if _, err := uuid.Parse(feedID); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid feed ID"})
		return
	}

	ctx := c.Request.Context()

	if err := h.store.DeleteSubscription(ctx, userID, feedID); err != nil {
		if errors.Is(err, domain.ErrSubscriptionNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Subscription not found"})
			return
		}
		h.logger.Error("Failed to delete subscription",
			slog.String("user_id", userID),
			slog.String("feed_id", feedID),
			slog.String("error", err.Error()),
		)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to unsubscribe"})
		return
	}

	remaining, err := h.store.CountSubscriptionsForFeed(ctx, feedID)
	if err != nil {
		// The user's unsubscribe already succeeded; the feed keeps polling
		// until a later removal settles the count.
		h.logger.Warn("Failed to count remaining subscribers",
			slog.String("feed_id", feedID),
			slog.String("error", err.Error()),
		)
		c.Status(http.StatusNoContent)
		return
	}

	if remaining == 0 {
		h.teardownFeed(ctx, feedID)
	}

	c.Status(http.StatusNoContent)
}

// teardownFeed stops work on a feed nobody follows anymore: the hub lease is
// released through the job queue and the feed leaves the polling rotation.
func (h *Handler) teardownFeed(ctx context.Context, feedID string) {
	feed, err := h.store.GetFeed(ctx, feedID)
	if err != nil {
		h.logger.Warn("Failed to load feed for teardown",
			slog.String("feed_id", feedID),
			slog.String("error", err.Error()),
		)
		return
	}

	if feed.HubURL != "" {
		push, err := h.store.GetPushSubscriptionByFeed(ctx, feed.FeedID, feed.HubURL)
		switch {
		case err == nil && (push.Status == domain.PushStatusActive || push.Status == domain.PushStatusPending):
			if err := h.jobs.EnqueueHubUnsubscribe(ctx, push.PushID, time.Now()); err != nil {
				h.logger.Warn("Failed to enqueue hub unsubscribe",
					slog.String("push_id", push.PushID),
					slog.String("error", err.Error()),
				)
			}
		case err != nil && !errors.Is(err, domain.ErrPushSubscriptionNotFound):
			h.logger.Warn("Failed to look up push subscription",
				slog.String("feed_id", feedID),
				slog.String("error", err.Error()),
			)
		}
	}

	if err := h.store.RetireFeed(ctx, feedID); err != nil {
		h.logger.Warn("Failed to retire feed",
			slog.String("feed_id", feedID),
			slog.String("error", err.Error()),
		)
	}
}

// ListFeedEntries handles GET /api/v1/feeds/:feed_id/entries
// Returns entries across the subscription's effective feed id set, including
// identities the feed held before permanent redirects, joined with the
// caller's read/star state.
func (h *Handler) ListFeedEntries(c *gin.Context) {
	userID, ok := h.userID(c)
	if !ok {
		return
	}

	feedID := c.Param("feed_id")
	if _, err := uuid.Parse(feedID); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "feed_id must be a valid UUID"})
		return
	}

	limit := defaultEntryPageSize
	if raw := c.Query("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be a positive integer"})
			return
		}
		limit = min(parsed, maxEntryPageSize)
	}

	ctx := c.Request.Context()

	sub, err := h.store.GetSubscription(ctx, userID, feedID)
	if err != nil {
		if errors.Is(err, domain.ErrSubscriptionNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Not subscribed to this feed"})
			return
		}
		h.logger.Error("Failed to load subscription",
			slog.String("user_id", userID),
			slog.String("feed_id", feedID),
			slog.String("error", err.Error()),
		)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to list entries"})
		return
	}

	entries, err := h.store.ListEntriesForUser(ctx, userID, sub.VisibleFeedIDs(), limit)
	if err != nil {
		h.logger.Error("Failed to list entries",
			slog.String("feed_id", feedID),
			slog.String("error", err.Error()),
		)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to list entries"})
		return
	}

	out := make([]dto.EntryDTO, len(entries))
	for i := range entries {
		out[i] = dto.EntryDTO{
			EntryID:     entries[i].EntryID,
			FeedID:      entries[i].FeedID,
			Title:       entries[i].Title,
			URL:         entries[i].URL,
			Content:     entries[i].Content,
			PublishedAt: formatOptionalTime(entries[i].PublishedAt),
			LastSeenAt:  formatOptionalTime(entries[i].LastSeenAt),
			Read:        entries[i].Read,
			Starred:     entries[i].Starred,
		}
	}

	c.JSON(http.StatusOK, dto.ListEntriesResponse{Entries: out})
}

func feedToDTO(feed *domain.Feed) dto.FeedDTO {
	return dto.FeedDTO{
		FeedID:        feed.FeedID,
		URL:           feed.URL,
		Title:         feed.Title,
		PushActive:    feed.PushActive,
		LastFetchedAt: formatOptionalTime(feed.LastFetchedAt),
		NextFetchAt:   feed.NextFetchAt.Format(time.RFC3339),
		LastError:     feed.LastError,
	}
}

func formatOptionalTime(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.Format(time.RFC3339)
}
