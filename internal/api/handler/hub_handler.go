package handler

import (
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"feedsync/internal/domain"
)

// Notification bodies are feed documents; cap them like the fetcher does.
const maxNotificationBody = 10 << 20

// HubVerify handles GET /hub/callback/:push_id
// The hub confirms a subscribe or unsubscribe request by asking us to echo
// its challenge. Anything we did not ask for gets a 404 so the hub treats
// the verification as refused.
func (h *Handler) HubVerify(c *gin.Context) {
	pushID := c.Param("push_id")
	if _, err := uuid.Parse(pushID); err != nil {
		c.Status(http.StatusNotFound)
		return
	}

	mode := c.Query("hub.mode")
	topic := c.Query("hub.topic")
	challenge := c.Query("hub.challenge")
	leaseSeconds := c.Query("hub.lease_seconds")

	echo, ok := h.hub.VerifyCallback(c.Request.Context(), pushID, mode, topic, challenge, leaseSeconds)
	if !ok {
		c.Status(http.StatusNotFound)
		return
	}

	// The challenge must come back verbatim as the entire body.
	c.Data(http.StatusOK, "text/plain", []byte(echo))
}

// HubNotify handles POST /hub/callback/:push_id
// Content pushed by the hub, authenticated by an HMAC over the raw body.
func (h *Handler) HubNotify(c *gin.Context) {
	pushID := c.Param("push_id")
	if _, err := uuid.Parse(pushID); err != nil {
		c.Status(http.StatusNotFound)
		return
	}

	body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxNotificationBody))
	if err != nil {
		c.Status(http.StatusBadRequest)
		return
	}

	signature := c.GetHeader("X-Hub-Signature-256")
	if signature == "" {
		signature = c.GetHeader("X-Hub-Signature")
	}

	err = h.hub.HandleNotification(c.Request.Context(), pushID, body, signature)
	switch {
	case err == nil:
		c.Status(http.StatusOK)
	case errors.Is(err, domain.ErrSignatureMismatch):
		// Acknowledge and discard. Replying with an error would make the hub
		// retry a notification we will never accept.
		h.logger.Warn("Dropped hub notification with bad signature",
			slog.String("push_id", pushID),
		)
		c.Status(http.StatusOK)
	case errors.Is(err, domain.ErrPushSubscriptionNotFound):
		c.Status(http.StatusNotFound)
	default:
		h.logger.Error("Failed to process hub notification",
			slog.String("push_id", pushID),
			slog.String("error", err.Error()),
		)
		c.Status(http.StatusInternalServerError)
	}
}
