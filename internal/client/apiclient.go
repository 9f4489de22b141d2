package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// mutationPaths maps queue mutation types to server endpoint suffixes.
var mutationPaths = map[string]string{
	MutationMarkRead:   "read",
	MutationMarkUnread: "unread",
	MutationStar:       "star",
	MutationUnstar:     "unstar",
}

// APIClient sends mutations to the server's entry endpoints. These are the
// same endpoints a live UI calls, keyed (entry id, changed at), so a drain
// replaying a delivered-but-unacknowledged mutation is a server-side no-op.
type APIClient struct {
	baseURL string
	userID  string
	client  *http.Client
}

// NewAPIClient creates a client for the given API base URL acting as userID.
func NewAPIClient(baseURL, userID string, timeout time.Duration) *APIClient {
	return &APIClient{
		baseURL: baseURL,
		userID:  userID,
		client:  &http.Client{Timeout: timeout},
	}
}

// Send implements Sender.
func (c *APIClient) Send(ctx context.Context, m *Mutation) error {
	path, ok := mutationPaths[m.Type]
	if !ok {
		return fmt.Errorf("unknown mutation type %q", m.Type)
	}

	body, err := json.Marshal(struct {
		ChangedAt time.Time `json:"changed_at"`
	}{ChangedAt: m.ChangedAt})
	if err != nil {
		return fmt.Errorf("failed to marshal mutation body: %w", err)
	}

	url := fmt.Sprintf("%s/api/v1/entries/%s/%s", c.baseURL, m.EntryID, path)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to build mutation request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-User-ID", c.userID)

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("mutation request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("server rejected mutation: %s", resp.Status)
	}

	return nil
}
