package dto

import "time"

// CreateFeedRequest subscribes the calling user to a feed URL.
type CreateFeedRequest struct {
	URL string `json:"url" binding:"required"`
}

// FeedDTO is the API shape of a subscribed feed.
type FeedDTO struct {
	FeedID        string `json:"feed_id"`
	URL           string `json:"url"`
	Title         string `json:"title"`
	PushActive    bool   `json:"push_active"`
	LastFetchedAt string `json:"last_fetched_at,omitempty"`
	NextFetchAt   string `json:"next_fetch_at"`
	LastError     string `json:"last_error,omitempty"`
}

// ListFeedsResponse wraps the caller's subscribed feeds.
type ListFeedsResponse struct {
	Feeds []FeedDTO `json:"feeds"`
}

// EntryDTO is an entry joined with the caller's read/star state.
type EntryDTO struct {
	EntryID     string `json:"entry_id"`
	FeedID      string `json:"feed_id"`
	Title       string `json:"title"`
	URL         string `json:"url"`
	Content     string `json:"content"`
	PublishedAt string `json:"published_at,omitempty"`
	LastSeenAt  string `json:"last_seen_at,omitempty"`
	Read        bool   `json:"read"`
	Starred     bool   `json:"starred"`
}

// ListEntriesResponse wraps the entries of one subscription's visibility set.
type ListEntriesResponse struct {
	Entries []EntryDTO `json:"entries"`
}

// MutationRequest carries the client-side timestamp that keys an idempotent
// read/star mutation. Replays with the same or an older timestamp are no-ops.
type MutationRequest struct {
	ChangedAt time.Time `json:"changed_at" binding:"required"`
}

// MutationResponse reports whether the mutation advanced server state.
type MutationResponse struct {
	Applied bool `json:"applied"`
}

// ListJobsRequest filters and paginates job listings.
type ListJobsRequest struct {
	JobType  string `form:"job_type"`
	Status   string `form:"status"`
	PageSize int    `form:"page_size"`
	Cursor   string `form:"cursor"`
}

// ListJobsResponse is a page of jobs plus the cursor for the next page.
type ListJobsResponse struct {
	Jobs       []JobDTO `json:"jobs"`
	NextCursor string   `json:"next_cursor,omitempty"`
}

// JobDTO is the API shape of a job row.
type JobDTO struct {
	JobID        string `json:"job_id"`
	JobType      string `json:"job_type"`
	Payload      string `json:"payload"`
	Status       string `json:"status"`
	ScheduledFor string `json:"scheduled_for"`
	Attempts     int    `json:"attempts"`
	MaxAttempts  int    `json:"max_attempts"`
	LastError    string `json:"last_error,omitempty"`
	WorkerID     string `json:"worker_id,omitempty"`
	CreatedAt    string `json:"created_at"`
	UpdatedAt    string `json:"updated_at"`
}
