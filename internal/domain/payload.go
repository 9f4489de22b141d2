package domain

import (
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
)

// FetchFeedPayload is carried by fetch_feed jobs.
type FetchFeedPayload struct {
	FeedID string `json:"feed_id"`
}

// HubRenewPayload is carried by hub_renew jobs.
type HubRenewPayload struct {
	PushID string `json:"push_id"`
}

// HubUnsubscribePayload is carried by hub_unsubscribe jobs.
type HubUnsubscribePayload struct {
	PushID string `json:"push_id"`
}

// ValidatePayload checks that raw is a well-formed payload for jobType.
// It runs at the job store boundary so a worker never executes a malformed job.
func ValidatePayload(jobType, raw string) error {
	switch jobType {
	case JobTypeFetchFeed:
		var p FetchFeedPayload
		if err := decodePayload(raw, &p); err != nil {
			return err
		}
		return validateUUIDField("feed_id", p.FeedID)
	case JobTypeHubRenew:
		var p HubRenewPayload
		if err := decodePayload(raw, &p); err != nil {
			return err
		}
		return validateUUIDField("push_id", p.PushID)
	case JobTypeHubUnsubscribe:
		var p HubUnsubscribePayload
		if err := decodePayload(raw, &p); err != nil {
			return err
		}
		return validateUUIDField("push_id", p.PushID)
	default:
		return fmt.Errorf("%w: unknown job type %q", ErrInvalidPayload, jobType)
	}
}

func decodePayload(raw string, dest any) error {
	if err := json.Unmarshal([]byte(raw), dest); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	return nil
}

func validateUUIDField(name, value string) error {
	if value == "" {
		return fmt.Errorf("%w: missing %s", ErrInvalidPayload, name)
	}
	if _, err := uuid.Parse(value); err != nil {
		return fmt.Errorf("%w: %s is not a UUID", ErrInvalidPayload, name)
	}
	return nil
}

// EncodePayload marshals a typed payload for storage.
func EncodePayload(p any) (string, error) {
	data, err := json.Marshal(p)
	if err != nil {
		return "", fmt.Errorf("failed to marshal payload: %w", err)
	}
	return string(data), nil
}
