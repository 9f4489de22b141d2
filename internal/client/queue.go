package client

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	bolt "go.etcd.io/bbolt"
)

// Mutation types mirror the server's entry mutation endpoints.
const (
	MutationMarkRead   = "markRead"
	MutationMarkUnread = "markUnread"
	MutationStar       = "star"
	MutationUnstar     = "unstar"
)

// Mutation statuses.
const (
	StatusPending    = "pending"
	StatusProcessing = "processing"
	StatusFailed     = "failed"
)

// MaxRetries is the attempt cap after which a mutation is marked failed and
// surfaced instead of being retried.
const MaxRetries = 5

var (
	mutationsBucket = []byte("mutations")
	byEntryBucket   = []byte("byEntry")
)

// Mutation is one queued user intent. ChangedAt is fixed at queue time and
// sent with every retry, so replays on the server are idempotent.
type Mutation struct {
	ID         string    `json:"id"`
	Type       string    `json:"type"`
	EntryID    string    `json:"entry_id"`
	ChangedAt  time.Time `json:"changed_at"`
	CreatedAt  time.Time `json:"created_at"`
	Status     string    `json:"status"`
	RetryCount int       `json:"retry_count"`
	LastError  string    `json:"last_error,omitempty"`
}

// Queue is the durable local store of not-yet-acknowledged user actions.
// Keys in the mutations bucket are zero-padded sequence numbers, so bucket
// order is creation order; the byEntry bucket maps entry id to that key for
// the supersede rule.
type Queue struct {
	db *bolt.DB
}

// NewQueue opens (or creates) the queue database at dbPath.
func NewQueue(dbPath string) (*Queue, error) {
	db, err := bolt.Open(dbPath, 0o600, &bolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("opening queue database: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		for _, bucket := range [][]byte{mutationsBucket, byEntryBucket} {
			if _, createErr := tx.CreateBucketIfNotExists(bucket); createErr != nil {
				return createErr
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("creating buckets: %w", err)
	}

	return &Queue{db: db}, nil
}

// Close closes the underlying database.
func (q *Queue) Close() error {
	return q.db.Close()
}

// Enqueue records a new intent for an entry. Any earlier queued mutation for
// the same entry is removed first: the latest intent wins, so read followed
// by unread before a drain collapses to a single unread.
func (q *Queue) Enqueue(mutationType, entryID string) (*Mutation, error) {
	switch mutationType {
	case MutationMarkRead, MutationMarkUnread, MutationStar, MutationUnstar:
	default:
		return nil, fmt.Errorf("unknown mutation type %q", mutationType)
	}

	now := time.Now().UTC()
	m := &Mutation{
		ID:        uuid.New().String(),
		Type:      mutationType,
		EntryID:   entryID,
		ChangedAt: now,
		CreatedAt: now,
		Status:    StatusPending,
	}

	err := q.db.Update(func(tx *bolt.Tx) error {
		mutations := tx.Bucket(mutationsBucket)
		index := tx.Bucket(byEntryBucket)

		if prior := index.Get([]byte(entryID)); prior != nil {
			if err := mutations.Delete(prior); err != nil {
				return err
			}
		}

		seq, err := mutations.NextSequence()
		if err != nil {
			return err
		}
		key := []byte(fmt.Sprintf("%020d", seq))

		data, err := json.Marshal(m)
		if err != nil {
			return err
		}

		if err := mutations.Put(key, data); err != nil {
			return err
		}
		return index.Put([]byte(entryID), key)
	})
	if err != nil {
		return nil, fmt.Errorf("enqueueing mutation: %w", err)
	}

	return m, nil
}

// Pending returns sendable mutations in creation order. Mutations left in
// processing by an interrupted drain are included; resending is safe because
// the server call is idempotent.
func (q *Queue) Pending() ([]Mutation, error) {
	var pending []Mutation
	err := q.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(mutationsBucket).ForEach(func(_, v []byte) error {
			var m Mutation
			if err := json.Unmarshal(v, &m); err != nil {
				return err
			}
			if m.Status == StatusPending || m.Status == StatusProcessing {
				pending = append(pending, m)
			}
			return nil
		})
	})
	if err != nil {
		return nil, fmt.Errorf("listing pending mutations: %w", err)
	}
	return pending, nil
}

// Failed returns mutations that exhausted their retries and await explicit
// user action.
func (q *Queue) Failed() ([]Mutation, error) {
	var failed []Mutation
	err := q.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(mutationsBucket).ForEach(func(_, v []byte) error {
			var m Mutation
			if err := json.Unmarshal(v, &m); err != nil {
				return err
			}
			if m.Status == StatusFailed {
				failed = append(failed, m)
			}
			return nil
		})
	})
	if err != nil {
		return nil, fmt.Errorf("listing failed mutations: %w", err)
	}
	return failed, nil
}

// Remove deletes an acknowledged mutation. A mutation that is already gone,
// e.g. superseded by a newer intent while its send was in flight, is not an
// error.
func (q *Queue) Remove(mutationID string) error {
	return q.db.Update(func(tx *bolt.Tx) error {
		key, m, err := findMutation(tx, mutationID)
		if err != nil {
			return err
		}
		if m == nil {
			return nil
		}

		if err := tx.Bucket(mutationsBucket).Delete(key); err != nil {
			return err
		}
		// Only drop the index link if it still points at this mutation;
		// a newer intent may have replaced it already.
		index := tx.Bucket(byEntryBucket)
		if current := index.Get([]byte(m.EntryID)); string(current) == string(key) {
			return index.Delete([]byte(m.EntryID))
		}
		return nil
	})
}

// SetStatus updates a mutation's status in place. Like Remove, a mutation
// superseded mid-drain is a no-op.
func (q *Queue) SetStatus(mutationID, status string) error {
	return q.updateIfPresent(mutationID, func(tx *bolt.Tx, key []byte, m *Mutation) error {
		m.Status = status
		return q.put(tx, key, m)
	})
}

// RecordFailure increments the retry counter and either leaves the mutation
// pending for a later drain or, at the cap, marks it failed. Failed mutations
// stay in the queue until the user retries or removes them.
func (q *Queue) RecordFailure(mutationID string, cause error) (terminal bool, err error) {
	err = q.updateIfPresent(mutationID, func(tx *bolt.Tx, key []byte, m *Mutation) error {
		m.RetryCount++
		m.LastError = cause.Error()
		if m.RetryCount >= MaxRetries {
			m.Status = StatusFailed
			terminal = true
		} else {
			m.Status = StatusPending
		}
		return q.put(tx, key, m)
	})
	return terminal, err
}

// Retry resets a failed mutation for another round of delivery attempts.
func (q *Queue) Retry(mutationID string) error {
	return q.update(mutationID, func(tx *bolt.Tx, key []byte, m *Mutation) error {
		if m.Status != StatusFailed {
			return fmt.Errorf("mutation %s is not failed", mutationID)
		}
		m.Status = StatusPending
		m.RetryCount = 0
		m.LastError = ""
		return q.put(tx, key, m)
	})
}

func (q *Queue) put(tx *bolt.Tx, key []byte, m *Mutation) error {
	data, err := json.Marshal(m)
	if err != nil {
		return err
	}
	return tx.Bucket(mutationsBucket).Put(key, data)
}

// update locates a mutation by id and applies fn inside one transaction.
func (q *Queue) update(mutationID string, fn func(tx *bolt.Tx, key []byte, m *Mutation) error) error {
	return q.db.Update(func(tx *bolt.Tx) error {
		key, found, err := findMutation(tx, mutationID)
		if err != nil {
			return err
		}
		if found == nil {
			return fmt.Errorf("mutation %s not found", mutationID)
		}
		return fn(tx, key, found)
	})
}

// updateIfPresent is update for bookkeeping paths that race with supersede:
// a mutation that disappeared mid-drain is simply no longer ours to track.
func (q *Queue) updateIfPresent(mutationID string, fn func(tx *bolt.Tx, key []byte, m *Mutation) error) error {
	return q.db.Update(func(tx *bolt.Tx) error {
		key, found, err := findMutation(tx, mutationID)
		if err != nil {
			return err
		}
		if found == nil {
			return nil
		}
		return fn(tx, key, found)
	})
}

func findMutation(tx *bolt.Tx, mutationID string) ([]byte, *Mutation, error) {
	c := tx.Bucket(mutationsBucket).Cursor()
	for k, v := c.First(); k != nil; k, v = c.Next() {
		var m Mutation
		if err := json.Unmarshal(v, &m); err != nil {
			return nil, nil, err
		}
		if m.ID == mutationID {
			return append([]byte(nil), k...), &m, nil
		}
	}
	return nil, nil, nil
}
