package store

import (
	"log/slog"

	"github.com/jmoiron/sqlx"
)

// Store handles all database operations for feeds, entries, subscriptions,
// per-user entry state, and push subscriptions.
type Store struct {
	db     *sqlx.DB
	logger *slog.Logger
}

// NewStore creates a new Store instance
func NewStore(db *sqlx.DB, logger *slog.Logger) *Store {
	return &Store{
		db:     db,
		logger: logger,
	}
}
