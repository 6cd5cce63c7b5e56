// Package store defines the persistence interfaces for the portfolio game.
// Implementations include PostgreSQL, Pebble (embedded) and in-memory
// (for testing). Stores are passive: they hold no business rules.
package store

import (
	"context"
	"errors"

	"github.com/papertrade/portfolio-game/internal/model"
)

var (
	// ErrNotFound is returned when no record exists for a key.
	ErrNotFound = errors.New("store: not found")

	// ErrAlreadyExists is returned by Create when the username is taken.
	ErrAlreadyExists = errors.New("store: already exists")
)

// ProfileStore maps username → UserProfile.
type ProfileStore interface {
	// Get returns a copy of the profile, or ErrNotFound.
	Get(ctx context.Context, username string) (*model.UserProfile, error)

	// Create persists a new profile, or returns ErrAlreadyExists.
	Create(ctx context.Context, profile *model.UserProfile) error

	// Update replaces the whole stored record, or returns ErrNotFound.
	Update(ctx context.Context, username string, profile *model.UserProfile) error

	// List returns every stored profile.
	List(ctx context.Context) ([]model.UserProfile, error)
}

// TransactionLog is the append-only trade audit trail.
type TransactionLog interface {
	// Append assigns tx.ID and persists it. Appending a Ref that is already
	// present is a no-op that sets tx.ID to the existing record's ID.
	Append(ctx context.Context, tx *model.Transaction) error

	// ListByUser returns a user's transactions in append order.
	ListByUser(ctx context.Context, username string) ([]model.Transaction, error)
}

// Store bundles both halves; every backend implements it.
type Store interface {
	ProfileStore
	TransactionLog
}
