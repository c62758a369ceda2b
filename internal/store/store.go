// Package store defines the persistence boundaries of the simulator: user
// accounts (balance, portfolio and ledger) and recorded market snapshots.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"stocksim/internal/domain"
)

var (
	// ErrInvalidCredential is returned when a credential does not resolve to
	// a user.
	ErrInvalidCredential = errors.New("invalid credential")

	// ErrPersist wraps every failure to durably save a user.
	ErrPersist = errors.New("persisting user")

	// ErrInvalidTicker is returned for symbols that cannot name a snapshot
	// file.
	ErrInvalidTicker = errors.New("invalid ticker")
)

// UserStore loads and saves user accounts.
type UserStore interface {
	// Load returns the user owning credential, or ErrInvalidCredential.
	Load(ctx context.Context, credential string) (*domain.User, error)

	// Save persists balance, positions and any ledger entries not yet
	// stored. Failures wrap ErrPersist. Save is all-or-nothing.
	Save(ctx context.Context, u *domain.User) error

	// Create registers a new user with a freshly generated credential.
	Create(ctx context.Context, name string, balance decimal.Decimal) (*domain.User, error)

	Close() error
}

// SnapshotStore records market snapshots over time.
type SnapshotStore interface {
	// WriteSnapshots appends snapshots; re-writing the same (ticker, time)
	// replaces the earlier record.
	WriteSnapshots(ctx context.Context, stocks []domain.Stock) error

	// LatestSnapshots returns the most recent snapshot of every recorded
	// ticker.
	LatestSnapshots(ctx context.Context) ([]domain.Stock, error)

	// ReadHistory returns snapshots for ticker within [start, end], oldest
	// first.
	ReadHistory(ctx context.Context, ticker string, start, end time.Time) ([]domain.Stock, error)
}
