// Package store provides data persistence interfaces and implementations.
package store

import (
	"context"
	"time"

	"github.com/echolabs/echo-agent/internal/domain"
)

// Repository persists users, their authorized services and their
// conversation history.
type Repository interface {
	// GetUser retrieves a user by their user ID. A missing user is nil, nil.
	GetUser(ctx context.Context, userID string) (*domain.User, error)

	// UpsertUser creates or updates a user record.
	UpsertUser(ctx context.Context, user *domain.User) error

	// UpdateLastSeen updates the last_seen_at timestamp for a user.
	UpdateLastSeen(ctx context.Context, userID string, lastSeen time.Time) error

	// ListUserServices returns the services a user is authorized for, in the
	// order they were added.
	ListUserServices(ctx context.Context, userID string) ([]domain.ServiceConfig, error)

	// UpsertUserService creates or replaces one of a user's services.
	UpsertUserService(ctx context.Context, svc *domain.ServiceConfig) error

	// DeleteUserService removes one of a user's services and reports whether
	// it existed.
	DeleteUserService(ctx context.Context, userID, serviceID string) (bool, error)

	// AppendHistory stores a history entry beyond the in-memory bound.
	AppendHistory(ctx context.Context, userID string, entry domain.HistoryEntry) error

	// ListHistory returns up to limit of the user's newest entries, oldest first.
	ListHistory(ctx context.Context, userID string, limit int) ([]domain.HistoryEntry, error)

	// CleanupHistory removes history and chat rows older than olderThan.
	CleanupHistory(ctx context.Context, olderThan time.Duration) (int64, error)

	// SaveChatMessage stores a chat message under the agent user it belongs to.
	SaveChatMessage(ctx context.Context, msg domain.ChatMessage) error

	// Ping verifies database connectivity and returns an error if the database is unreachable.
	Ping(ctx context.Context) error

	// Close closes the database connection.
	Close() error
}
