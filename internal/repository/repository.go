package repository

import (
	"context"
	"time"

	"github.com/smallbiznis/smallbiznis-gateway/internal/domain"
)

// ConfigurationRepository persists operator-created credential sets.
type ConfigurationRepository interface {
	// Get returns the configuration identified by (buid, setupID).
	Get(ctx context.Context, buid, setupID string) (domain.Configuration, error)
	// Latest returns the most recently updated configuration for an
	// integration; ties break deterministically by insertion order.
	Latest(ctx context.Context, buid string) (domain.Configuration, error)
	List(ctx context.Context, buid string) ([]domain.Configuration, error)
	Insert(ctx context.Context, cfg domain.Configuration) (domain.Configuration, error)
	Update(ctx context.Context, cfg domain.Configuration) (domain.Configuration, error)
	Delete(ctx context.Context, buid, setupID string) error
}

// AuthenticationRepository persists per-user OAuth credential payloads.
// Update replaces the stored payload wholesale; any merging happens in
// the refresh orchestrator before the write.
type AuthenticationRepository interface {
	Get(ctx context.Context, buid, authID string) (domain.Authentication, error)
	Upsert(ctx context.Context, auth domain.Authentication) (domain.Authentication, error)
	Update(ctx context.Context, auth domain.Authentication) (domain.Authentication, error)
	Delete(ctx context.Context, buid, authID string) error
}

// SessionStore holds connect sessions for the duration of one OAuth
// round trip. Entries expire on their own after ttl.
type SessionStore interface {
	Save(ctx context.Context, id string, session domain.ConnectSession, ttl time.Duration) error
	Get(ctx context.Context, id string) (domain.ConnectSession, error)
	Delete(ctx context.Context, id string) error
}
