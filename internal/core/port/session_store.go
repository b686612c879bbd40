package port

import (
	"context"
	"time"

	"github.com/danielp1234/saas-metrics-sub000/internal/core/domain"
)

// SessionStore owns session records in the shared key-value store.
// Every record is TTL-bound; expiry is delegated to the store.
type SessionStore interface {
	Create(ctx context.Context, session domain.Session, ttl time.Duration) error
	Get(ctx context.Context, sessionID string) (*domain.Session, error)
	Delete(ctx context.Context, sessionID string) error
	// EnforceLimit evicts the oldest-created sessions until fewer than maxSessions remain and returns the evicted ids.
	EnforceLimit(ctx context.Context, userID string, maxSessions int) ([]string, error)
	ListByUser(ctx context.Context, userID string) ([]domain.Session, error)
}
