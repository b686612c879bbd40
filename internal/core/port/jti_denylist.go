package port

import (
	"context"
	"time"

	"github.com/danielp1234/saas-metrics-sub000/internal/core/domain"
)

// JTIDenylistCache is the in-process view of recently revoked token ids.
type JTIDenylistCache interface {
	AddRevocation(ctx context.Context, revocation domain.TokenRevocation) error
	Contains(ctx context.Context, jti string) (bool, error)
	Prune(ctx context.Context, now time.Time) error
}
