package port

import (
	"context"

	"github.com/danielp1234/saas-metrics-sub000/internal/core/domain"
)

// IdentityProvider exchanges an OAuth2 authorization code for a verified identity assertion.
type IdentityProvider interface {
	ExchangeCode(ctx context.Context, code string) (domain.Identity, error)
}
