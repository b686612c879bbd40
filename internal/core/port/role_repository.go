package port

import (
	"context"

	"github.com/danielp1234/saas-metrics-sub000/internal/core/domain"
)

// RoleResolver maps a verified identity to an internal role.
type RoleResolver interface {
	ResolveRole(ctx context.Context, identity domain.Identity) (domain.Role, error)
}

// RoleDirectory looks up explicit role grants. The bool result is false when no grant exists.
type RoleDirectory interface {
	LookupRole(ctx context.Context, email string) (domain.Role, bool, error)
}
