package usecase

import (
	"context"
	"strings"

	"go.uber.org/zap"

	"github.com/danielp1234/saas-metrics-sub000/internal/core/domain"
	"github.com/danielp1234/saas-metrics-sub000/internal/core/port"
	"github.com/danielp1234/saas-metrics-sub000/internal/infra/logger"
)

// RolePolicy is the email-based fallback used when the directory holds no explicit grant.
type RolePolicy struct {
	AdminDomains     []string
	SuperAdminEmails []string
}

// RoleService resolves the role of a verified identity.
// Explicit directory grants win; otherwise super admin emails, then admin domains, then PUBLIC.
type RoleService struct {
	directory        port.RoleDirectory
	adminDomains     map[string]struct{}
	superAdminEmails map[string]struct{}
	logger           *zap.Logger
}

// NewRoleService builds the resolver. directory may be nil.
func NewRoleService(directory port.RoleDirectory, policy RolePolicy, log *zap.Logger) *RoleService {
	if log == nil {
		log = zap.NewNop()
	}
	svc := &RoleService{
		directory:        directory,
		adminDomains:     make(map[string]struct{}, len(policy.AdminDomains)),
		superAdminEmails: make(map[string]struct{}, len(policy.SuperAdminEmails)),
		logger:           log,
	}
	for _, d := range policy.AdminDomains {
		d = strings.TrimPrefix(strings.ToLower(strings.TrimSpace(d)), "@")
		if d != "" {
			svc.adminDomains[d] = struct{}{}
		}
	}
	for _, e := range policy.SuperAdminEmails {
		e = strings.ToLower(strings.TrimSpace(e))
		if e != "" {
			svc.superAdminEmails[e] = struct{}{}
		}
	}
	return svc
}

// ResolveRole maps identity to a role. Directory failures surface as STORE_UNAVAILABLE rather than a silent downgrade.
func (s *RoleService) ResolveRole(ctx context.Context, identity domain.Identity) (domain.Role, error) {
	email := strings.ToLower(strings.TrimSpace(identity.Email))
	if email == "" {
		return "", domain.ErrValidation.WithMessage("email is required to resolve role")
	}

	if s.directory != nil {
		role, found, err := s.directory.LookupRole(ctx, email)
		if err != nil {
			s.logger.Error("role directory lookup failed", zap.String("email", logger.MaskEmail(email)), zap.Error(err))
			return "", translateStoreError("role directory", err)
		}
		if found {
			return role, nil
		}
	}

	if _, ok := s.superAdminEmails[email]; ok {
		return domain.RoleSuperAdmin, nil
	}
	if at := strings.LastIndex(email, "@"); at >= 0 {
		if _, ok := s.adminDomains[email[at+1:]]; ok {
			return domain.RoleAdmin, nil
		}
	}
	return domain.RolePublic, nil
}

var _ port.RoleResolver = (*RoleService)(nil)
