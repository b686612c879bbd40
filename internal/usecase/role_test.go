package usecase

import (
	"context"
	"testing"

	"go.uber.org/zap/zaptest"

	"github.com/danielp1234/saas-metrics-sub000/internal/core/domain"
)

type stubRoleDirectory struct {
	grants map[string]domain.Role
	err    error
	calls  []string
}

func (s *stubRoleDirectory) LookupRole(_ context.Context, email string) (domain.Role, bool, error) {
	s.calls = append(s.calls, email)
	if s.err != nil {
		return "", false, s.err
	}
	role, ok := s.grants[email]
	return role, ok, nil
}

func TestRoleServiceResolutionOrder(t *testing.T) {
	directory := &stubRoleDirectory{grants: map[string]domain.Role{
		"analyst@corp.example.com": domain.RolePublic,
		"cfo@example.com":          domain.RoleSuperAdmin,
	}}
	svc := NewRoleService(directory, RolePolicy{
		AdminDomains:     []string{"@Corp.Example.com"},
		SuperAdminEmails: []string{"Root@Example.com"},
	}, zaptest.NewLogger(t))
	ctx := context.Background()

	cases := []struct {
		email string
		want  domain.Role
	}{
		{email: "analyst@corp.example.com", want: domain.RolePublic},
		{email: "CFO@example.com", want: domain.RoleSuperAdmin},
		{email: "root@example.com", want: domain.RoleSuperAdmin},
		{email: "ops@corp.example.com", want: domain.RoleAdmin},
		{email: "ops@corp.example.com.evil.io", want: domain.RolePublic},
		{email: "someone@gmail.com", want: domain.RolePublic},
	}
	for _, tc := range cases {
		role, err := svc.ResolveRole(ctx, domain.Identity{Email: tc.email})
		if err != nil {
			t.Fatalf("%s: unexpected error %v", tc.email, err)
		}
		if role != tc.want {
			t.Fatalf("%s: expected %s, got %s", tc.email, tc.want, role)
		}
	}
	if directory.calls[1] != "cfo@example.com" {
		t.Fatalf("expected normalised email passed to directory, got %q", directory.calls[1])
	}
}

func TestRoleServiceDirectoryFailure(t *testing.T) {
	svc := NewRoleService(&stubRoleDirectory{err: errStoreDown}, RolePolicy{}, zaptest.NewLogger(t))

	_, err := svc.ResolveRole(context.Background(), domain.Identity{Email: "jane@example.com"})
	assertCode(t, err, domain.ErrStoreUnavailable)

	_, err = svc.ResolveRole(context.Background(), domain.Identity{})
	assertCode(t, err, domain.ErrValidation)
}
