package postgres

import (
	"context"
	"errors"
	"testing"

	"github.com/jackc/pgx/v5"
	pgxmock "github.com/pashagolub/pgxmock/v2"

	"github.com/danielp1234/saas-metrics-sub000/internal/core/domain"
)

func TestRoleDirectory_LookupRole(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("pgxmock.NewPool: %v", err)
	}
	defer mock.Close()

	dir := NewRoleDirectory(mock)

	mock.ExpectQuery(`SELECT role FROM auth\.role_grants WHERE email = \$1 AND revoked_at IS NULL`).
		WithArgs("admin@example.com").
		WillReturnRows(pgxmock.NewRows([]string{"role"}).AddRow("ADMIN"))

	role, found, err := dir.LookupRole(context.Background(), "  Admin@Example.com ")
	if err != nil {
		t.Fatalf("LookupRole returned error: %v", err)
	}
	if !found || role != domain.RoleAdmin {
		t.Fatalf("expected ADMIN grant, got %q found=%v", role, found)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestRoleDirectory_LookupRoleMissing(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("pgxmock.NewPool: %v", err)
	}
	defer mock.Close()

	dir := NewRoleDirectory(mock)

	mock.ExpectQuery(`SELECT role FROM auth\.role_grants`).
		WithArgs("nobody@example.com").
		WillReturnError(pgx.ErrNoRows)

	role, found, err := dir.LookupRole(context.Background(), "nobody@example.com")
	if err != nil {
		t.Fatalf("LookupRole returned error: %v", err)
	}
	if found || role != "" {
		t.Fatalf("expected no grant, got %q found=%v", role, found)
	}

	if _, found, err := dir.LookupRole(context.Background(), " "); err != nil || found {
		t.Fatalf("expected empty email to short-circuit, got found=%v err=%v", found, err)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestRoleDirectory_LookupRoleErrors(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("pgxmock.NewPool: %v", err)
	}
	defer mock.Close()

	dir := NewRoleDirectory(mock)

	mock.ExpectQuery(`SELECT role FROM auth\.role_grants`).
		WithArgs("broken@example.com").
		WillReturnError(errors.New("connection reset"))
	mock.ExpectQuery(`SELECT role FROM auth\.role_grants`).
		WithArgs("odd@example.com").
		WillReturnRows(pgxmock.NewRows([]string{"role"}).AddRow("ROOT"))

	if _, _, err := dir.LookupRole(context.Background(), "broken@example.com"); err == nil {
		t.Fatalf("expected query error to propagate")
	}
	if _, _, err := dir.LookupRole(context.Background(), "odd@example.com"); err == nil {
		t.Fatalf("expected unknown role to be rejected")
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestRoleDirectory_Grant(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("pgxmock.NewPool: %v", err)
	}
	defer mock.Close()

	dir := NewRoleDirectory(mock)

	mock.ExpectExec(`INSERT INTO auth\.role_grants \(email,role,granted_by\) VALUES \(\$1,\$2,\$3\) ON CONFLICT \(email\)`).
		WithArgs("ops@example.com", "SUPER_ADMIN", "bootstrap").
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	if err := dir.Grant(context.Background(), "Ops@example.com", domain.RoleSuperAdmin, "bootstrap"); err != nil {
		t.Fatalf("Grant returned error: %v", err)
	}
	if err := dir.Grant(context.Background(), "ops@example.com", domain.Role("ROOT"), "bootstrap"); err == nil {
		t.Fatalf("expected unknown role to be rejected")
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestRoleDirectory_Revoke(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("pgxmock.NewPool: %v", err)
	}
	defer mock.Close()

	dir := NewRoleDirectory(mock)

	mock.ExpectExec(`UPDATE auth\.role_grants SET revoked_at = now\(\) WHERE email = \$1 AND revoked_at IS NULL`).
		WithArgs("ops@example.com").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectExec(`UPDATE auth\.role_grants`).
		WithArgs("gone@example.com").
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	revoked, err := dir.Revoke(context.Background(), " OPS@example.com")
	if err != nil || !revoked {
		t.Fatalf("expected active grant to be revoked, got revoked=%v err=%v", revoked, err)
	}
	revoked, err = dir.Revoke(context.Background(), "gone@example.com")
	if err != nil || revoked {
		t.Fatalf("expected no active grant, got revoked=%v err=%v", revoked, err)
	}
	if _, err := dir.Revoke(context.Background(), ""); err == nil {
		t.Fatalf("expected empty email to be rejected")
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}
