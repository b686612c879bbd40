package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"

	squirrel "github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/danielp1234/saas-metrics-sub000/internal/core/domain"
	"github.com/danielp1234/saas-metrics-sub000/internal/core/port"
)

const roleGrantsTable = "auth.role_grants"

type pgExecutor interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// RoleDirectory resolves explicit role grants stored in PostgreSQL.
type RoleDirectory struct {
	exec    pgExecutor
	builder squirrel.StatementBuilderType
}

// NewRoleDirectory constructs a directory backed by any executor that satisfies pgExecutor.
func NewRoleDirectory(exec pgExecutor) *RoleDirectory {
	return &RoleDirectory{
		exec:    exec,
		builder: squirrel.StatementBuilder.PlaceholderFormat(squirrel.Dollar),
	}
}

// LookupRole returns the active grant for email. Emails are matched case-insensitively.
func (d *RoleDirectory) LookupRole(ctx context.Context, email string) (domain.Role, bool, error) {
	normalized := strings.ToLower(strings.TrimSpace(email))
	if normalized == "" {
		return "", false, nil
	}

	stmt, args, err := d.builder.Select("role").
		From(roleGrantsTable).
		Where(squirrel.Eq{"email": normalized}).
		Where(squirrel.Eq{"revoked_at": nil}).
		OrderBy("granted_at DESC").
		Limit(1).
		ToSql()
	if err != nil {
		return "", false, fmt.Errorf("build lookup role sql: %w", err)
	}

	var raw string
	if err := d.exec.QueryRow(ctx, stmt, args...).Scan(&raw); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", false, nil
		}
		return "", false, fmt.Errorf("query role grant: %w", err)
	}

	role, ok := domain.ParseRole(raw)
	if !ok {
		return "", false, fmt.Errorf("role grant for email holds unknown role %q", raw)
	}
	return role, true, nil
}

// Grant records role for email, replacing any active grant.
func (d *RoleDirectory) Grant(ctx context.Context, email string, role domain.Role, grantedBy string) error {
	normalized := strings.ToLower(strings.TrimSpace(email))
	if normalized == "" {
		return fmt.Errorf("email is required")
	}
	if _, ok := domain.ParseRole(string(role)); !ok {
		return fmt.Errorf("unknown role %q", role)
	}

	stmt, args, err := d.builder.Insert(roleGrantsTable).
		Columns("email", "role", "granted_by").
		Values(normalized, string(role), strings.TrimSpace(grantedBy)).
		Suffix("ON CONFLICT (email) DO UPDATE SET role = EXCLUDED.role, granted_by = EXCLUDED.granted_by, granted_at = now(), revoked_at = NULL").
		ToSql()
	if err != nil {
		return fmt.Errorf("build grant role sql: %w", err)
	}

	if _, err := d.exec.Exec(ctx, stmt, args...); err != nil {
		return fmt.Errorf("upsert role grant: %w", err)
	}
	return nil
}

// Revoke marks the active grant for email as revoked. It reports whether a grant was active.
func (d *RoleDirectory) Revoke(ctx context.Context, email string) (bool, error) {
	normalized := strings.ToLower(strings.TrimSpace(email))
	if normalized == "" {
		return false, fmt.Errorf("email is required")
	}

	stmt, args, err := d.builder.Update(roleGrantsTable).
		Set("revoked_at", squirrel.Expr("now()")).
		Where(squirrel.Eq{"email": normalized}).
		Where(squirrel.Eq{"revoked_at": nil}).
		ToSql()
	if err != nil {
		return false, fmt.Errorf("build revoke role sql: %w", err)
	}

	tag, err := d.exec.Exec(ctx, stmt, args...)
	if err != nil {
		return false, fmt.Errorf("revoke role grant: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

var _ port.RoleDirectory = (*RoleDirectory)(nil)
