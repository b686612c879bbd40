package database

import (
	"io/fs"
	"strings"
	"testing"
)

func TestEmbeddedMigrationsAreAnnotated(t *testing.T) {
	entries, err := fs.ReadDir(migrationsFS, migrationsDir)
	if err != nil {
		t.Fatalf("read embedded migrations: %v", err)
	}
	if len(entries) == 0 {
		t.Fatalf("expected at least one embedded migration")
	}

	for _, entry := range entries {
		raw, err := fs.ReadFile(migrationsFS, migrationsDir+"/"+entry.Name())
		if err != nil {
			t.Fatalf("read %s: %v", entry.Name(), err)
		}
		body := string(raw)
		if !strings.Contains(body, "-- +goose Up") || !strings.Contains(body, "-- +goose Down") {
			t.Fatalf("%s is missing goose up/down annotations", entry.Name())
		}
	}
}

func TestRoleGrantsMigrationMatchesRoles(t *testing.T) {
	raw, err := fs.ReadFile(migrationsFS, migrationsDir+"/0001_create_role_grants.sql")
	if err != nil {
		t.Fatalf("read migration: %v", err)
	}
	for _, role := range []string{"'PUBLIC'", "'ADMIN'", "'SUPER_ADMIN'"} {
		if !strings.Contains(string(raw), role) {
			t.Fatalf("role constraint missing %s", role)
		}
	}
}
