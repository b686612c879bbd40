package main

import (
	"bytes"
	"strings"
	"testing"

	"github.com/danielp1234/saas-metrics-sub000/internal/core/domain"
)

func TestRolesGrantRejectsUnknownRole(t *testing.T) {
	cmd := newRootCommand()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs([]string{"roles", "grant", "--email", "ops@example.com", "--role", "root"})

	err := cmd.Execute()
	if err == nil || !strings.Contains(err.Error(), "unknown role") {
		t.Fatalf("expected unknown role error, got %v", err)
	}
}

func TestRolesGrantRequiresEmail(t *testing.T) {
	cmd := newRootCommand()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs([]string{"roles", "grant", "--role", "ADMIN"})

	if err := cmd.Execute(); err == nil {
		t.Fatalf("expected missing --email to fail")
	}
}

func TestPrintGrant(t *testing.T) {
	var buf bytes.Buffer
	printGrant(&buf, "ops@example.com", domain.RoleAdmin, true)
	printGrant(&buf, "guest@example.com", "", false)

	want := "ops@example.com\tADMIN\nguest@example.com has no explicit grant\n"
	if buf.String() != want {
		t.Fatalf("unexpected output %q", buf.String())
	}
}
