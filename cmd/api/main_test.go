package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestCheckConfigPrintsSummary(t *testing.T) {
	dir := t.TempDir()
	envFile := filepath.Join(dir, "auth.env")
	if err := os.WriteFile(envFile, []byte("IAM_SESSION_MAX_CONCURRENT=4\n"), 0o600); err != nil {
		t.Fatalf("write env file: %v", err)
	}
	t.Setenv("IAM_SESSION_MAX_CONCURRENT", "")
	os.Unsetenv("IAM_SESSION_MAX_CONCURRENT")

	cmd := newRootCommand()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"--env-file", envFile, "--check-config"})

	if err := cmd.Execute(); err != nil {
		t.Fatalf("check-config failed: %v", err)
	}
	summary := out.String()
	for _, want := range []string{"max sessions:     4", "refresh ttl:      168h0m0s", "key ring:         local to this instance", "trusted proxies:  none"} {
		if !strings.Contains(summary, want) {
			t.Fatalf("expected %q in summary:\n%s", want, summary)
		}
	}
}

func TestCheckConfigReportsInvalidSettings(t *testing.T) {
	t.Setenv("IAM_SESSION_MAX_CONCURRENT", "0")

	cmd := newRootCommand()
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetArgs([]string{"--env-file", filepath.Join(t.TempDir(), "missing.env"), "--check-config"})
	if err := cmd.Execute(); err == nil || !strings.Contains(err.Error(), "missing.env") {
		t.Fatalf("expected an explicit missing env file to fail, got %v", err)
	}

	cmd = newRootCommand()
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetArgs([]string{"--check-config"})
	if err := cmd.Execute(); err == nil || !strings.Contains(err.Error(), "session.max_concurrent") {
		t.Fatalf("expected validation error, got %v", err)
	}
}
