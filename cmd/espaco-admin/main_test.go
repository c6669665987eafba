package main

import (
	"bytes"
	"path/filepath"
	"regexp"
	"strings"
	"testing"

	paseto "aidanwoods.dev/go-paseto"
)

func setAdminEnv(t *testing.T) {
	t.Helper()
	t.Setenv("ESPACO_SQLITE_PATH", filepath.Join(t.TempDir(), "admin.db"))
	t.Setenv("ESPACO_AUTO_MIGRATE", "true")
	t.Setenv("ESPACO_LOG_LEVEL", "error")
	t.Setenv("ESPACO_PASETO_V4_SECRET_KEY_HEX", paseto.NewV4AsymmetricSecretKey().ExportHex())
	t.Setenv("ESPACO_TOKEN_HMAC_KEY", "")
	t.Setenv("ESPACO_ARGON2_MEMORY_KIB", "8192")
	t.Setenv("ESPACO_ARGON2_ITERATIONS", "1")
}

func TestRun_MissingAndUnknownCommand(t *testing.T) {
	var out bytes.Buffer
	if err := run(nil, strings.NewReader(""), &out); err == nil {
		t.Fatalf("expected error without command")
	}
	if !strings.Contains(out.String(), "usage:") {
		t.Fatalf("usage not printed: %q", out.String())
	}

	setAdminEnv(t)
	if err := run([]string{"frobnicate"}, strings.NewReader(""), &out); err == nil || !strings.Contains(err.Error(), "unknown command") {
		t.Fatalf("expected unknown command error, got %v", err)
	}
}

func TestRun_CreateAdminIssueInvitePurge(t *testing.T) {
	setAdminEnv(t)
	t.Setenv("ESPACO_ADMIN_PASSWORD", "")

	var out bytes.Buffer
	err := run([]string{"create-admin", "-username", "root", "-email", "root@example.com"},
		strings.NewReader("Correct-Horse-42\n"), &out)
	if err != nil {
		t.Fatalf("create-admin: %v", err)
	}
	if !strings.Contains(out.String(), "created admin root") {
		t.Fatalf("unexpected output: %q", out.String())
	}

	if err := run([]string{"create-admin", "-username", "root", "-email", "other@example.com"},
		strings.NewReader("Correct-Horse-42\n"), &out); err == nil {
		t.Fatalf("expected duplicate username to fail")
	}

	out.Reset()
	if err := run([]string{"issue-invite", "-role", "terapeuta", "-email", "t@example.com", "-ttl", "48h"}, nil, &out); err != nil {
		t.Fatalf("issue-invite: %v", err)
	}
	if !regexp.MustCompile(`code=[A-Z0-9]{4}-[A-Z0-9]{4}-[A-Z0-9]{4}-[A-Z0-9]{4} role=terapeuta`).MatchString(out.String()) {
		t.Fatalf("unexpected invite output: %q", out.String())
	}

	if err := run([]string{"issue-invite", "-role", "gerente"}, nil, &out); err == nil {
		t.Fatalf("expected invalid role to fail")
	}

	out.Reset()
	if err := run([]string{"purge-sessions"}, nil, &out); err != nil {
		t.Fatalf("purge-sessions: %v", err)
	}
	if !strings.Contains(out.String(), "deleted 0 expired sessions") {
		t.Fatalf("unexpected purge output: %q", out.String())
	}
}

func TestReadPassword(t *testing.T) {
	t.Setenv("ESPACO_ADMIN_PASSWORD", "")
	got, err := readPassword(strings.NewReader("s3cret-Pass\r\nignored"))
	if err != nil || got != "s3cret-Pass" {
		t.Fatalf("got %q, %v", got, err)
	}
	if _, err := readPassword(strings.NewReader("\n")); err == nil {
		t.Fatalf("expected empty password error")
	}

	t.Setenv("ESPACO_ADMIN_PASSWORD", "From-Env-123")
	if got, _ := readPassword(strings.NewReader("")); got != "From-Env-123" {
		t.Fatalf("env password not preferred: %q", got)
	}
}
