package app

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	paseto "aidanwoods.dev/go-paseto"

	"github.com/danilo-marra/espaco-dialogico-sub003/cmd/identity"
	"github.com/danilo-marra/espaco-dialogico-sub003/cmd/security/password"
)

func discardLogger() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

// setTestEnv provides key material and cheap Argon2 parameters.
func setTestEnv(t *testing.T) {
	t.Helper()
	t.Setenv("ESPACO_BEARER_FORMAT", "")
	t.Setenv("ESPACO_PASETO_V4_SECRET_KEY_HEX", paseto.NewV4AsymmetricSecretKey().ExportHex())
	t.Setenv("ESPACO_TOKEN_HMAC_KEY", "")
	t.Setenv("ESPACO_ARGON2_MEMORY_KIB", "8192")
	t.Setenv("ESPACO_ARGON2_ITERATIONS", "1")
}

func testConfig(t *testing.T) Config {
	t.Helper()
	cfg := DefaultConfig()
	cfg.SQLitePath = filepath.Join(t.TempDir(), "espaco.db")
	cfg.AutoMigrate = true
	return cfg
}

func TestApp_EndToEnd(t *testing.T) {
	setTestEnv(t)
	ctx := context.Background()

	a, err := New(ctx, testConfig(t), discardLogger())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer a.Close()

	pw, err := password.FromEnv()
	if err != nil {
		t.Fatalf("password config: %v", err)
	}
	digest, err := pw.Hash("Correct-Horse-42")
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	if _, err := a.backend.Users().Create(ctx, identity.CreateUserInput{
		Username:       "admin",
		Email:          "admin@example.com",
		PasswordDigest: digest,
		Role:           identity.RoleAdmin,
	}); err != nil {
		t.Fatalf("seed admin: %v", err)
	}

	ts := httptest.NewServer(a.Handler())
	defer ts.Close()
	client := ts.Client()

	for _, path := range []string{"/healthz", "/readyz"} {
		resp, err := client.Get(ts.URL + path)
		if err != nil {
			t.Fatalf("GET %s: %v", path, err)
		}
		_ = resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("GET %s: status %d", path, resp.StatusCode)
		}
		if got := resp.Header.Get("X-Content-Type-Options"); got != "nosniff" {
			t.Fatalf("GET %s: security headers missing", path)
		}
	}

	body, _ := json.Marshal(map[string]string{"identifier": "admin", "password": "Correct-Horse-42"})
	resp, err := client.Post(ts.URL+"/auth/login", "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	var login struct {
		AccessToken string `json:"access_token"`
	}
	err = json.NewDecoder(resp.Body).Decode(&login)
	_ = resp.Body.Close()
	if err != nil || resp.StatusCode != http.StatusOK || login.AccessToken == "" {
		t.Fatalf("login: status=%d err=%v", resp.StatusCode, err)
	}

	req, _ := http.NewRequest(http.MethodGet, ts.URL+"/me", nil)
	req.Header.Set("Authorization", "Bearer "+login.AccessToken)
	resp, err = client.Do(req)
	if err != nil {
		t.Fatalf("me: %v", err)
	}
	_ = resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("me: status %d", resp.StatusCode)
	}

	resp, err = client.Get(ts.URL + "/metrics")
	if err != nil {
		t.Fatalf("metrics: %v", err)
	}
	raw, _ := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	for _, want := range []string{
		`espaco_auth_login_total{result="ok"} 1`,
		`espaco_auth_authenticate_total{result="ok"} 1`,
		"espaco_http_requests_total",
		"go_goroutines",
	} {
		if !strings.Contains(string(raw), want) {
			t.Fatalf("metrics output lacks %q", want)
		}
	}
}

func TestApp_MetricsDisabled(t *testing.T) {
	setTestEnv(t)

	cfg := testConfig(t)
	cfg.MetricsEnabled = false
	a, err := New(context.Background(), cfg, discardLogger())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer a.Close()

	rr := httptest.NewRecorder()
	a.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for /metrics when disabled, got %d", rr.Code)
	}
}

func TestNew_FailsFastOnSecurityPolicy(t *testing.T) {
	setTestEnv(t)

	cfg := testConfig(t)
	cfg.RequireTokenHMAC = true
	if _, err := New(context.Background(), cfg, discardLogger()); err == nil || !strings.Contains(err.Error(), "ESPACO_TOKEN_HMAC_KEY") {
		t.Fatalf("expected HMAC policy error, got %v", err)
	}

	t.Setenv("ESPACO_TOKEN_HMAC_KEY", "short")
	if _, err := New(context.Background(), cfg, discardLogger()); err == nil || !strings.Contains(err.Error(), "too short") {
		t.Fatalf("expected short key error, got %v", err)
	}
}

func TestNew_FailsWithoutBearerKey(t *testing.T) {
	setTestEnv(t)
	t.Setenv("ESPACO_PASETO_V4_SECRET_KEY_HEX", "")

	if _, err := New(context.Background(), testConfig(t), discardLogger()); err == nil {
		t.Fatalf("expected error without bearer key material")
	}
}

func TestBearerConfig_FileBaseEnvOverride(t *testing.T) {
	setTestEnv(t)
	t.Setenv("ESPACO_BEARER_TTL", "30m")

	cfg := DefaultConfig()
	cfg.BearerIssuer = "espaco-file"
	cfg.BearerTTL = 2 * time.Hour

	bc, err := BearerConfig(cfg)
	if err != nil {
		t.Fatalf("BearerConfig: %v", err)
	}
	if bc.Issuer != "espaco-file" || bc.TTL != 30*time.Minute {
		t.Fatalf("unexpected bearer config: %+v", bc)
	}
}
