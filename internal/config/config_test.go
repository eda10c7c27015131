package config_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"orderline/internal/config"
)

func TestDefaultIsValid(t *testing.T) {
	cfg := config.Default()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
	if cfg.Store.Backend != "sqlite" {
		t.Errorf("backend = %q", cfg.Store.Backend)
	}
	if cfg.Upstream.PageSize != 100 || cfg.Upstream.BatchSize != 5 {
		t.Errorf("upstream defaults wrong: %+v", cfg.Upstream)
	}
}

func TestGeneratedTemplateRoundTrips(t *testing.T) {
	cfg, err := config.FromYAML([]byte(config.GenerateDefault()))
	if err != nil {
		t.Fatalf("template does not parse: %v", err)
	}
	if len(cfg.Reasons.ValidationBlocked) == 0 {
		t.Error("reason vocabulary missing from template")
	}
}

func TestHTTPBackendRequiresBaseURL(t *testing.T) {
	_, err := config.FromYAML([]byte("store:\n  backend: http\n"))
	if err == nil || !strings.Contains(err.Error(), "base_url") {
		t.Fatalf("got %v, want base_url error", err)
	}
}

func TestUnknownBackendRejected(t *testing.T) {
	_, err := config.FromYAML([]byte("store:\n  backend: mongo\n"))
	if err == nil {
		t.Fatal("expected backend error")
	}
}

func TestLoadMissingFile(t *testing.T) {
	dir := t.TempDir()
	if _, err := config.Load(dir); err == nil {
		t.Fatal("expected error for missing config")
	}
	cfg, err := config.LoadOptional(dir)
	if err != nil || cfg != nil {
		t.Fatalf("LoadOptional: cfg=%v err=%v, want nil/nil", cfg, err)
	}
}

func TestLoadFromWorkspace(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "orderline.yml")
	if err := os.WriteFile(path, []byte(config.GenerateDefault()), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg, err := config.Load(dir)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Server.BasePath != "/v0" {
		t.Errorf("base path = %q", cfg.Server.BasePath)
	}
}

func TestReasonVocabulary(t *testing.T) {
	cfg := config.Default()
	if cfg.ValidationReasonAllowed("blocked", "") {
		t.Error("empty reason accepted for blocked")
	}
	if cfg.ValidationReasonAllowed("blocked", "not_a_code") {
		t.Error("unknown reason accepted")
	}
	if !cfg.ValidationReasonAllowed("blocked", "missing_documents") {
		t.Error("vocabulary reason rejected")
	}
	// Target states without a vocabulary accept anything.
	if !cfg.ValidationReasonAllowed("validated", "") {
		t.Error("non-blocked state should not require a reason")
	}

	// Empty vocabulary accepts any non-empty code.
	var open config.Config
	if !open.ActivationReasonAllowed("blocked", "whatever") {
		t.Error("open vocabulary rejected a code")
	}
	if open.ActivationReasonAllowed("blocked", "") {
		t.Error("open vocabulary accepted empty code")
	}
}
