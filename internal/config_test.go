package internal

import (
	"strings"
	"testing"
	"time"
)

func TestAuthConfig_DisabledMode(t *testing.T) {
	cfg := AuthConfig{Mode: "disabled", Token: ""}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("disabled mode should pass: %v", err)
	}
	if cfg.AuthEnabled() {
		t.Error("disabled mode should not be enabled")
	}
}

func TestAuthConfig_EmptyModeDefaultsDisabled(t *testing.T) {
	cfg := AuthConfig{Mode: "", Token: ""}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("empty mode should default to disabled: %v", err)
	}
	if cfg.Mode != AuthModeDisabled {
		t.Errorf("mode = %q, want %q", cfg.Mode, AuthModeDisabled)
	}
}

func TestAuthConfig_TokenModeEmptyToken(t *testing.T) {
	cfg := AuthConfig{Mode: "token", Token: ""}
	err := cfg.Validate()
	if err == nil {
		t.Fatal("token mode with empty token should fail")
	}
	if !strings.Contains(err.Error(), "token is empty") {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestExecConfig_EmptyPolicyDefaultsContinue(t *testing.T) {
	cfg := ExecConfig{AttemptTimeout: time.Second}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("empty policy should default to continue: %v", err)
	}
	if cfg.FailurePolicy != "continue" {
		t.Errorf("policy = %q, want continue", cfg.FailurePolicy)
	}
}

func TestExecConfig_InvalidPolicy(t *testing.T) {
	cfg := ExecConfig{FailurePolicy: "retry_forever"}
	if err := cfg.Validate(); err == nil {
		t.Fatal("unknown policy should fail validation")
	}
}

func TestExecConfig_NegativeTimeout(t *testing.T) {
	cfg := ExecConfig{FailurePolicy: "continue", AttemptTimeout: -time.Second}
	if err := cfg.Validate(); err == nil {
		t.Fatal("negative timeout should fail validation")
	}
}

func TestFullConfig_Defaults(t *testing.T) {
	cfg := NewDefaultConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config should validate: %v", err)
	}
	if cfg.App.HTTP.Address() != ":8080" {
		t.Errorf("address = %q", cfg.App.HTTP.Address())
	}
}

func TestFullConfig_AuthValidationCalled(t *testing.T) {
	cfg := NewDefaultConfig()
	cfg.Auth.Mode = "token"
	cfg.Auth.Token = ""
	err := cfg.Validate()
	if err == nil {
		t.Fatal("full config validate should catch auth error")
	}
}

func TestFullConfig_MissingWorkspace(t *testing.T) {
	cfg := NewDefaultConfig()
	cfg.Workspace.Path = ""
	if err := cfg.Validate(); err == nil {
		t.Fatal("missing workspace path should fail validation")
	}
}
