package doctor

import (
	"strings"
	"testing"

	"github.com/mattjoyce/hookline/internal/config"
)

func validConfig() *config.Config {
	cfg := config.Defaults()
	cfg.Secrets = map[string]map[string]string{
		"github": {"default": "github-secret-0123456789"},
	}
	cfg.Targets = map[string]config.TargetConfig{
		"crm": {URL: "https://crm.example.com/hooks", Secret: "target-secret"},
	}
	cfg.Sender.Enabled = true
	cfg.Routes = []config.RouteConfig{
		{Receiver: "github", Events: []string{"push"}, Action: config.ActionForward, Target: "crm"},
		{Receiver: "github", Action: config.ActionLog},
	}
	return cfg
}

func TestValidate_ValidConfig(t *testing.T) {
	t.Parallel()
	r := New(validConfig(), nil).Validate()
	if !r.Valid {
		t.Fatalf("expected valid, got errors: %v", r.Errors)
	}
	if len(r.Warnings) != 0 {
		t.Fatalf("expected no warnings, got: %v", r.Warnings)
	}
}

func TestValidate_MissingStatePath(t *testing.T) {
	t.Parallel()
	cfg := validConfig()
	cfg.State.Path = ""
	r := New(cfg, nil).Validate()
	if r.Valid {
		t.Fatal("expected invalid")
	}
	assertHasError(t, r, "service", "state.path")
}

func TestValidate_InvalidReceiver(t *testing.T) {
	t.Parallel()
	cfg := validConfig()
	cfg.Receivers = map[string]config.ReceiverConf{
		"acme": {Extends: "nosuchvendor"},
	}
	r := New(cfg, nil).Validate()
	assertHasError(t, r, "receivers", "nosuchvendor")
}

func TestValidate_RouteUnknownReceiver(t *testing.T) {
	t.Parallel()
	cfg := validConfig()
	cfg.Routes = append(cfg.Routes, config.RouteConfig{Receiver: "gitlab", Action: config.ActionLog})
	r := New(cfg, nil).Validate()
	assertHasError(t, r, "routes", "gitlab")
}

func TestValidate_RouteUnknownTarget(t *testing.T) {
	t.Parallel()
	cfg := validConfig()
	cfg.Routes = append(cfg.Routes,
		config.RouteConfig{Receiver: "github", Action: config.ActionForward, Target: "billing"},
		config.RouteConfig{Receiver: "github", Action: config.ActionForward},
	)
	r := New(cfg, nil).Validate()
	assertHasError(t, r, "routes", "billing")
	assertHasError(t, r, "routes", "requires a target")
}

func TestValidate_WarnForwardWithoutSender(t *testing.T) {
	t.Parallel()
	cfg := validConfig()
	cfg.Sender.Enabled = false
	r := New(cfg, nil).Validate()
	if !r.Valid {
		t.Fatalf("expected valid, got errors: %v", r.Errors)
	}
	assertHasWarning(t, r, "routes", "sender is disabled")
}

func TestValidate_SecretOutsideBounds(t *testing.T) {
	t.Parallel()
	cfg := validConfig()
	cfg.Secrets["dropbox"] = map[string]string{"default": "short"}
	r := New(cfg, nil).Validate()
	assertHasError(t, r, "secrets", "outside dropbox bounds")
}

func TestValidate_SecretFromEnvironmentIsChecked(t *testing.T) {
	t.Parallel()
	cfg := validConfig()
	env := []string{"HOOKLINE_SECRETS__GITHUB__SECRETKEY__DEFAULT=tiny"}
	r := New(cfg, env).Validate()
	assertHasError(t, r, "secrets", "length 4")
}

func TestValidate_WarnSecretForUnknownReceiver(t *testing.T) {
	t.Parallel()
	cfg := validConfig()
	cfg.Secrets["gitlab"] = map[string]string{"default": "0123456789abcdef"}
	r := New(cfg, nil).Validate()
	assertHasWarning(t, r, "secrets", "gitlab")
}

func TestValidate_WarnRouteWithoutSecret(t *testing.T) {
	t.Parallel()
	cfg := validConfig()
	cfg.Routes = append(cfg.Routes,
		config.RouteConfig{Receiver: "stripe", Action: config.ActionLog},
		config.RouteConfig{Receiver: "stripe", Action: config.ActionLog},
		config.RouteConfig{Receiver: "dropbox", ID: "app1", Action: config.ActionLog},
	)
	r := New(cfg, nil).Validate()
	if !r.Valid {
		t.Fatalf("missing secrets are warnings, got errors: %v", r.Errors)
	}
	assertHasWarning(t, r, "secrets", "\"stripe\" has routes but no default secret")
	assertHasWarning(t, r, "secrets", "dropbox/app1")

	count := 0
	for _, w := range r.Warnings {
		if strings.Contains(w.Message, "stripe") {
			count++
		}
	}
	if count != 1 {
		t.Fatalf("expected a single stripe warning, got %d", count)
	}
}

func TestValidate_TokenScopes(t *testing.T) {
	t.Parallel()
	cfg := validConfig()
	cfg.API.Enabled = true
	cfg.API.Auth.Tokens = []config.APIToken{
		{Token: "reader", Scopes: []string{"receipts:ro", "events:ro"}},
		{Token: "legacy", Scopes: []string{"jobs:rw"}},
	}
	r := New(cfg, nil).Validate()
	assertHasError(t, r, "token_scopes", "jobs:rw")
	if len(r.Errors) != 1 {
		t.Fatalf("expected exactly one error, got: %v", r.Errors)
	}
}

func TestValidate_WarnAPIWithoutAuth(t *testing.T) {
	t.Parallel()
	cfg := validConfig()
	cfg.API.Enabled = true
	r := New(cfg, nil).Validate()
	assertHasWarning(t, r, "api", "no authentication")
}

func TestValidate_WarnMissingEnvVar(t *testing.T) {
	t.Parallel()
	cfg := validConfig()
	cfg.Targets["crm"] = config.TargetConfig{URL: "https://crm.example.com", Secret: "${HOOKLINE_DOCTOR_TEST_UNSET}"}
	r := New(cfg, nil).Validate()
	assertHasWarning(t, r, "env_vars", "HOOKLINE_DOCTOR_TEST_UNSET")
}

func TestValidate_WarnDeprecatedAPIKey(t *testing.T) {
	t.Parallel()
	cfg := validConfig()
	cfg.API.Auth.APIKey = "admin"
	r := New(cfg, nil).Validate()
	assertHasWarning(t, r, "deprecated", "api_key")
}

func TestValidate_WarnBothAPIKeyAndTokens(t *testing.T) {
	t.Parallel()
	cfg := validConfig()
	cfg.API.Auth.APIKey = "admin"
	cfg.API.Auth.Tokens = []config.APIToken{{Token: "t", Scopes: []string{"*"}}}
	r := New(cfg, nil).Validate()
	assertHasWarning(t, r, "deprecated", "both")
}

func TestValidate_WarnTracingWithoutEndpoint(t *testing.T) {
	t.Parallel()
	cfg := validConfig()
	cfg.Tracing.Enabled = true
	r := New(cfg, nil).Validate()
	assertHasWarning(t, r, "tracing", "endpoint")
}

func TestFormatJSON(t *testing.T) {
	t.Parallel()
	r := &Result{
		Valid:  false,
		Errors: []Issue{{Category: "test", Message: "bad thing"}},
	}
	out, err := FormatJSON(r)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out, "bad thing") {
		t.Fatalf("expected JSON to contain error message, got: %s", out)
	}
}

func TestFormatHuman_Valid(t *testing.T) {
	t.Parallel()
	r := &Result{Valid: true}
	out := FormatHuman(r)
	if !strings.Contains(out, "valid") {
		t.Fatalf("expected 'valid' in output, got: %s", out)
	}
}

func TestFormatHuman_Errors(t *testing.T) {
	t.Parallel()
	r := &Result{
		Valid:    false,
		Errors:   []Issue{{Category: "test", Field: "x.y", Message: "broken"}},
		Warnings: []Issue{{Category: "test", Message: "iffy"}},
	}
	out := FormatHuman(r)
	if !strings.Contains(out, "ERROR") || !strings.Contains(out, "broken") {
		t.Fatalf("expected error in output, got: %s", out)
	}
	if !strings.Contains(out, "WARN  [test] iffy") {
		t.Fatalf("expected warning in output, got: %s", out)
	}
}

// --- helpers ---

func assertHasError(t *testing.T, r *Result, category, substring string) {
	t.Helper()
	for _, e := range r.Errors {
		if e.Category == category && strings.Contains(e.Message, substring) {
			return
		}
	}
	t.Fatalf("expected error with category=%q containing %q, got: %v", category, substring, r.Errors)
}

func assertHasWarning(t *testing.T, r *Result, category, substring string) {
	t.Helper()
	for _, w := range r.Warnings {
		if w.Category == category && strings.Contains(w.Message, substring) {
			return
		}
	}
	t.Fatalf("expected warning with category=%q containing %q, got: %v", category, substring, r.Warnings)
}
