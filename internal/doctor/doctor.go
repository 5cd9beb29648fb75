// Package doctor validates hookline configuration beyond what the loader
// enforces: cross references between routes, receivers, secrets and targets.
package doctor

import (
	"encoding/json"
	"fmt"
	"os"
	"regexp"
	"sort"
	"strings"

	"github.com/mattjoyce/hookline/internal/auth"
	"github.com/mattjoyce/hookline/internal/config"
	"github.com/mattjoyce/hookline/internal/receiver"
)

// Result holds the outcome of a validation run.
type Result struct {
	Valid    bool    `json:"valid"`
	Errors   []Issue `json:"errors,omitempty"`
	Warnings []Issue `json:"warnings,omitempty"`
}

// Issue describes a single validation error or warning.
type Issue struct {
	Category string `json:"category"`
	Message  string `json:"message"`
	Field    string `json:"field,omitempty"`
}

// Doctor validates a loaded configuration.
type Doctor struct {
	cfg     *config.Config
	environ []string
	table   *receiver.Table
	secrets map[string]string
}

// New creates a Doctor. environ is in os.Environ form and supplies secret overrides.
func New(cfg *config.Config, environ []string) *Doctor {
	return &Doctor{cfg: cfg, environ: environ}
}

// Validate runs all checks and returns a result.
func (d *Doctor) Validate() *Result {
	r := &Result{Valid: true}

	d.validateServiceConfig(r)
	d.validateReceivers(r)
	d.validateRoutes(r)
	d.validateSecrets(r)
	d.validateAPIConfig(r)
	d.validateTokenScopes(r)
	d.warnMissingSecrets(r)
	d.warnMissingEnvVars(r)
	d.warnDeprecatedSyntax(r)
	d.warnTracing(r)

	r.Valid = len(r.Errors) == 0
	return r
}

func (d *Doctor) addError(r *Result, category, field, msg string) {
	r.Errors = append(r.Errors, Issue{Category: category, Field: field, Message: msg})
}

func (d *Doctor) addWarning(r *Result, category, field, msg string) {
	r.Warnings = append(r.Warnings, Issue{Category: category, Field: field, Message: msg})
}

// validateServiceConfig checks required service fields.
func (d *Doctor) validateServiceConfig(r *Result) {
	if d.cfg.State.Path == "" {
		d.addError(r, "service", "state.path", "state.path is required")
	}
	if d.cfg.Webhooks.Listen == "" {
		d.addError(r, "service", "webhooks.listen", "webhooks.listen is required")
	}
	if _, err := d.cfg.Webhooks.MaxBodyBytes(); err != nil {
		d.addError(r, "service", "webhooks.max_body_size", err.Error())
	}
}

// validateReceivers builds the receiver table; later checks need it.
func (d *Doctor) validateReceivers(r *Result) {
	table, err := receiver.Build(d.cfg.Receivers)
	if err != nil {
		d.addError(r, "receivers", "receivers", err.Error())
		return
	}
	d.table = table
}

// validateRoutes checks receiver and target references.
func (d *Doctor) validateRoutes(r *Result) {
	forwards := 0
	for i, route := range d.cfg.Routes {
		field := fmt.Sprintf("routes[%d]", i)

		if d.table != nil {
			if _, ok := d.table.Lookup(route.Receiver); !ok {
				d.addError(r, "routes", field+".receiver",
					fmt.Sprintf("route references unknown receiver %q", route.Receiver))
			}
		}

		switch route.Action {
		case config.ActionForward:
			forwards++
			if route.Target == "" {
				d.addError(r, "routes", field+".target", "forward route requires a target")
			} else if _, ok := d.cfg.Targets[route.Target]; !ok {
				d.addError(r, "routes", field+".target",
					fmt.Sprintf("forward route references unknown target %q", route.Target))
			}
		case config.ActionLog, config.ActionRespond:
		default:
			d.addError(r, "routes", field+".action",
				fmt.Sprintf("unknown action %q (want log, forward or respond)", route.Action))
		}
	}

	if forwards > 0 && !d.cfg.Sender.Enabled {
		d.addWarning(r, "routes", "sender.enabled",
			fmt.Sprintf("%d forward route(s) configured but sender is disabled; deliveries will queue without being sent", forwards))
	}
}

func (d *Doctor) secretKeys() map[string]string {
	if d.secrets == nil {
		d.secrets = config.SecretKeys(d.cfg, d.environ)
	}
	return d.secrets
}

// validateSecrets checks every configured secret against its receiver's bounds.
func (d *Doctor) validateSecrets(r *Result) {
	if d.table == nil {
		return
	}
	keys := d.secretKeys()
	names := make([]string, 0, len(keys))
	for k := range keys {
		names = append(names, k)
	}
	sort.Strings(names)

	for _, k := range names {
		name, id, ok := splitSecretKey(k)
		if !ok {
			continue
		}
		field := fmt.Sprintf("secrets.%s.%s", name, id)
		meta, ok := d.table.Lookup(name)
		if !ok {
			d.addWarning(r, "secrets", field, fmt.Sprintf("secret configured for unknown receiver %q", name))
			continue
		}
		spec := meta.Signature
		n := len(keys[k])
		if (spec.MinSecretLength > 0 && n < spec.MinSecretLength) || (spec.MaxSecretLength > 0 && n > spec.MaxSecretLength) {
			d.addError(r, "secrets", field,
				fmt.Sprintf("secret length %d is outside %s bounds [%d, %d]; requests will be answered 404",
					n, name, spec.MinSecretLength, spec.MaxSecretLength))
		}
	}
}

func splitSecretKey(k string) (receiverName, id string, ok bool) {
	parts := strings.SplitN(k, ":SecretKey:", 2)
	if len(parts) != 2 {
		return "", "", false
	}
	return parts[0], parts[1], true
}

// warnMissingSecrets warns about routed receivers that cannot verify requests.
func (d *Doctor) warnMissingSecrets(r *Result) {
	if d.table == nil {
		return
	}
	keys := d.secretKeys()
	has := func(name, id string) bool {
		_, ok := keys[config.SecretKey(name, id)]
		return ok
	}

	warned := make(map[string]bool)
	for i, route := range d.cfg.Routes {
		name := strings.ToLower(route.Receiver)
		meta, ok := d.table.Lookup(name)
		if !ok || !meta.Verifies() {
			continue
		}
		if route.ID != "" {
			if !has(name, route.ID) && !has(name, "") {
				d.addWarning(r, "secrets", fmt.Sprintf("routes[%d].id", i),
					fmt.Sprintf("route for %s/%s has no secret for that id or a default", name, route.ID))
			}
			continue
		}
		if !has(name, "") && !warned[name] {
			warned[name] = true
			d.addWarning(r, "secrets", "secrets."+name,
				fmt.Sprintf("receiver %q has routes but no default secret; unsigned ids will be answered 404", name))
		}
	}
}

// validateAPIConfig checks API server settings.
func (d *Doctor) validateAPIConfig(r *Result) {
	if !d.cfg.API.Enabled {
		return
	}
	if d.cfg.API.Listen == "" {
		d.addError(r, "api", "api.listen", "api.listen is required when API is enabled")
	}
	if d.cfg.API.Auth.APIKey == "" && len(d.cfg.API.Auth.Tokens) == 0 {
		d.addWarning(r, "api", "api.auth", "API enabled but no authentication configured; protected endpoints will reject every request")
	}
}

// validateTokenScopes checks that every scope is one the API understands.
func (d *Doctor) validateTokenScopes(r *Result) {
	for i, token := range d.cfg.API.Auth.Tokens {
		for j, scope := range token.Scopes {
			if !auth.KnownScope(scope) {
				d.addError(r, "token_scopes", fmt.Sprintf("api.auth.tokens[%d].scopes[%d]", i, j),
					fmt.Sprintf("unknown scope %q (expected receipts:ro, deliveries:ro, deliveries:rw, events:ro or *)", scope))
			}
		}
	}
}

var envVarRe = regexp.MustCompile(`\$\{([A-Z_][A-Z0-9_]*)\}`)

// warnMissingEnvVars warns about ${VAR} references where VAR is not set.
func (d *Doctor) warnMissingEnvVars(r *Result) {
	check := func(field, value string) {
		for _, m := range envVarRe.FindAllStringSubmatch(value, -1) {
			if os.Getenv(m[1]) == "" {
				d.addWarning(r, "env_vars", field, fmt.Sprintf("environment variable ${%s} not set", m[1]))
			}
		}
	}

	for i, token := range d.cfg.API.Auth.Tokens {
		if token.Token == "" {
			d.addWarning(r, "env_vars", fmt.Sprintf("api.auth.tokens[%d].token", i),
				"token value is empty (possibly unresolved environment variable)")
		}
		check(fmt.Sprintf("api.auth.tokens[%d].token", i), token.Token)
	}
	for name, ids := range d.cfg.Secrets {
		for id, secret := range ids {
			check(fmt.Sprintf("secrets.%s.%s", name, id), secret)
		}
	}
	for name, t := range d.cfg.Targets {
		check(fmt.Sprintf("targets.%s.secret", name), t.Secret)
	}
}

// warnDeprecatedSyntax warns about legacy config patterns.
func (d *Doctor) warnDeprecatedSyntax(r *Result) {
	if d.cfg.API.Auth.APIKey != "" && len(d.cfg.API.Auth.Tokens) > 0 {
		d.addWarning(r, "deprecated", "api.auth",
			"both api_key and tokens configured; prefer tokens array only")
	}
	if d.cfg.API.Auth.APIKey != "" && len(d.cfg.API.Auth.Tokens) == 0 {
		d.addWarning(r, "deprecated", "api.auth.api_key",
			"legacy api_key grants full access; migrate to tokens array with scopes")
	}
}

func (d *Doctor) warnTracing(r *Result) {
	if d.cfg.Tracing.Enabled && d.cfg.Tracing.Endpoint == "" {
		d.addWarning(r, "tracing", "tracing.endpoint",
			"tracing enabled without endpoint; exporter defaults to localhost:4318")
	}
}

// FormatHuman returns a human-readable validation report.
func FormatHuman(r *Result) string {
	var b strings.Builder

	if r.Valid && len(r.Warnings) == 0 {
		b.WriteString("Configuration valid.\n")
		return b.String()
	}

	if r.Valid && len(r.Warnings) > 0 {
		b.WriteString("Configuration valid")
		fmt.Fprintf(&b, " (%d warning(s))\n", len(r.Warnings))
	}

	if !r.Valid {
		fmt.Fprintf(&b, "Configuration invalid (%d error(s), %d warning(s))\n", len(r.Errors), len(r.Warnings))
	}

	for _, e := range r.Errors {
		if e.Field != "" {
			fmt.Fprintf(&b, "  ERROR [%s] %s: %s\n", e.Category, e.Field, e.Message)
		} else {
			fmt.Fprintf(&b, "  ERROR [%s] %s\n", e.Category, e.Message)
		}
	}
	for _, w := range r.Warnings {
		if w.Field != "" {
			fmt.Fprintf(&b, "  WARN  [%s] %s: %s\n", w.Category, w.Field, w.Message)
		} else {
			fmt.Fprintf(&b, "  WARN  [%s] %s\n", w.Category, w.Message)
		}
	}

	return b.String()
}

// FormatJSON returns the result as indented JSON.
func FormatJSON(r *Result) (string, error) {
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return "", err
	}
	return string(data), nil
}
