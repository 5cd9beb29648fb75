package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// Load reads and parses configuration from a file or a directory holding config.yaml.
// Files listed under include are merged in order; later files win for scalar values.
func Load(configPath string) (*Config, error) {
	absPath, err := resolveConfigFile(configPath)
	if err != nil {
		return nil, err
	}

	cfg, err := loadConfigFile(absPath)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", absPath, err)
	}
	cfg.SourceFiles = make(map[string]*yaml.Node)
	addSourceNode(cfg, absPath)

	visited := map[string]bool{absPath: true}
	if len(cfg.Include) > 0 {
		if err := loadIncludes(cfg, cfg.Include, filepath.Dir(absPath), visited); err != nil {
			return nil, err
		}
	}

	cfg = applyConfigDefaults(cfg)

	allPaths := make([]string, 0, len(visited))
	for path := range visited {
		allPaths = append(allPaths, path)
	}
	sort.Strings(allPaths)
	if err := verifyAllConfigHashes(allPaths); err != nil {
		return nil, err
	}

	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// DiscoverConfigDir finds the config location by checking standard locations.
// Priority order: $HOOKLINE_CONFIG_DIR, ~/.config/hookline, /etc/hookline, ./config.yaml
func DiscoverConfigDir() (string, error) {
	if dir := os.Getenv("HOOKLINE_CONFIG_DIR"); dir != "" {
		if _, err := os.Stat(dir); err == nil {
			return dir, nil
		}
	}

	if homeDir, err := os.UserHomeDir(); err == nil {
		userConfigDir := filepath.Join(homeDir, ".config", "hookline")
		if _, err := os.Stat(userConfigDir); err == nil {
			return userConfigDir, nil
		}
	}

	systemConfigDir := "/etc/hookline"
	if _, err := os.Stat(systemConfigDir); err == nil {
		return systemConfigDir, nil
	}

	localConfigPath := "./config.yaml"
	if _, err := os.Stat(localConfigPath); err == nil {
		return localConfigPath, nil
	}

	return "", fmt.Errorf("no config found (checked: $HOOKLINE_CONFIG_DIR, ~/.config/hookline, /etc/hookline, ./config.yaml)")
}

// DiscoverAllConfigFiles returns absolute paths to all configuration files in the include tree.
func DiscoverAllConfigFiles(configPath string) ([]string, error) {
	absPath, err := resolveConfigFile(configPath)
	if err != nil {
		return nil, err
	}

	cfg, err := loadConfigFile(absPath)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", absPath, err)
	}

	visited := map[string]bool{absPath: true}
	if len(cfg.Include) > 0 {
		if err := collectIncludes(cfg.Include, filepath.Dir(absPath), visited); err != nil {
			return nil, err
		}
	}

	files := make([]string, 0, len(visited))
	for f := range visited {
		files = append(files, f)
	}
	sort.Strings(files)
	return files, nil
}

func resolveConfigFile(configPath string) (string, error) {
	absPath, err := filepath.Abs(configPath)
	if err != nil {
		return "", fmt.Errorf("failed to resolve config path %q: %w", configPath, err)
	}

	info, err := os.Stat(absPath)
	if err != nil {
		return "", fmt.Errorf("config file not found: %s\n"+
			"Hint: Check the path or run with --config flag", absPath)
	}

	if info.IsDir() {
		absPath = filepath.Join(absPath, "config.yaml")
		if _, err := os.Stat(absPath); err != nil {
			return "", fmt.Errorf("directory provided but config.yaml not found: %s", absPath)
		}
	}
	return absPath, nil
}

func resolveInclude(i int, includePath, baseDir string) (string, error) {
	includePath = interpolateEnv(includePath)
	resolved := includePath
	if !filepath.IsAbs(includePath) {
		resolved = filepath.Join(baseDir, includePath)
	}

	absPath, err := filepath.Abs(resolved)
	if err != nil {
		return "", fmt.Errorf("include[%d]: failed to resolve path %q: %w", i, includePath, err)
	}

	if _, err := os.Stat(absPath); err != nil {
		if os.IsNotExist(err) {
			return "", fmt.Errorf("include[%d]: file not found: %s\n"+
				"Referenced from: %s\n"+
				"Hint: Check the path is correct and the file exists", i, absPath, baseDir)
		}
		return "", fmt.Errorf("include[%d]: failed to access file %s: %w", i, absPath, err)
	}
	return absPath, nil
}

func collectIncludes(includes []string, baseDir string, visited map[string]bool) error {
	for i, includePath := range includes {
		absPath, err := resolveInclude(i, includePath, baseDir)
		if err != nil {
			return err
		}
		if visited[absPath] {
			continue
		}
		visited[absPath] = true

		data, err := os.ReadFile(absPath)
		if err != nil {
			return err
		}
		var partial struct {
			Include []string `yaml:"include"`
		}
		if err := yaml.Unmarshal([]byte(interpolateEnv(string(data))), &partial); err != nil {
			return fmt.Errorf("failed to parse YAML for includes in %s: %w", absPath, err)
		}

		if len(partial.Include) > 0 {
			if err := collectIncludes(partial.Include, filepath.Dir(absPath), visited); err != nil {
				return err
			}
		}
	}
	return nil
}

// loadIncludes recursively loads and merges files from the include array.
// visited tracks loaded files to prevent cycles.
func loadIncludes(cfg *Config, includes []string, baseDir string, visited map[string]bool) error {
	for i, includePath := range includes {
		absPath, err := resolveInclude(i, includePath, baseDir)
		if err != nil {
			return err
		}

		if visited[absPath] {
			return fmt.Errorf("include[%d]: circular dependency detected: %s", i, absPath)
		}
		visited[absPath] = true

		includedCfg, err := loadConfigFile(absPath)
		if err != nil {
			return fmt.Errorf("include[%d] (%s): %w", i, includePath, err)
		}
		addSourceNode(cfg, absPath)

		deepMergeConfig(cfg, includedCfg)

		if len(includedCfg.Include) > 0 {
			if err := loadIncludes(cfg, includedCfg.Include, filepath.Dir(absPath), visited); err != nil {
				return err
			}
		}
	}

	return nil
}

// loadConfigFile loads and parses a single config file without defaults.
func loadConfigFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal([]byte(interpolateEnv(string(data))), &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}
	return &cfg, nil
}

func addSourceNode(cfg *Config, path string) {
	data, err := os.ReadFile(path)
	if err != nil {
		return
	}
	var node yaml.Node
	if err := yaml.Unmarshal(data, &node); err == nil {
		cfg.SourceFiles[path] = &node
	}
}

// deepMergeConfig merges src into dst, with src taking precedence for non-zero values.
// Maps merge per key and routes append.
func deepMergeConfig(dst, src *Config) {
	if src.Service.Name != "" {
		dst.Service.Name = src.Service.Name
	}
	if src.Service.LogLevel != "" {
		dst.Service.LogLevel = src.Service.LogLevel
	}
	if src.Service.ReceiptRetention != 0 {
		dst.Service.ReceiptRetention = src.Service.ReceiptRetention
	}
	if src.Service.MaintenanceInterval != 0 {
		dst.Service.MaintenanceInterval = src.Service.MaintenanceInterval
	}

	if src.State.Path != "" {
		dst.State.Path = src.State.Path
	}

	if src.API.Enabled {
		dst.API.Enabled = true
	}
	if src.API.Listen != "" {
		dst.API.Listen = src.API.Listen
	}
	if src.API.Auth.APIKey != "" {
		dst.API.Auth.APIKey = src.API.Auth.APIKey
	}
	dst.API.Auth.Tokens = append(dst.API.Auth.Tokens, src.API.Auth.Tokens...)

	if src.Webhooks.Listen != "" {
		dst.Webhooks.Listen = src.Webhooks.Listen
	}
	if src.Webhooks.PublicBaseURL != "" {
		dst.Webhooks.PublicBaseURL = src.Webhooks.PublicBaseURL
	}
	if src.Webhooks.MaxBodySize != "" {
		dst.Webhooks.MaxBodySize = src.Webhooks.MaxBodySize
	}
	if src.Webhooks.RateLimit.RPS != 0 {
		dst.Webhooks.RateLimit = src.Webhooks.RateLimit
	}

	if src.Receivers != nil {
		if dst.Receivers == nil {
			dst.Receivers = make(map[string]ReceiverConf)
		}
		for name, rc := range src.Receivers {
			dst.Receivers[name] = rc
		}
	}

	if src.Secrets != nil {
		if dst.Secrets == nil {
			dst.Secrets = make(map[string]map[string]string)
		}
		for receiver, ids := range src.Secrets {
			if dst.Secrets[receiver] == nil {
				dst.Secrets[receiver] = make(map[string]string)
			}
			for id, secret := range ids {
				dst.Secrets[receiver][id] = secret
			}
		}
	}

	dst.Routes = append(dst.Routes, src.Routes...)

	if src.Targets != nil {
		if dst.Targets == nil {
			dst.Targets = make(map[string]TargetConfig)
		}
		for name, t := range src.Targets {
			dst.Targets[name] = t
		}
	}

	if src.Sender.Enabled {
		dst.Sender.Enabled = true
	}
	if src.Sender.PollInterval != 0 {
		dst.Sender.PollInterval = src.Sender.PollInterval
	}
	if src.Sender.Timeout != 0 {
		dst.Sender.Timeout = src.Sender.Timeout
	}
	if src.Sender.MaxAttempts != 0 {
		dst.Sender.MaxAttempts = src.Sender.MaxAttempts
	}
	if src.Sender.BackoffBase != 0 {
		dst.Sender.BackoffBase = src.Sender.BackoffBase
	}
	if src.Sender.BackoffMax != 0 {
		dst.Sender.BackoffMax = src.Sender.BackoffMax
	}

	if src.Tracing.Enabled {
		dst.Tracing = src.Tracing
	}
}

// applyConfigDefaults merges default values into config where not explicitly set.
func applyConfigDefaults(cfg *Config) *Config {
	defaults := Defaults()

	if cfg.Service.Name == "" {
		cfg.Service.Name = defaults.Service.Name
	}
	if cfg.Service.LogLevel == "" {
		cfg.Service.LogLevel = defaults.Service.LogLevel
	}
	if cfg.Service.ReceiptRetention == 0 {
		cfg.Service.ReceiptRetention = defaults.Service.ReceiptRetention
	}
	if cfg.Service.MaintenanceInterval == 0 {
		cfg.Service.MaintenanceInterval = defaults.Service.MaintenanceInterval
	}

	if cfg.State.Path == "" {
		cfg.State.Path = defaults.State.Path
	}

	if cfg.API.Listen == "" {
		cfg.API.Listen = defaults.API.Listen
	}
	if cfg.Webhooks.Listen == "" {
		cfg.Webhooks.Listen = defaults.Webhooks.Listen
	}

	if cfg.Sender.PollInterval == 0 {
		cfg.Sender.PollInterval = defaults.Sender.PollInterval
	}
	if cfg.Sender.Timeout == 0 {
		cfg.Sender.Timeout = defaults.Sender.Timeout
	}
	if cfg.Sender.MaxAttempts == 0 {
		cfg.Sender.MaxAttempts = defaults.Sender.MaxAttempts
	}
	if cfg.Sender.BackoffBase == 0 {
		cfg.Sender.BackoffBase = defaults.Sender.BackoffBase
	}
	if cfg.Sender.BackoffMax == 0 {
		cfg.Sender.BackoffMax = defaults.Sender.BackoffMax
	}

	if cfg.Tracing.Enabled && cfg.Tracing.Endpoint == "" {
		cfg.Tracing.Endpoint = "localhost:4318"
	}

	return cfg
}

// interpolateEnv replaces ${VAR} with environment variable values.
// Undefined variables are left as-is (not expanded).
func interpolateEnv(input string) string {
	return envVarPattern.ReplaceAllStringFunc(input, func(match string) string {
		varName := envVarPattern.FindStringSubmatch(match)[1]
		if value, exists := os.LookupEnv(varName); exists {
			return value
		}
		return match
	})
}

// unresolved reports the first ${VAR} left in value.
func unresolved(field, value string) error {
	matches := envVarPattern.FindStringSubmatch(value)
	if len(matches) > 1 {
		return fmt.Errorf("%s: environment variable ${%s} is not set", field, matches[1])
	}
	return nil
}

// Valid route actions.
const (
	ActionLog     = "log"
	ActionForward = "forward"
	ActionRespond = "respond"
)

// validate performs structural validation on the configuration.
// Receiver definitions are validated when the receiver table is built.
func validate(cfg *Config) error {
	validLogLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLogLevels[strings.ToLower(cfg.Service.LogLevel)] {
		return fmt.Errorf("service.log_level must be one of: debug, info, warn, error (got %q)", cfg.Service.LogLevel)
	}
	if cfg.Service.ReceiptRetention < 0 {
		return fmt.Errorf("service.receipt_retention must not be negative")
	}
	if cfg.Service.MaintenanceInterval < 0 {
		return fmt.Errorf("service.maintenance_interval must not be negative")
	}

	if cfg.State.Path == "" {
		return fmt.Errorf("state.path is required")
	}

	if cfg.Webhooks.Listen == "" {
		return fmt.Errorf("webhooks.listen is required")
	}
	if _, err := cfg.Webhooks.MaxBodyBytes(); err != nil {
		return fmt.Errorf("webhooks.max_body_size: %w", err)
	}
	if base := cfg.Webhooks.PublicBaseURL; base != "" {
		u, err := url.Parse(base)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return fmt.Errorf("webhooks.public_base_url must be an absolute URL (got %q)", base)
		}
	}
	if cfg.Webhooks.RateLimit.RPS < 0 || cfg.Webhooks.RateLimit.Burst < 0 {
		return fmt.Errorf("webhooks.rate_limit must not be negative")
	}

	if cfg.API.Enabled {
		if err := unresolved("api.auth.api_key", cfg.API.Auth.APIKey); err != nil {
			return err
		}
		for i, tok := range cfg.API.Auth.Tokens {
			field := fmt.Sprintf("api.auth.tokens[%d]", i)
			if tok.Token == "" {
				return fmt.Errorf("%s.token is required", field)
			}
			if err := unresolved(field+".token", tok.Token); err != nil {
				return err
			}
			if len(tok.Scopes) == 0 {
				return fmt.Errorf("%s.scopes must be non-empty", field)
			}
		}
	}

	for receiver, ids := range cfg.Secrets {
		for id, secret := range ids {
			if err := unresolved(fmt.Sprintf("secrets.%s.%s", receiver, id), secret); err != nil {
				return err
			}
		}
	}

	for name, t := range cfg.Targets {
		u, err := url.Parse(t.URL)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return fmt.Errorf("targets.%s.url must be an http(s) URL (got %q)", name, t.URL)
		}
		if t.Secret == "" {
			return fmt.Errorf("targets.%s.secret is required", name)
		}
		if err := unresolved(fmt.Sprintf("targets.%s.secret", name), t.Secret); err != nil {
			return err
		}
		if t.MaxAttempts < 0 {
			return fmt.Errorf("targets.%s.max_attempts must not be negative", name)
		}
	}

	for i, r := range cfg.Routes {
		field := fmt.Sprintf("routes[%d]", i)
		if r.Receiver == "" {
			return fmt.Errorf("%s.receiver is required", field)
		}
		switch r.Action {
		case ActionLog:
		case ActionForward:
			if r.Target == "" {
				return fmt.Errorf("%s: forward requires target", field)
			}
			if _, ok := cfg.Targets[r.Target]; !ok {
				return fmt.Errorf("%s: unknown target %q", field, r.Target)
			}
		case ActionRespond:
			if r.Status != 0 && (r.Status < 200 || r.Status > 599) {
				return fmt.Errorf("%s: status must be between 200 and 599 (got %d)", field, r.Status)
			}
		case "":
			return fmt.Errorf("%s.action is required", field)
		default:
			return fmt.Errorf("%s: unknown action %q (want log, forward or respond)", field, r.Action)
		}
	}

	if cfg.Sender.MaxAttempts < 1 {
		return fmt.Errorf("sender.max_attempts must be at least 1")
	}
	if cfg.Sender.BackoffBase > cfg.Sender.BackoffMax {
		return fmt.Errorf("sender.backoff_base must not exceed sender.backoff_max")
	}

	return nil
}
