package config

import (
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the complete hookline configuration.
type Config struct {
	Include   []string                     `yaml:"include,omitempty"`
	Service   ServiceConfig                `yaml:"service"`
	State     StateConfig                  `yaml:"state"`
	API       APIConfig                    `yaml:"api,omitempty"`
	Webhooks  WebhooksConfig               `yaml:"webhooks"`
	Receivers map[string]ReceiverConf      `yaml:"receivers,omitempty"`
	Secrets   map[string]map[string]string `yaml:"secrets,omitempty"`
	Routes    []RouteConfig                `yaml:"routes,omitempty"`
	Targets   map[string]TargetConfig      `yaml:"targets,omitempty"`
	Sender    SenderConfig                 `yaml:"sender,omitempty"`
	Tracing   TracingConfig                `yaml:"tracing,omitempty"`

	// SourceFiles holds the parsed YAML of every loaded file, keyed by absolute path.
	SourceFiles map[string]*yaml.Node `yaml:"-"`
}

// ServiceConfig defines core service settings.
type ServiceConfig struct {
	Name             string        `yaml:"name"`
	LogLevel         string        `yaml:"log_level"`
	ReceiptRetention time.Duration `yaml:"receipt_retention"`
	// MaintenanceInterval is how often expired receipts and finished
	// deliveries are pruned.
	MaintenanceInterval time.Duration `yaml:"maintenance_interval,omitempty"`
}

// StateConfig defines state storage settings.
type StateConfig struct {
	Path string `yaml:"path"`
}

// APIConfig defines the admin HTTP API settings.
type APIConfig struct {
	Enabled bool          `yaml:"enabled"`
	Listen  string        `yaml:"listen"`
	Auth    APIAuthConfig `yaml:"auth"`
}

// APIAuthConfig defines API authentication settings.
type APIAuthConfig struct {
	// APIKey is a single admin bearer token with scope "*".
	APIKey string     `yaml:"api_key"`
	Tokens []APIToken `yaml:"tokens,omitempty"`
}

// APIToken defines a bearer token and its scopes.
type APIToken struct {
	Token  string   `yaml:"token"`
	Scopes []string `yaml:"scopes"`
}

// WebhooksConfig defines the incoming webhook listener.
type WebhooksConfig struct {
	Listen string `yaml:"listen"`
	// PublicBaseURL overrides the scheme and host used when a receiver signs its
	// callback URL (the address the vendor was given, behind any proxy).
	PublicBaseURL string          `yaml:"public_base_url,omitempty"`
	MaxBodySize   string          `yaml:"max_body_size,omitempty"`
	RateLimit     RateLimitConfig `yaml:"rate_limit,omitempty"`
}

// RateLimitConfig is a per-receiver token bucket. Zero RPS disables it.
type RateLimitConfig struct {
	RPS   float64 `yaml:"rps"`
	Burst int     `yaml:"burst"`
}

// ReceiverConf overrides a built-in receiver or declares a custom one.
// Zero values keep the base receiver's setting.
type ReceiverConf struct {
	// Extends names the built-in receiver used as the base (defaults to the key).
	Extends     string           `yaml:"extends,omitempty"`
	Disabled    bool             `yaml:"disabled,omitempty"`
	Body        string           `yaml:"body,omitempty"`
	Event       *EventConf       `yaml:"event,omitempty"`
	Signature   *SignatureConf   `yaml:"signature,omitempty"`
	Handshake   *HandshakeConf   `yaml:"handshake,omitempty"`
	PingEvent   string           `yaml:"ping_event,omitempty"`
	Indirect    *bool            `yaml:"indirect,omitempty"`
	RejectCode  int              `yaml:"reject_status,omitempty"`
	MaxBodySize string           `yaml:"max_body_size,omitempty"`
	Ack         *AckConf         `yaml:"ack,omitempty"`
	RateLimit   *RateLimitConfig `yaml:"rate_limit,omitempty"`
}

// EventConf configures event-name extraction.
type EventConf struct {
	Source       string   `yaml:"source"`
	Keys         []string `yaml:"keys,omitempty"`
	Constant     string   `yaml:"constant,omitempty"`
	AllowMissing *bool    `yaml:"allow_missing,omitempty"`
	Default      string   `yaml:"default,omitempty"`
}

// SignatureConf configures request authentication.
type SignatureConf struct {
	Mode       string `yaml:"mode"`
	Algorithm  string `yaml:"algorithm,omitempty"`
	Header     string `yaml:"header,omitempty"`
	Prefix     string `yaml:"prefix,omitempty"`
	Encoding   string `yaml:"encoding,omitempty"`
	Format     string `yaml:"format,omitempty"`
	Required   *bool  `yaml:"required,omitempty"`
	SignURL    *bool  `yaml:"sign_url,omitempty"`
	CodeSource string `yaml:"code_source,omitempty"`
	CodeKey    string `yaml:"code_key,omitempty"`
	MinSecret  int    `yaml:"min_secret_length,omitempty"`
	MaxSecret  int    `yaml:"max_secret_length,omitempty"`
}

// HandshakeConf configures GET/HEAD handshakes.
type HandshakeConf struct {
	Methods []string `yaml:"methods"`
	Mode    string   `yaml:"mode"`
	Param   string   `yaml:"param,omitempty"`
}

// AckConf is a fixed success response body.
type AckConf struct {
	ContentType string `yaml:"content_type"`
	Body        string `yaml:"body"`
}

// RouteConfig binds a receiver (and optional sub-id and events) to an action.
type RouteConfig struct {
	Receiver string   `yaml:"receiver"`
	ID       string   `yaml:"id,omitempty"`
	Events   []string `yaml:"events,omitempty"`
	// Action is one of: log, forward, respond.
	Action string `yaml:"action"`
	// Target names an entry in targets (forward).
	Target string `yaml:"target,omitempty"`
	// Status, ContentType and Body form a fixed response (respond).
	Status      int    `yaml:"status,omitempty"`
	ContentType string `yaml:"content_type,omitempty"`
	Body        string `yaml:"body,omitempty"`
}

// TargetConfig is an outbound webhook subscriber.
type TargetConfig struct {
	URL         string            `yaml:"url"`
	Secret      string            `yaml:"secret"`
	Headers     map[string]string `yaml:"headers,omitempty"`
	MaxAttempts int               `yaml:"max_attempts,omitempty"`
}

// SenderConfig controls the outbound delivery worker.
type SenderConfig struct {
	Enabled      bool          `yaml:"enabled"`
	PollInterval time.Duration `yaml:"poll_interval,omitempty"`
	Timeout      time.Duration `yaml:"timeout,omitempty"`
	MaxAttempts  int           `yaml:"max_attempts,omitempty"`
	BackoffBase  time.Duration `yaml:"backoff_base,omitempty"`
	BackoffMax   time.Duration `yaml:"backoff_max,omitempty"`
}

// TracingConfig controls the OTLP/HTTP trace exporter.
type TracingConfig struct {
	Enabled  bool              `yaml:"enabled"`
	Endpoint string            `yaml:"endpoint,omitempty"`
	Insecure bool              `yaml:"insecure,omitempty"`
	Headers  map[string]string `yaml:"headers,omitempty"`
}

// Default values
const (
	DefaultMaxBodySize = 1048576 // 1 MB
)

// Defaults returns a Config with sensible defaults.
func Defaults() *Config {
	return &Config{
		Service: ServiceConfig{
			Name:                "hookline",
			LogLevel:            "info",
			ReceiptRetention:    7 * 24 * time.Hour,
			MaintenanceInterval: time.Hour,
		},
		State: StateConfig{
			Path: "./data/hookline.db",
		},
		API: APIConfig{
			Enabled: false,
			Listen:  "127.0.0.1:8080",
		},
		Webhooks: WebhooksConfig{
			Listen: "127.0.0.1:8081",
		},
		Sender: DefaultSenderConfig(),
	}
}

// DefaultSenderConfig returns default outbound sender settings.
func DefaultSenderConfig() SenderConfig {
	return SenderConfig{
		Enabled:      false,
		PollInterval: time.Second,
		Timeout:      30 * time.Second,
		MaxAttempts:  4,
		BackoffBase:  time.Minute,
		BackoffMax:   time.Hour,
	}
}
