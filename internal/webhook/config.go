package webhook

import (
	"fmt"
	"strings"

	"github.com/mattjoyce/hookline/internal/config"
)

// FromGlobalConfig converts the loaded configuration to a webhook.Config.
func FromGlobalConfig(cfg *config.Config) (Config, error) {
	if cfg == nil {
		return Config{}, fmt.Errorf("config is nil")
	}

	maxBody, err := cfg.Webhooks.MaxBodyBytes()
	if err != nil {
		return Config{}, fmt.Errorf("webhooks: invalid max_body_size %q: %w", cfg.Webhooks.MaxBodySize, err)
	}

	out := Config{
		Listen:        cfg.Webhooks.Listen,
		PublicBaseURL: strings.TrimRight(cfg.Webhooks.PublicBaseURL, "/"),
		MaxBodySize:   maxBody,
		RateLimit:     cfg.Webhooks.RateLimit,
		Tracing:       cfg.Tracing.Enabled,
	}
	for name, rc := range cfg.Receivers {
		if rc.RateLimit == nil {
			continue
		}
		if out.ReceiverRateLimits == nil {
			out.ReceiverRateLimits = make(map[string]config.RateLimitConfig)
		}
		out.ReceiverRateLimits[strings.ToLower(name)] = *rc.RateLimit
	}
	return out, nil
}
