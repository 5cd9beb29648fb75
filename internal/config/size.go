package config

import (
	"fmt"
	"strconv"
	"strings"
)

// ParseSize parses a byte size such as "512", "64KB", "1MB" or "2GB".
// Units are binary (1KB = 1024 bytes).
func ParseSize(size string) (int64, error) {
	upper := strings.ToUpper(strings.TrimSpace(size))
	multiplier := int64(1)

	switch {
	case strings.HasSuffix(upper, "KB"):
		multiplier = 1024
		upper = strings.TrimSuffix(upper, "KB")
	case strings.HasSuffix(upper, "MB"):
		multiplier = 1024 * 1024
		upper = strings.TrimSuffix(upper, "MB")
	case strings.HasSuffix(upper, "GB"):
		multiplier = 1024 * 1024 * 1024
		upper = strings.TrimSuffix(upper, "GB")
	case strings.HasSuffix(upper, "B"):
		upper = strings.TrimSuffix(upper, "B")
	}

	value, err := strconv.ParseInt(strings.TrimSpace(upper), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid size value: %w", err)
	}
	if value <= 0 {
		return 0, fmt.Errorf("size must be positive")
	}

	result := value * multiplier
	if result/multiplier != value {
		return 0, fmt.Errorf("size too large")
	}
	return result, nil
}

// MaxBodyBytes returns the global webhook body limit, falling back to
// DefaultMaxBodySize when unset.
func (w WebhooksConfig) MaxBodyBytes() (int64, error) {
	if w.MaxBodySize == "" {
		return DefaultMaxBodySize, nil
	}
	return ParseSize(w.MaxBodySize)
}
