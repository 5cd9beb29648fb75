package config

import (
	"strings"
)

// SecretEnvPrefix marks environment variables that override configured secrets:
// HOOKLINE_SECRETS__{RECEIVER}__SECRETKEY__{ID}=value
const SecretEnvPrefix = "HOOKLINE_SECRETS__"

// SecretKey builds the flattened "{receiver}:SecretKey:{id}" key.
func SecretKey(receiver, id string) string {
	if id == "" {
		id = "default"
	}
	return strings.ToLower(receiver) + ":SecretKey:" + strings.ToLower(id)
}

// SecretKeys flattens the secrets block and any environment overrides into a
// key/value map. Keys are lower-cased except for the SecretKey segment.
// environ is in os.Environ form; later entries win.
func SecretKeys(cfg *Config, environ []string) map[string]string {
	out := make(map[string]string)
	for receiver, ids := range cfg.Secrets {
		for id, secret := range ids {
			out[SecretKey(receiver, id)] = secret
		}
	}

	for _, kv := range environ {
		name, value, ok := strings.Cut(kv, "=")
		if !ok || !strings.HasPrefix(strings.ToUpper(name), SecretEnvPrefix) {
			continue
		}
		parts := strings.Split(name[len(SecretEnvPrefix):], "__")
		if len(parts) != 3 || !strings.EqualFold(parts[1], "SecretKey") {
			continue
		}
		if parts[0] == "" || parts[2] == "" {
			continue
		}
		out[SecretKey(parts[0], parts[2])] = value
	}
	return out
}
