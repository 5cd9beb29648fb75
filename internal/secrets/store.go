// Package secrets resolves the shared secret configured for a receiver and
// optional sub-id.
package secrets

import (
	"errors"
	"sort"
	"strings"
)

// ErrNotConfigured is returned when no secret exists for a receiver and id,
// nor for the receiver's default entry.
var ErrNotConfigured = errors.New("secret not configured")

const (
	keySegment = "secretkey"
	defaultID  = "default"
)

// Resolver looks up receiver secrets.
type Resolver interface {
	Resolve(receiver, id string) (string, error)
}

// Store is an immutable, case-insensitive secret table. It is safe for
// concurrent use.
type Store struct {
	byKey map[string]string
}

// NewStore builds a store from flattened "{receiver}:SecretKey:{id}" keys.
// Keys that do not follow that shape are ignored, as are empty values.
func NewStore(keys map[string]string) *Store {
	s := &Store{byKey: make(map[string]string, len(keys))}
	for k, v := range keys {
		if v == "" {
			continue
		}
		parts := strings.Split(k, ":")
		if len(parts) != 3 || !strings.EqualFold(parts[1], keySegment) {
			continue
		}
		s.byKey[key(parts[0], parts[2])] = v
	}
	return s
}

func key(receiver, id string) string {
	if id == "" {
		id = defaultID
	}
	return strings.ToLower(receiver) + "\x00" + strings.ToLower(id)
}

// Resolve returns the secret for (receiver, id), falling back to
// (receiver, "default"). An empty id means default.
func (s *Store) Resolve(receiver, id string) (string, error) {
	if s == nil {
		return "", ErrNotConfigured
	}
	if v, ok := s.byKey[key(receiver, id)]; ok {
		return v, nil
	}
	if v, ok := s.byKey[key(receiver, defaultID)]; ok {
		return v, nil
	}
	return "", ErrNotConfigured
}

// Has reports whether a secret is configured for exactly (receiver, id).
func (s *Store) Has(receiver, id string) bool {
	if s == nil {
		return false
	}
	_, ok := s.byKey[key(receiver, id)]
	return ok
}

// IDs returns the configured ids for a receiver, sorted.
func (s *Store) IDs(receiver string) []string {
	if s == nil {
		return nil
	}
	prefix := strings.ToLower(receiver) + "\x00"
	var ids []string
	for k := range s.byKey {
		if strings.HasPrefix(k, prefix) {
			ids = append(ids, k[len(prefix):])
		}
	}
	sort.Strings(ids)
	return ids
}
