// Package auth validates API keys for the control endpoints.
//
// Keys have the form vg_<key_id>.<secret>. Only a bcrypt hash of the secret
// is kept in configuration; the key id is public and used for lookup.
package auth

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/bcrypt"

	"github.com/vigilsec/riskengine/internal/config"
)

const keyPrefix = "vg_"

var (
	ErrInvalidFormat = errors.New("auth: invalid key format")
	ErrUnknownKey    = errors.New("auth: unknown api key")
	ErrBadSecret     = errors.New("auth: invalid api key secret")
)

// Key is the resolved identity of a validated API key.
type Key struct {
	ID   string
	Name string
}

// Keyring holds the configured API keys indexed by key id.
type Keyring struct {
	keys map[string]config.APIKeyEntry
}

// NewKeyring builds a keyring from configuration entries.
func NewKeyring(entries []config.APIKeyEntry) *Keyring {
	keys := make(map[string]config.APIKeyEntry, len(entries))
	for _, e := range entries {
		keys[e.ID] = e
	}
	return &Keyring{keys: keys}
}

// Empty reports whether no keys are configured.
func (k *Keyring) Empty() bool {
	return len(k.keys) == 0
}

// Validate checks a presented key against the ring.
// Key format: vg_<key_id>.<secret>
func (k *Keyring) Validate(fullKey string) (*Key, error) {
	if !strings.HasPrefix(fullKey, keyPrefix) {
		return nil, ErrInvalidFormat
	}
	parts := strings.Split(strings.TrimPrefix(fullKey, keyPrefix), ".")
	if len(parts) != 2 {
		return nil, ErrInvalidFormat
	}

	entry, ok := k.keys[parts[0]]
	if !ok {
		return nil, ErrUnknownKey
	}

	// Only the secret part is hashed. The id is public lookup material.
	if err := bcrypt.CompareHashAndPassword([]byte(entry.SecretHash), []byte(parts[1])); err != nil {
		return nil, ErrBadSecret
	}

	return &Key{ID: entry.ID, Name: entry.Name}, nil
}

// GenerateAPIKey mints a new key. The returned entry carries only the bcrypt
// hash of the secret; the full key is shown once and never stored.
func GenerateAPIKey(name string) (config.APIKeyEntry, string, error) {
	idBytes := make([]byte, 8)
	if _, err := rand.Read(idBytes); err != nil {
		return config.APIKeyEntry{}, "", err
	}
	keyID := hex.EncodeToString(idBytes) // 16 chars

	secretBytes := make([]byte, 24)
	if _, err := rand.Read(secretBytes); err != nil {
		return config.APIKeyEntry{}, "", err
	}
	secret := hex.EncodeToString(secretBytes) // 48 chars

	hash, err := bcrypt.GenerateFromPassword([]byte(secret), bcrypt.DefaultCost)
	if err != nil {
		return config.APIKeyEntry{}, "", err
	}

	entry := config.APIKeyEntry{ID: keyID, Name: name, SecretHash: string(hash)}
	return entry, fmt.Sprintf("%s%s.%s", keyPrefix, keyID, secret), nil
}

// ============================================================================
// CONTEXT HELPERS
// ============================================================================

type contextKey string

const callerKey contextKey = "api_caller"

// WithCaller stores the validated key on the request context.
func WithCaller(ctx context.Context, key *Key) context.Context {
	return context.WithValue(ctx, callerKey, key)
}

// CallerFromContext returns the validated key, if any.
func CallerFromContext(ctx context.Context) (*Key, bool) {
	key, ok := ctx.Value(callerKey).(*Key)
	return key, ok
}
