// Package secrets implements the secure connection resolver: at-most-
// once decryption of persisted credentials by tenant-scoped slug.
// Grounded on original_source/.../secrets.rs's SecretStore trait with
// its Env and Database implementations.
package secrets

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/rakunlabs/ferroflux/internal/crypto"
)

// Store retrieves secrets, abstracting over the source (environment,
// vault, database).
type Store interface {
	// GetSecret retrieves a single named secret scoped to tenant.
	GetSecret(ctx context.Context, tenant, key string) (string, error)

	// ResolveConnection resolves a connection slug to its full,
	// decrypted credential object.
	ResolveConnection(ctx context.Context, tenant, slug string) (map[string]any, error)
}

// EnvStore reads secrets from process environment variables. It cannot
// resolve connection slugs (there is no env-var encoding for a full
// credential object), matching the reference implementation's
// EnvSecretStore.resolve_connection always erroring.
type EnvStore struct{}

// NewEnvStore returns an EnvStore.
func NewEnvStore() *EnvStore { return &EnvStore{} }

func (EnvStore) GetSecret(_ context.Context, _, key string) (string, error) {
	v, ok := os.LookupEnv(key)
	if !ok {
		return "", fmt.Errorf("secrets: %q not found in environment", key)
	}
	return v, nil
}

func (EnvStore) ResolveConnection(_ context.Context, _, slug string) (map[string]any, error) {
	return nil, fmt.Errorf("secrets: EnvStore cannot resolve connection %q", slug)
}

// ConnectionRow is the persisted, still-encrypted form of a connection
// record, as read from the connections table. Ciphertext carries the
// "enc:" prefix convention of internal/crypto (nonce embedded inline),
// so no separate nonce column is needed.
type ConnectionRow struct {
	ID           string
	Tenant       string
	Slug         string
	Name         string
	ProviderType string
	Ciphertext   string
	Status       string
}

// ConnectionLookup is the minimal persistence dependency DatabaseStore
// needs: find a connection row by its (tenant, slug) unique key.
// Satisfied by internal/store's connection repository.
type ConnectionLookup interface {
	GetConnectionBySlug(ctx context.Context, tenant, slug string) (ConnectionRow, bool, error)
}

// DatabaseStore reads encrypted connections from persistent storage and
// decrypts them with masterKey. Grounded on secrets.rs's
// DatabaseSecretStore; get_secret there still falls back to the
// environment for single-value lookups, which this port preserves.
type DatabaseStore struct {
	lookup    ConnectionLookup
	masterKey []byte
}

// NewDatabaseStore returns a DatabaseStore backed by lookup, decrypting
// with masterKey (see crypto.DeriveKey / MasterKey resolution in
// SPEC_FULL.md §9).
func NewDatabaseStore(lookup ConnectionLookup, masterKey []byte) *DatabaseStore {
	return &DatabaseStore{lookup: lookup, masterKey: masterKey}
}

func (s *DatabaseStore) GetSecret(_ context.Context, _, key string) (string, error) {
	v, ok := os.LookupEnv(key)
	if !ok {
		return "", fmt.Errorf("secrets: %q not found in environment (db fallback)", key)
	}
	return v, nil
}

func (s *DatabaseStore) ResolveConnection(ctx context.Context, tenant, slug string) (map[string]any, error) {
	row, ok, err := s.lookup.GetConnectionBySlug(ctx, tenant, slug)
	if err != nil {
		return nil, fmt.Errorf("secrets: lookup connection %q: %w", slug, err)
	}
	if !ok {
		return nil, fmt.Errorf("secrets: connection %q not found", slug)
	}
	if row.Status != "" && row.Status != "active" {
		return nil, fmt.Errorf("secrets: connection %q is %s", slug, row.Status)
	}

	plaintext, err := crypto.Decrypt(row.Ciphertext, s.masterKey)
	if err != nil {
		return nil, fmt.Errorf("secrets: decrypt connection %q: %w", slug, err)
	}

	var data map[string]any
	if err := json.Unmarshal([]byte(plaintext), &data); err != nil {
		return nil, fmt.Errorf("secrets: connection %q: invalid json: %w", slug, err)
	}

	return data, nil
}
