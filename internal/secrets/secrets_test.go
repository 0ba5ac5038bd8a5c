package secrets

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/rakunlabs/ferroflux/internal/crypto"
)

func TestEnvStoreGetSecret(t *testing.T) {
	t.Setenv("FERROFLUX_TEST_SECRET", "hunter2")

	s := NewEnvStore()
	v, err := s.GetSecret(context.Background(), "tenant-a", "FERROFLUX_TEST_SECRET")
	require.NoError(t, err)
	require.Equal(t, "hunter2", v)
}

func TestEnvStoreCannotResolveConnection(t *testing.T) {
	s := NewEnvStore()
	_, err := s.ResolveConnection(context.Background(), "tenant-a", "test-openai")
	require.Error(t, err)
}

type fakeLookup struct {
	row ConnectionRow
	ok  bool
}

func (f fakeLookup) GetConnectionBySlug(_ context.Context, _, _ string) (ConnectionRow, bool, error) {
	return f.row, f.ok, nil
}

func TestDatabaseStoreResolveConnectionRoundTrip(t *testing.T) {
	key, err := crypto.DeriveKey("test-master-key")
	require.NoError(t, err)

	payload, err := json.Marshal(map[string]any{"api_key": "sk-test-12345"})
	require.NoError(t, err)

	ciphertext, err := crypto.Encrypt(string(payload), key)
	require.NoError(t, err)

	lookup := fakeLookup{row: ConnectionRow{Tenant: "t1", Slug: "test-openai", Ciphertext: ciphertext}, ok: true}
	store := NewDatabaseStore(lookup, key)

	data, err := store.ResolveConnection(context.Background(), "t1", "test-openai")
	require.NoError(t, err)
	require.Equal(t, "sk-test-12345", data["api_key"])
}

func TestDatabaseStoreResolveConnectionNotFound(t *testing.T) {
	key, err := crypto.DeriveKey("test-master-key")
	require.NoError(t, err)

	store := NewDatabaseStore(fakeLookup{ok: false}, key)
	_, err = store.ResolveConnection(context.Background(), "t1", "missing")
	require.Error(t, err)
}
