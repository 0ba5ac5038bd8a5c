package sqlite3

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/rakunlabs/ferroflux/internal/config"
	"github.com/rakunlabs/ferroflux/internal/secrets"
	"github.com/rakunlabs/ferroflux/internal/store"
	"github.com/rakunlabs/ferroflux/internal/workers/control"
)

func newTestStore(t *testing.T) *SQLite {
	t.Helper()

	dsn := filepath.Join(t.TempDir(), "ferroflux.db")
	s, err := New(t.Context(), &config.StoreSQLite{Datasource: dsn})
	require.NoError(t, err)
	t.Cleanup(s.Close)

	return s
}

func TestSaveAndGetWorkflowRoundTrips(t *testing.T) {
	s := newTestStore(t)

	err := s.SaveWorkflow(t.Context(), store.Workflow{ID: "wf-1", Tenant: "default", YAML: "id: wf-1\n"})
	require.NoError(t, err)

	got, err := s.GetWorkflow(t.Context(), "wf-1")
	require.NoError(t, err)
	require.NotNil(t, got)
	require.Equal(t, "id: wf-1\n", got.YAML)
}

func TestSaveWorkflowUpsertsOnSameID(t *testing.T) {
	s := newTestStore(t)

	require.NoError(t, s.SaveWorkflow(t.Context(), store.Workflow{ID: "wf-1", Tenant: "default", YAML: "v1"}))
	require.NoError(t, s.SaveWorkflow(t.Context(), store.Workflow{ID: "wf-1", Tenant: "default", YAML: "v2"}))

	all, err := s.ListWorkflows(t.Context())
	require.NoError(t, err)
	require.Len(t, all, 1)
	require.Equal(t, "v2", all[0].YAML)
}

func TestGetWorkflowMissingReturnsNil(t *testing.T) {
	s := newTestStore(t)

	got, err := s.GetWorkflow(t.Context(), "nope")
	require.NoError(t, err)
	require.Nil(t, got)
}

func TestCheckpointSaveGetDeleteRoundTrips(t *testing.T) {
	s := newTestStore(t)

	rec := control.CheckpointRecord{
		Tenant:    "default",
		Token:     "tok-1",
		NodeUUID:  "node-1",
		Payload:   []byte(`{"x":1}`),
		Metadata:  map[string]string{"trace_id": "trace-1"},
		CreatedAt: time.Now(),
	}
	require.NoError(t, s.SaveCheckpoint(t.Context(), rec))

	got, err := s.GetCheckpoint(t.Context(), "default", "tok-1")
	require.NoError(t, err)
	require.NotNil(t, got)
	require.Equal(t, rec.NodeUUID, got.NodeUUID)
	require.Equal(t, rec.Payload, got.Payload)
	require.Equal(t, "trace-1", got.Metadata["trace_id"])

	require.NoError(t, s.DeleteCheckpoint(t.Context(), "default", "tok-1"))

	got, err = s.GetCheckpoint(t.Context(), "default", "tok-1")
	require.NoError(t, err)
	require.Nil(t, got)
}

func TestConnectionSaveAndResolve(t *testing.T) {
	s := newTestStore(t)

	require.NoError(t, s.SaveConnection(t.Context(), secrets.ConnectionRow{
		Tenant:       "default",
		Slug:         "my-api",
		ProviderType: "http",
		Ciphertext:   "enc:deadbeef",
	}))

	row, ok, err := s.GetConnectionBySlug(t.Context(), "default", "my-api")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "http", row.ProviderType)
	require.Equal(t, "enc:deadbeef", row.Ciphertext)
	require.NotEmpty(t, row.ID, "id is generated on insert")
	require.Equal(t, "my-api", row.Name, "name defaults to slug when unset")
	require.Equal(t, "active", row.Status, "status defaults to active when unset")

	_, ok, err = s.GetConnectionBySlug(t.Context(), "default", "missing")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestListConnectionsScopesByTenant(t *testing.T) {
	s := newTestStore(t)

	require.NoError(t, s.SaveConnection(t.Context(), secrets.ConnectionRow{Tenant: "a", Slug: "s1", ProviderType: "http", Ciphertext: "enc:1"}))
	require.NoError(t, s.SaveConnection(t.Context(), secrets.ConnectionRow{Tenant: "b", Slug: "s2", ProviderType: "http", Ciphertext: "enc:2"}))

	rows, err := s.ListConnections(t.Context(), "a")
	require.NoError(t, err)
	require.Len(t, rows, 1)
	require.Equal(t, "s1", rows[0].Slug)
}
