package sqlite3

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/doug-martin/goqu/v9"
	"github.com/rakunlabs/ferroflux/internal/workers/control"
)

type checkpointRow struct {
	NodeUUID  string `db:"node_uuid"`
	Payload   []byte `db:"payload"`
	Metadata  string `db:"metadata"`
	CreatedAt string `db:"created_at"`
}

// SaveCheckpoint implements control.CheckpointStore. (tenant, token) is
// the primary key; resubmitting the same token overwrites the row. A
// token is a freshly generated UUID per suspension (see
// control.CheckpointWorker), so the overwrite path is only ever hit by
// a retried save of the exact same checkpoint, not a real collision.
func (s *SQLite) SaveCheckpoint(ctx context.Context, rec control.CheckpointRecord) error {
	metaJSON, err := json.Marshal(rec.Metadata)
	if err != nil {
		return fmt.Errorf("marshal checkpoint metadata: %w", err)
	}
	createdAt := rec.CreatedAt.UTC().Format(time.RFC3339)

	existing, err := s.GetCheckpoint(ctx, rec.Tenant, rec.Token)
	if err != nil {
		return err
	}

	if existing == nil {
		query, _, err := s.goqu.Insert(s.tableCheckpoints).Rows(
			goqu.Record{
				"tenant":     rec.Tenant,
				"token":      rec.Token,
				"node_uuid":  rec.NodeUUID,
				"payload":    rec.Payload,
				"metadata":   string(metaJSON),
				"created_at": createdAt,
			},
		).ToSQL()
		if err != nil {
			return fmt.Errorf("build save checkpoint query: %w", err)
		}
		if _, err := s.db.ExecContext(ctx, query); err != nil {
			return fmt.Errorf("save checkpoint %s/%s: %w", rec.Tenant, rec.Token, err)
		}
		return nil
	}

	query, _, err := s.goqu.Update(s.tableCheckpoints).Set(
		goqu.Record{
			"node_uuid":  rec.NodeUUID,
			"payload":    rec.Payload,
			"metadata":   string(metaJSON),
			"created_at": createdAt,
		},
	).Where(goqu.I("tenant").Eq(rec.Tenant), goqu.I("token").Eq(rec.Token)).ToSQL()
	if err != nil {
		return fmt.Errorf("build update checkpoint query: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("update checkpoint %s/%s: %w", rec.Tenant, rec.Token, err)
	}
	return nil
}

// GetCheckpoint implements control.CheckpointStore. Returns (nil, nil)
// when no row matches, mirroring the teacher's not-found convention for
// single-row lookups (e.g. GetProvider).
func (s *SQLite) GetCheckpoint(ctx context.Context, tenant, token string) (*control.CheckpointRecord, error) {
	query, _, err := s.goqu.From(s.tableCheckpoints).
		Select("node_uuid", "payload", "metadata", "created_at").
		Where(goqu.I("tenant").Eq(tenant), goqu.I("token").Eq(token)).
		ToSQL()
	if err != nil {
		return nil, fmt.Errorf("build get checkpoint query: %w", err)
	}

	var row checkpointRow
	err = s.db.QueryRowContext(ctx, query).Scan(&row.NodeUUID, &row.Payload, &row.Metadata, &row.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get checkpoint %s/%s: %w", tenant, token, err)
	}

	var metadata map[string]string
	if err := json.Unmarshal([]byte(row.Metadata), &metadata); err != nil {
		return nil, fmt.Errorf("unmarshal checkpoint metadata for %s/%s: %w", tenant, token, err)
	}

	createdAt, err := time.Parse(time.RFC3339, row.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("parse checkpoint %s/%s created_at: %w", tenant, token, err)
	}

	return &control.CheckpointRecord{
		Tenant:    tenant,
		Token:     token,
		NodeUUID:  row.NodeUUID,
		Payload:   row.Payload,
		Metadata:  metadata,
		CreatedAt: createdAt,
	}, nil
}

// DeleteCheckpoint implements control.CheckpointStore's consume-on-read
// contract: ResumeCheckpoint calls this immediately after GetCheckpoint
// succeeds, before the resumed ticket is routed anywhere.
func (s *SQLite) DeleteCheckpoint(ctx context.Context, tenant, token string) error {
	query, _, err := s.goqu.Delete(s.tableCheckpoints).
		Where(goqu.I("tenant").Eq(tenant), goqu.I("token").Eq(token)).
		ToSQL()
	if err != nil {
		return fmt.Errorf("build delete checkpoint query: %w", err)
	}

	_, err = s.db.ExecContext(ctx, query)
	if err != nil {
		return fmt.Errorf("delete checkpoint %s/%s: %w", tenant, token, err)
	}

	return nil
}
