package sqlite3

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/doug-martin/goqu/v9"
	"github.com/rakunlabs/ferroflux/internal/store"
)

type workflowRow struct {
	ID        string `db:"id"`
	Tenant    string `db:"tenant"`
	YAML      string `db:"yaml"`
	CreatedAt string `db:"created_at"`
	UpdatedAt string `db:"updated_at"`
}

// SaveWorkflow upserts the blueprint YAML for id, so a LoadGraph command
// survives a restart. Grounded on the teacher's CreateWorkflow/
// UpdateWorkflow pair, collapsed into a single upsert since a blueprint
// ID is stable and resubmitting it is the normal "redeploy" path rather
// than a create/update distinction worth surfacing at this layer.
func (s *SQLite) SaveWorkflow(ctx context.Context, w store.Workflow) error {
	now := time.Now().UTC().Format(time.RFC3339)

	existing, err := s.GetWorkflow(ctx, w.ID)
	if err != nil {
		return err
	}

	if existing == nil {
		query, _, err := s.goqu.Insert(s.tableWorkflows).Rows(
			goqu.Record{
				"id":         w.ID,
				"tenant":     w.Tenant,
				"yaml":       w.YAML,
				"created_at": now,
				"updated_at": now,
			},
		).ToSQL()
		if err != nil {
			return fmt.Errorf("build insert workflow query: %w", err)
		}
		if _, err := s.db.ExecContext(ctx, query); err != nil {
			return fmt.Errorf("create workflow %q: %w", w.ID, err)
		}
		return nil
	}

	query, _, err := s.goqu.Update(s.tableWorkflows).Set(
		goqu.Record{"yaml": w.YAML, "updated_at": now},
	).Where(goqu.I("id").Eq(w.ID)).ToSQL()
	if err != nil {
		return fmt.Errorf("build update workflow query: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("update workflow %q: %w", w.ID, err)
	}
	return nil
}

func (s *SQLite) GetWorkflow(ctx context.Context, id string) (*store.Workflow, error) {
	query, _, err := s.goqu.From(s.tableWorkflows).
		Select("id", "tenant", "yaml", "created_at", "updated_at").
		Where(goqu.I("id").Eq(id)).
		ToSQL()
	if err != nil {
		return nil, fmt.Errorf("build get workflow query: %w", err)
	}

	var row workflowRow
	err = s.db.QueryRowContext(ctx, query).Scan(&row.ID, &row.Tenant, &row.YAML, &row.CreatedAt, &row.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get workflow %q: %w", id, err)
	}

	return workflowRowToRecord(row)
}

// ListWorkflows returns every persisted blueprint, used at startup to
// respawn graphs loaded before the last restart.
func (s *SQLite) ListWorkflows(ctx context.Context) ([]store.Workflow, error) {
	query, _, err := s.goqu.From(s.tableWorkflows).
		Select("id", "tenant", "yaml", "created_at", "updated_at").
		Order(goqu.I("id").Asc()).
		ToSQL()
	if err != nil {
		return nil, fmt.Errorf("build list workflows query: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list workflows: %w", err)
	}
	defer rows.Close()

	var result []store.Workflow
	for rows.Next() {
		var row workflowRow
		if err := rows.Scan(&row.ID, &row.Tenant, &row.YAML, &row.CreatedAt, &row.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan workflow row: %w", err)
		}

		w, err := workflowRowToRecord(row)
		if err != nil {
			return nil, err
		}
		result = append(result, *w)
	}

	return result, rows.Err()
}

func (s *SQLite) DeleteWorkflow(ctx context.Context, id string) error {
	query, _, err := s.goqu.Delete(s.tableWorkflows).
		Where(goqu.I("id").Eq(id)).
		ToSQL()
	if err != nil {
		return fmt.Errorf("build delete workflow query: %w", err)
	}

	_, err = s.db.ExecContext(ctx, query)
	if err != nil {
		return fmt.Errorf("delete workflow %q: %w", id, err)
	}

	return nil
}

func workflowRowToRecord(row workflowRow) (*store.Workflow, error) {
	createdAt, err := time.Parse(time.RFC3339, row.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("parse workflow %q created_at: %w", row.ID, err)
	}
	updatedAt, err := time.Parse(time.RFC3339, row.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("parse workflow %q updated_at: %w", row.ID, err)
	}

	return &store.Workflow{
		ID:        row.ID,
		Tenant:    row.Tenant,
		YAML:      row.YAML,
		CreatedAt: createdAt,
		UpdatedAt: updatedAt,
	}, nil
}
