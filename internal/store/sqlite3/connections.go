package sqlite3

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/doug-martin/goqu/v9"
	"github.com/google/uuid"
	"github.com/rakunlabs/ferroflux/internal/secrets"
)

type connectionRow struct {
	ID           string `db:"id"`
	Name         string `db:"name"`
	ProviderType string `db:"provider_type"`
	Ciphertext   string `db:"ciphertext"`
	Status       string `db:"status"`
}

// GetConnectionBySlug implements secrets.ConnectionLookup. The returned
// ConnectionRow still carries ciphertext; decryption is internal/secrets'
// responsibility, not this package's.
func (s *SQLite) GetConnectionBySlug(ctx context.Context, tenant, slug string) (secrets.ConnectionRow, bool, error) {
	query, _, err := s.goqu.From(s.tableConnections).
		Select("id", "name", "provider_type", "ciphertext", "status").
		Where(goqu.I("tenant").Eq(tenant), goqu.I("slug").Eq(slug)).
		ToSQL()
	if err != nil {
		return secrets.ConnectionRow{}, false, fmt.Errorf("build get connection query: %w", err)
	}

	var row connectionRow
	err = s.db.QueryRowContext(ctx, query).Scan(&row.ID, &row.Name, &row.ProviderType, &row.Ciphertext, &row.Status)
	if errors.Is(err, sql.ErrNoRows) {
		return secrets.ConnectionRow{}, false, nil
	}
	if err != nil {
		return secrets.ConnectionRow{}, false, fmt.Errorf("get connection %s/%s: %w", tenant, slug, err)
	}

	return secrets.ConnectionRow{
		ID:           row.ID,
		Tenant:       tenant,
		Slug:         slug,
		Name:         row.Name,
		ProviderType: row.ProviderType,
		Ciphertext:   row.Ciphertext,
		Status:       row.Status,
	}, true, nil
}

// SaveConnection upserts an already-encrypted connection row. Callers
// encrypt the credential payload with internal/crypto before calling
// this (see internal/secrets), so the store never sees plaintext.
func (s *SQLite) SaveConnection(ctx context.Context, row secrets.ConnectionRow) error {
	now := time.Now().UTC().Format(time.RFC3339)
	status := row.Status
	if status == "" {
		status = "active"
	}

	existing, ok, err := s.GetConnectionBySlug(ctx, row.Tenant, row.Slug)
	if err != nil {
		return err
	}

	if !ok {
		id := row.ID
		if id == "" {
			id = uuid.NewString()
		}
		name := row.Name
		if name == "" {
			name = row.Slug
		}

		query, _, err := s.goqu.Insert(s.tableConnections).Rows(
			goqu.Record{
				"id":            id,
				"tenant":        row.Tenant,
				"slug":          row.Slug,
				"name":          name,
				"provider_type": row.ProviderType,
				"ciphertext":    row.Ciphertext,
				"status":        status,
				"created_at":    now,
				"updated_at":    now,
			},
		).ToSQL()
		if err != nil {
			return fmt.Errorf("build insert connection query: %w", err)
		}
		if _, err := s.db.ExecContext(ctx, query); err != nil {
			return fmt.Errorf("create connection %s/%s: %w", row.Tenant, row.Slug, err)
		}
		return nil
	}

	name := row.Name
	if name == "" {
		name = existing.Name
	}

	query, _, err := s.goqu.Update(s.tableConnections).Set(
		goqu.Record{
			"name":          name,
			"provider_type": row.ProviderType,
			"ciphertext":    row.Ciphertext,
			"status":        status,
			"updated_at":    now,
		},
	).Where(goqu.I("tenant").Eq(row.Tenant), goqu.I("slug").Eq(row.Slug)).ToSQL()
	if err != nil {
		return fmt.Errorf("build update connection query: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("update connection %s/%s: %w", row.Tenant, row.Slug, err)
	}
	return nil
}

// ListConnections returns every connection row for tenant, still
// encrypted.
func (s *SQLite) ListConnections(ctx context.Context, tenant string) ([]secrets.ConnectionRow, error) {
	query, _, err := s.goqu.From(s.tableConnections).
		Select("id", "slug", "name", "provider_type", "ciphertext", "status").
		Where(goqu.I("tenant").Eq(tenant)).
		ToSQL()
	if err != nil {
		return nil, fmt.Errorf("build list connections query: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list connections: %w", err)
	}
	defer rows.Close()

	var result []secrets.ConnectionRow
	for rows.Next() {
		var slug string
		var row connectionRow
		if err := rows.Scan(&row.ID, &slug, &row.Name, &row.ProviderType, &row.Ciphertext, &row.Status); err != nil {
			return nil, fmt.Errorf("scan connection row: %w", err)
		}
		result = append(result, secrets.ConnectionRow{
			ID:           row.ID,
			Tenant:       tenant,
			Slug:         slug,
			Name:         row.Name,
			ProviderType: row.ProviderType,
			Ciphertext:   row.Ciphertext,
			Status:       row.Status,
		})
	}

	return result, rows.Err()
}

func (s *SQLite) DeleteConnection(ctx context.Context, tenant, slug string) error {
	query, _, err := s.goqu.Delete(s.tableConnections).
		Where(goqu.I("tenant").Eq(tenant), goqu.I("slug").Eq(slug)).
		ToSQL()
	if err != nil {
		return fmt.Errorf("build delete connection query: %w", err)
	}

	_, err = s.db.ExecContext(ctx, query)
	if err != nil {
		return fmt.Errorf("delete connection %s/%s: %w", tenant, slug, err)
	}

	return nil
}
