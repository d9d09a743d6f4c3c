package discovery

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/Masterminds/squirrel"

	"github.com/tildaslashalef/odoosync/internal/loggy"
)

// Repository persists discovered model descriptors so a disconnected
// client still knows what it has been syncing.
type Repository struct {
	db     *sql.DB
	logger *loggy.Logger
}

// NewRepository creates a model registry repository.
func NewRepository(db *sql.DB, logger *loggy.Logger) *Repository {
	return &Repository{db: db, logger: logger}
}

// SaveDescriptors upserts the full descriptor set.
func (r *Repository) SaveDescriptors(ctx context.Context, descriptors []ModelDescriptor) error {
	for _, d := range descriptors {
		q := squirrel.Insert("model_registry").
			Columns("name", "display_name", "description", "enabled", "sync_type", "has_access", "discovered_at").
			Values(d.Name, d.DisplayName, d.Description, d.Enabled, d.SyncType, d.HasAccess, d.DiscoveredAt).
			// the update set omits enabled: rediscovery must not undo
			// the user's toggle
			Suffix("ON CONFLICT(name) DO UPDATE SET display_name = excluded.display_name, description = excluded.description, sync_type = excluded.sync_type, has_access = excluded.has_access, discovered_at = excluded.discovered_at")

		query, args, err := q.ToSql()
		if err != nil {
			return fmt.Errorf("building save descriptor query: %w", err)
		}

		if _, err := r.db.ExecContext(ctx, query, args...); err != nil {
			return fmt.Errorf("saving descriptor for %s: %w", d.Name, err)
		}
	}
	return nil
}

// ListDescriptors returns all persisted descriptors.
func (r *Repository) ListDescriptors(ctx context.Context) ([]ModelDescriptor, error) {
	q := squirrel.Select("name", "display_name", "description", "enabled", "sync_type", "has_access", "discovered_at").
		From("model_registry").
		OrderBy("name")

	query, args, err := q.ToSql()
	if err != nil {
		return nil, fmt.Errorf("building list descriptors query: %w", err)
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("executing list descriptors query: %w", err)
	}
	defer rows.Close()

	var descriptors []ModelDescriptor
	for rows.Next() {
		var d ModelDescriptor
		var description sql.NullString
		if err := rows.Scan(&d.Name, &d.DisplayName, &description, &d.Enabled, &d.SyncType, &d.HasAccess, &d.DiscoveredAt); err != nil {
			return nil, fmt.Errorf("scanning descriptor row: %w", err)
		}
		d.Description = description.String
		descriptors = append(descriptors, d)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating descriptor rows: %w", err)
	}

	return descriptors, nil
}

// SetEnabled toggles whether a model participates in sync runs.
func (r *Repository) SetEnabled(ctx context.Context, model string, enabled bool) error {
	q := squirrel.Update("model_registry").
		Set("enabled", enabled).
		Where(squirrel.Eq{"name": model})

	query, args, err := q.ToSql()
	if err != nil {
		return fmt.Errorf("building set enabled query: %w", err)
	}

	if _, err := r.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("updating enabled flag for %s: %w", model, err)
	}
	return nil
}
