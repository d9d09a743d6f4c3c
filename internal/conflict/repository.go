package conflict

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/Masterminds/squirrel"

	"github.com/tildaslashalef/odoosync/internal/loggy"
)

// Repository persists detected conflicts for later inspection.
type Repository interface {
	Save(ctx context.Context, c *Conflict) error
	Get(ctx context.Context, id string) (*Conflict, error)
	ListPending(ctx context.Context) ([]*Conflict, error)
	ListForRecord(ctx context.Context, model string, recordID int64) ([]*Conflict, error)
	SetResolution(ctx context.Context, id string, resolution Resolution) error
}

// SQLRepository is the SQLite-backed conflict repository.
type SQLRepository struct {
	db     *sql.DB
	logger *loggy.Logger
}

// NewSQLRepository creates a conflict repository.
func NewSQLRepository(db *sql.DB, logger *loggy.Logger) *SQLRepository {
	return &SQLRepository{db: db, logger: logger}
}

// Save inserts a detected conflict.
func (r *SQLRepository) Save(ctx context.Context, c *Conflict) error {
	q := squirrel.Insert("conflicts").
		Columns("id", "model", "record_id", "field", "local_value", "remote_value", "detected_at", "resolution").
		Values(c.ID, c.Model, c.RecordID, c.Field, c.LocalValue, c.RemoteValue, c.DetectedAt, c.Resolution)

	query, args, err := q.ToSql()
	if err != nil {
		return fmt.Errorf("building save conflict query: %w", err)
	}

	if _, err := r.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("saving conflict: %w", err)
	}
	return nil
}

// Get fetches one conflict by ID.
func (r *SQLRepository) Get(ctx context.Context, id string) (*Conflict, error) {
	q := squirrel.Select("id", "model", "record_id", "field", "local_value", "remote_value", "detected_at", "resolution").
		From("conflicts").
		Where(squirrel.Eq{"id": id})

	query, args, err := q.ToSql()
	if err != nil {
		return nil, fmt.Errorf("building get conflict query: %w", err)
	}

	var c Conflict
	err = r.db.QueryRowContext(ctx, query, args...).Scan(
		&c.ID, &c.Model, &c.RecordID, &c.Field, &c.LocalValue, &c.RemoteValue, &c.DetectedAt, &c.Resolution,
	)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("conflict %s not found", id)
	}
	if err != nil {
		return nil, fmt.Errorf("getting conflict: %w", err)
	}
	return &c, nil
}

// ListPending returns conflicts awaiting a user decision.
func (r *SQLRepository) ListPending(ctx context.Context) ([]*Conflict, error) {
	q := squirrel.Select("id", "model", "record_id", "field", "local_value", "remote_value", "detected_at", "resolution").
		From("conflicts").
		Where(squirrel.Eq{"resolution": PendingUser}).
		OrderBy("detected_at ASC")

	query, args, err := q.ToSql()
	if err != nil {
		return nil, fmt.Errorf("building list conflicts query: %w", err)
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("executing list conflicts query: %w", err)
	}
	defer rows.Close()

	var conflicts []*Conflict
	for rows.Next() {
		var c Conflict
		if err := rows.Scan(&c.ID, &c.Model, &c.RecordID, &c.Field, &c.LocalValue, &c.RemoteValue, &c.DetectedAt, &c.Resolution); err != nil {
			return nil, fmt.Errorf("scanning conflict row: %w", err)
		}
		conflicts = append(conflicts, &c)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating conflict rows: %w", err)
	}
	return conflicts, nil
}

// ListForRecord returns every conflict recorded for one record, oldest
// first.
func (r *SQLRepository) ListForRecord(ctx context.Context, model string, recordID int64) ([]*Conflict, error) {
	q := squirrel.Select("id", "model", "record_id", "field", "local_value", "remote_value", "detected_at", "resolution").
		From("conflicts").
		Where(squirrel.Eq{"model": model, "record_id": recordID}).
		OrderBy("detected_at ASC")

	query, args, err := q.ToSql()
	if err != nil {
		return nil, fmt.Errorf("building list record conflicts query: %w", err)
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("executing list record conflicts query: %w", err)
	}
	defer rows.Close()

	var conflicts []*Conflict
	for rows.Next() {
		var c Conflict
		if err := rows.Scan(&c.ID, &c.Model, &c.RecordID, &c.Field, &c.LocalValue, &c.RemoteValue, &c.DetectedAt, &c.Resolution); err != nil {
			return nil, fmt.Errorf("scanning conflict row: %w", err)
		}
		conflicts = append(conflicts, &c)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating conflict rows: %w", err)
	}
	return conflicts, nil
}

// SetResolution records the outcome for a conflict.
func (r *SQLRepository) SetResolution(ctx context.Context, id string, resolution Resolution) error {
	q := squirrel.Update("conflicts").
		Set("resolution", resolution).
		Where(squirrel.Eq{"id": id})

	query, args, err := q.ToSql()
	if err != nil {
		return fmt.Errorf("building set resolution query: %w", err)
	}

	res, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("updating conflict resolution: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("conflict %s not found", id)
	}
	return nil
}
