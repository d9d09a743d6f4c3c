package queue

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/Masterminds/squirrel"

	"github.com/tildaslashalef/odoosync/internal/loggy"
)

// Repository persists the offline mutation queue.
type Repository interface {
	Save(ctx context.Context, m *PendingMutation) error
	ListPending(ctx context.Context) ([]*PendingMutation, error)
	ListForRecord(ctx context.Context, model string, recordID int64) ([]*PendingMutation, error)
	Delete(ctx context.Context, id string) error
	MarkFailed(ctx context.Context, id string, retryCount int, terminal bool) error
}

// SQLRepository is the SQLite-backed mutation queue repository.
type SQLRepository struct {
	db     *sql.DB
	logger *loggy.Logger
}

// NewSQLRepository creates a mutation queue repository.
func NewSQLRepository(db *sql.DB, logger *loggy.Logger) *SQLRepository {
	return &SQLRepository{db: db, logger: logger}
}

var mutationColumns = []string{
	"id", "model", "record_id", "operation", "payload", "created_at", "retry_count", "status",
}

// Save inserts a queued mutation.
func (r *SQLRepository) Save(ctx context.Context, m *PendingMutation) error {
	payload, err := json.Marshal(m.Payload)
	if err != nil {
		return fmt.Errorf("encoding mutation payload: %w", err)
	}

	q := squirrel.Insert("pending_mutations").
		Columns(mutationColumns...).
		Values(m.ID, m.Model, m.RecordID, m.Operation, string(payload), m.CreatedAt, m.RetryCount, m.Status)

	query, args, err := q.ToSql()
	if err != nil {
		return fmt.Errorf("building save mutation query: %w", err)
	}

	if _, err := r.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("saving mutation: %w", err)
	}
	return nil
}

// ListPending returns all replayable mutations in creation order.
func (r *SQLRepository) ListPending(ctx context.Context) ([]*PendingMutation, error) {
	q := squirrel.Select(mutationColumns...).
		From("pending_mutations").
		Where(squirrel.Eq{"status": StatusPending}).
		OrderBy("model", "created_at ASC")

	return r.query(ctx, q)
}

// ListForRecord returns the pending mutations targeting one record.
func (r *SQLRepository) ListForRecord(ctx context.Context, model string, recordID int64) ([]*PendingMutation, error) {
	q := squirrel.Select(mutationColumns...).
		From("pending_mutations").
		Where(squirrel.Eq{"status": StatusPending, "model": model, "record_id": recordID}).
		OrderBy("created_at ASC")

	return r.query(ctx, q)
}

// Delete removes a mutation, normally after a successful replay.
func (r *SQLRepository) Delete(ctx context.Context, id string) error {
	q := squirrel.Delete("pending_mutations").Where(squirrel.Eq{"id": id})

	query, args, err := q.ToSql()
	if err != nil {
		return fmt.Errorf("building delete mutation query: %w", err)
	}

	if _, err := r.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("deleting mutation: %w", err)
	}
	return nil
}

// MarkFailed bumps the retry counter; terminal failures leave the pending
// pool so later replays stop retrying them.
func (r *SQLRepository) MarkFailed(ctx context.Context, id string, retryCount int, terminal bool) error {
	status := StatusPending
	if terminal {
		status = StatusFailed
	}

	q := squirrel.Update("pending_mutations").
		Set("retry_count", retryCount).
		Set("status", status).
		Where(squirrel.Eq{"id": id})

	query, args, err := q.ToSql()
	if err != nil {
		return fmt.Errorf("building mark failed query: %w", err)
	}

	if _, err := r.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("marking mutation failed: %w", err)
	}
	return nil
}

func (r *SQLRepository) query(ctx context.Context, q squirrel.SelectBuilder) ([]*PendingMutation, error) {
	query, args, err := q.ToSql()
	if err != nil {
		return nil, fmt.Errorf("building mutation query: %w", err)
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("executing mutation query: %w", err)
	}
	defer rows.Close()

	var mutations []*PendingMutation
	for rows.Next() {
		var m PendingMutation
		var payload string
		var recordID sql.NullInt64
		if err := rows.Scan(&m.ID, &m.Model, &recordID, &m.Operation, &payload, &m.CreatedAt, &m.RetryCount, &m.Status); err != nil {
			return nil, fmt.Errorf("scanning mutation row: %w", err)
		}
		m.RecordID = recordID.Int64
		if err := json.Unmarshal([]byte(payload), &m.Payload); err != nil {
			return nil, fmt.Errorf("decoding mutation payload: %w", err)
		}
		mutations = append(mutations, &m)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating mutation rows: %w", err)
	}
	return mutations, nil
}
