package sync

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/Masterminds/squirrel"

	"github.com/tildaslashalef/odoosync/internal/loggy"
)

// Repository persists per-run sync logs.
type Repository interface {
	SaveLog(ctx context.Context, log *SyncLog) error
	ListLogs(ctx context.Context, limit int) ([]*SyncLog, error)
}

// SQLRepository is the SQLite-backed sync log repository.
type SQLRepository struct {
	db     *sql.DB
	logger *loggy.Logger
}

// NewSQLRepository creates a sync log repository.
func NewSQLRepository(db *sql.DB, logger *loggy.Logger) *SQLRepository {
	return &SQLRepository{db: db, logger: logger}
}

// SaveLog inserts one completed run record.
func (r *SQLRepository) SaveLog(ctx context.Context, log *SyncLog) error {
	q := squirrel.Insert("sync_logs").
		Columns("id", "trigger_type", "models_total", "models_failed", "records_synced",
			"success", "error_message", "started_at", "completed_at").
		Values(log.ID, log.TriggerType, log.ModelsTotal, log.ModelsFailed, log.RecordsSynced,
			log.Success, log.ErrorMessage, log.StartedAt, log.CompletedAt)

	query, args, err := q.ToSql()
	if err != nil {
		return fmt.Errorf("building save sync log query: %w", err)
	}

	if _, err := r.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("saving sync log: %w", err)
	}
	return nil
}

// ListLogs returns the most recent run records, newest first.
func (r *SQLRepository) ListLogs(ctx context.Context, limit int) ([]*SyncLog, error) {
	if limit <= 0 {
		limit = 20
	}

	q := squirrel.Select("id", "trigger_type", "models_total", "models_failed", "records_synced",
		"success", "error_message", "started_at", "completed_at").
		From("sync_logs").
		OrderBy("completed_at DESC").
		Limit(uint64(limit))

	query, args, err := q.ToSql()
	if err != nil {
		return nil, fmt.Errorf("building list sync logs query: %w", err)
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("executing list sync logs query: %w", err)
	}
	defer rows.Close()

	var logs []*SyncLog
	for rows.Next() {
		var log SyncLog
		var errorMessage sql.NullString
		if err := rows.Scan(&log.ID, &log.TriggerType, &log.ModelsTotal, &log.ModelsFailed,
			&log.RecordsSynced, &log.Success, &errorMessage, &log.StartedAt, &log.CompletedAt); err != nil {
			return nil, fmt.Errorf("scanning sync log row: %w", err)
		}
		log.ErrorMessage = errorMessage.String
		logs = append(logs, &log)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating sync log rows: %w", err)
	}
	return logs, nil
}
