// Package store is the persistence gateway for synced records and per-model
// sync metadata. Record tables are created on demand, one per remote model,
// holding the raw record JSON plus the columns the sync engine needs to query.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/Masterminds/squirrel"

	"github.com/tildaslashalef/odoosync/internal/loggy"
	"github.com/tildaslashalef/odoosync/internal/odoo"
)

// Metadata is the per-model sync watermark row.
type Metadata struct {
	Model             string
	LastSyncTimestamp time.Time
	LastSyncWriteDate *time.Time
	TotalRecords      int
	LastError         string
}

// Store implements the persistence gateway over SQLite.
type Store struct {
	db     *sql.DB
	logger *loggy.Logger

	// record tables already ensured this session
	ensured map[string]bool
}

// New creates a store over an initialized database connection.
func New(db *sql.DB, logger *loggy.Logger) *Store {
	return &Store{
		db:      db,
		logger:  logger,
		ensured: make(map[string]bool),
	}
}

// modelNamePattern matches well-formed remote model names. Anything else
// is rejected before it can reach a SQL string.
var modelNamePattern = regexp.MustCompile(`^[a-z0-9._]+$`)

// TableForModel maps a remote model name onto its local record table,
// e.g. "res.partner" -> "rec_res_partner".
func TableForModel(model string) string {
	return "rec_" + strings.ReplaceAll(model, ".", "_")
}

// tableForModel validates the server-supplied model name before it is
// interpolated into SQL. Table names cannot be bound as parameters.
func tableForModel(model string) (string, error) {
	if !modelNamePattern.MatchString(model) {
		return "", fmt.Errorf("invalid model name %q", model)
	}
	return TableForModel(model), nil
}

// EnsureRecordTable creates the record table for a model if it does not exist.
func (s *Store) EnsureRecordTable(ctx context.Context, model string) error {
	table, err := tableForModel(model)
	if err != nil {
		return err
	}
	if s.ensured[table] {
		return nil
	}

	ddl := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
		id INTEGER PRIMARY KEY,
		data TEXT NOT NULL,
		write_date TIMESTAMP,
		synced_at TIMESTAMP NOT NULL
	)`, table)

	if _, err := s.db.ExecContext(ctx, ddl); err != nil {
		return fmt.Errorf("creating record table %s: %w", table, err)
	}

	s.ensured[table] = true
	return nil
}

// UpsertRecords writes a batch of remote records for a model in one
// transaction. An empty batch is a no-op.
func (s *Store) UpsertRecords(ctx context.Context, model string, records []odoo.Record) error {
	if len(records) == 0 {
		return nil
	}

	if err := s.EnsureRecordTable(ctx, model); err != nil {
		return err
	}

	table := TableForModel(model)
	now := time.Now()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning upsert transaction: %w", err)
	}

	for _, record := range records {
		id := record.ID()
		if id == 0 {
			s.logger.Warn("skipping record without id", "model", model)
			continue
		}

		data, err := json.Marshal(record)
		if err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("marshaling record %d of %s: %w", id, model, err)
		}

		var writeDate any
		if wd := record.WriteDate(); !wd.IsZero() {
			writeDate = wd
		}

		q := squirrel.Insert(table).
			Columns("id", "data", "write_date", "synced_at").
			Values(id, string(data), writeDate, now).
			Suffix("ON CONFLICT(id) DO UPDATE SET data = excluded.data, write_date = excluded.write_date, synced_at = excluded.synced_at")

		query, args, err := q.ToSql()
		if err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("building upsert query: %w", err)
		}

		if _, err := tx.ExecContext(ctx, query, args...); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("upserting record %d into %s: %w", id, table, err)
		}
	}

	return tx.Commit()
}

// DeleteRecord removes a single cached record, used when a remote delete
// is observed or replayed.
func (s *Store) DeleteRecord(ctx context.Context, model string, recordID int64) error {
	table, err := tableForModel(model)
	if err != nil {
		return err
	}
	q := squirrel.Delete(table).Where(squirrel.Eq{"id": recordID})

	query, args, err := q.ToSql()
	if err != nil {
		return fmt.Errorf("building delete record query: %w", err)
	}

	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("deleting record %d from %s: %w", recordID, model, err)
	}
	return nil
}

// GetRecords reads cached records for a model, newest changes first.
func (s *Store) GetRecords(ctx context.Context, model string, limit, offset int) ([]odoo.Record, error) {
	table, err := tableForModel(model)
	if err != nil {
		return nil, err
	}
	q := squirrel.Select("data").
		From(table).
		OrderBy("write_date DESC")

	if limit > 0 {
		q = q.Limit(uint64(limit))
	}
	if offset > 0 {
		q = q.Offset(uint64(offset))
	}

	query, args, err := q.ToSql()
	if err != nil {
		return nil, fmt.Errorf("building get records query: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("executing get records query: %w", err)
	}
	defer rows.Close()

	var records []odoo.Record
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return nil, fmt.Errorf("scanning record row: %w", err)
		}

		var record odoo.Record
		if err := json.Unmarshal([]byte(data), &record); err != nil {
			return nil, fmt.Errorf("decoding cached record: %w", err)
		}
		records = append(records, record)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating record rows: %w", err)
	}

	return records, nil
}

// CountRecords returns the number of cached records for a model.
// A missing record table counts as zero.
func (s *Store) CountRecords(ctx context.Context, model string) (int, error) {
	table, err := tableForModel(model)
	if err != nil {
		return 0, err
	}
	q := squirrel.Select("COUNT(*)").From(table)

	query, args, err := q.ToSql()
	if err != nil {
		return 0, fmt.Errorf("building count records query: %w", err)
	}

	var count int
	err = s.db.QueryRowContext(ctx, query, args...).Scan(&count)
	if err != nil {
		if isNoSuchTable(err) {
			return 0, nil
		}
		return 0, fmt.Errorf("executing count records query: %w", err)
	}

	return count, nil
}

// GetSyncMetadata returns the metadata row for a model, or nil when the
// model has never synced.
func (s *Store) GetSyncMetadata(ctx context.Context, model string) (*Metadata, error) {
	q := squirrel.Select("model", "last_sync_timestamp", "last_sync_write_date", "total_records", "last_error").
		From("sync_metadata").
		Where(squirrel.Eq{"model": model}).
		Limit(1)

	query, args, err := q.ToSql()
	if err != nil {
		return nil, fmt.Errorf("building get sync metadata query: %w", err)
	}

	var meta Metadata
	var lastWriteDate sql.NullTime
	var lastError sql.NullString
	err = s.db.QueryRowContext(ctx, query, args...).Scan(
		&meta.Model,
		&meta.LastSyncTimestamp,
		&lastWriteDate,
		&meta.TotalRecords,
		&lastError,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("executing get sync metadata query: %w", err)
	}

	if lastWriteDate.Valid {
		wd := lastWriteDate.Time
		meta.LastSyncWriteDate = &wd
	}
	meta.LastError = lastError.String

	return &meta, nil
}

// SetSyncMetadata inserts or updates the metadata row for a model.
func (s *Store) SetSyncMetadata(ctx context.Context, meta *Metadata) error {
	var lastWriteDate any
	if meta.LastSyncWriteDate != nil {
		lastWriteDate = *meta.LastSyncWriteDate
	}

	q := squirrel.Insert("sync_metadata").
		Columns("model", "last_sync_timestamp", "last_sync_write_date", "total_records", "last_error").
		Values(meta.Model, meta.LastSyncTimestamp, lastWriteDate, meta.TotalRecords, meta.LastError).
		Suffix("ON CONFLICT(model) DO UPDATE SET last_sync_timestamp = excluded.last_sync_timestamp, last_sync_write_date = excluded.last_sync_write_date, total_records = excluded.total_records, last_error = excluded.last_error")

	query, args, err := q.ToSql()
	if err != nil {
		return fmt.Errorf("building set sync metadata query: %w", err)
	}

	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("executing set sync metadata query: %w", err)
	}

	return nil
}

// ListSyncMetadata returns metadata for every model that has synced.
func (s *Store) ListSyncMetadata(ctx context.Context) ([]*Metadata, error) {
	q := squirrel.Select("model", "last_sync_timestamp", "last_sync_write_date", "total_records", "last_error").
		From("sync_metadata").
		OrderBy("model")

	query, args, err := q.ToSql()
	if err != nil {
		return nil, fmt.Errorf("building list sync metadata query: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("executing list sync metadata query: %w", err)
	}
	defer rows.Close()

	var metas []*Metadata
	for rows.Next() {
		var meta Metadata
		var lastWriteDate sql.NullTime
		var lastError sql.NullString
		if err := rows.Scan(&meta.Model, &meta.LastSyncTimestamp, &lastWriteDate, &meta.TotalRecords, &lastError); err != nil {
			return nil, fmt.Errorf("scanning sync metadata row: %w", err)
		}
		if lastWriteDate.Valid {
			wd := lastWriteDate.Time
			meta.LastSyncWriteDate = &wd
		}
		meta.LastError = lastError.String
		metas = append(metas, &meta)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating sync metadata rows: %w", err)
	}

	return metas, nil
}

// HasCachedData reports whether any model has cached records locally,
// which decides whether a failed sync can degrade to offline mode.
func (s *Store) HasCachedData(ctx context.Context) (bool, error) {
	q := squirrel.Select("COALESCE(SUM(total_records), 0)").From("sync_metadata")

	query, args, err := q.ToSql()
	if err != nil {
		return false, fmt.Errorf("building cached data query: %w", err)
	}

	var total int
	if err := s.db.QueryRowContext(ctx, query, args...).Scan(&total); err != nil {
		return false, fmt.Errorf("executing cached data query: %w", err)
	}

	return total > 0, nil
}

// ClearAll drops every record table and resets all sync metadata.
func (s *Store) ClearAll(ctx context.Context) error {
	rows, err := s.db.QueryContext(ctx,
		`SELECT name FROM sqlite_master WHERE type = 'table' AND name LIKE 'rec_%'`)
	if err != nil {
		return fmt.Errorf("listing record tables: %w", err)
	}
	defer rows.Close()

	var tables []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return fmt.Errorf("scanning table name: %w", err)
		}
		tables = append(tables, name)
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("iterating table names: %w", err)
	}

	for _, table := range tables {
		if _, err := s.db.ExecContext(ctx, "DROP TABLE IF EXISTS "+table); err != nil {
			return fmt.Errorf("dropping table %s: %w", table, err)
		}
		delete(s.ensured, table)
	}

	if _, err := s.db.ExecContext(ctx, "DELETE FROM sync_metadata"); err != nil {
		return fmt.Errorf("clearing sync metadata: %w", err)
	}

	s.logger.Info("cleared all cached data", "tables_dropped", len(tables))
	return nil
}

func isNoSuchTable(err error) bool {
	return err != nil && strings.Contains(err.Error(), "no such table")
}
