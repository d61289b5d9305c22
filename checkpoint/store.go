package checkpoint

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/doug-martin/goqu/v9"
	"github.com/rs/zerolog/log"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/curately/atsync/common"

	_ "github.com/doug-martin/goqu/v9/dialect/sqlite3"
	_ "github.com/mattn/go-sqlite3"
)

// Store is the durable checkpoint accessor. Watermarks are monotonic per
// (tenant, entity-type); "no watermark yet" is (nil, nil), never an error.
type Store interface {
	GetWatermark(ctx context.Context, tenant, entityType string) (*common.Watermark, error)
	SaveWatermark(ctx context.Context, wm common.Watermark) error
	FindKnownValues(ctx context.Context, tenant, entityType string, values []string) ([]string, error)
	RecordValues(ctx context.Context, tenant, entityType string, values []string) error
	EachKnownValue(ctx context.Context, fn func(tenant, entityType, value string) error) error
	ContactIDsByAtsValues(ctx context.Context, tenant string, atsValues []string) (map[string]string, error)
	RecordContact(ctx context.Context, tenant, atsValue, contactID string) error
	AppendCycleLog(ctx context.Context, summary common.CycleSummary) error
	ListWatermarks(ctx context.Context, tenant string) ([]common.Watermark, error)
	RecentCycles(ctx context.Context, tenant string, n int) ([]common.CycleSummary, error)
	Close() error
}

var schemas = []string{
	`CREATE TABLE IF NOT EXISTS watermarks (
		tenant TEXT NOT NULL,
		entity_type TEXT NOT NULL,
		cursor INTEGER NOT NULL DEFAULT 0,
		activity_time INTEGER NOT NULL DEFAULT 0,
		processed INTEGER NOT NULL DEFAULT 0,
		updated_at INTEGER NOT NULL,
		PRIMARY KEY (tenant, entity_type)
	)`,
	`CREATE TABLE IF NOT EXISTS ats_values (
		tenant TEXT NOT NULL,
		entity_type TEXT NOT NULL,
		ats_value TEXT NOT NULL,
		created_at INTEGER NOT NULL,
		PRIMARY KEY (tenant, entity_type, ats_value)
	)`,
	`CREATE TABLE IF NOT EXISTS contacts (
		tenant TEXT NOT NULL,
		ats_value TEXT NOT NULL,
		contact_id TEXT NOT NULL,
		PRIMARY KEY (tenant, ats_value)
	)`,
	`CREATE TABLE IF NOT EXISTS cycle_log (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		tenant TEXT NOT NULL,
		provider TEXT NOT NULL,
		entity_type TEXT NOT NULL,
		started_at INTEGER NOT NULL,
		summary BLOB NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_cycle_log_tenant ON cycle_log (tenant, provider, entity_type, started_at)`,
}

// SQLiteStore implements Store using SQLite with split read/write handles.
type SQLiteStore struct {
	writeDB *sql.DB
	readDB  *sql.DB
	path    string
	dialect goqu.DialectWrapper
}

var _ Store = (*SQLiteStore)(nil)

// NewSQLiteStore opens (or creates) the checkpoint database at path.
func NewSQLiteStore(path string, busyTimeoutMS int) (*SQLiteStore, error) {
	isMemoryDB := strings.Contains(path, ":memory:")

	// Write connection (1 connection)
	writeDSN := path
	if !isMemoryDB {
		if strings.Contains(writeDSN, "?") {
			writeDSN += fmt.Sprintf("&_journal_mode=WAL&_busy_timeout=%d&_txlock=immediate", busyTimeoutMS)
		} else {
			writeDSN += fmt.Sprintf("?_journal_mode=WAL&_busy_timeout=%d&_txlock=immediate", busyTimeoutMS)
		}
	}

	writeDB, err := sql.Open("sqlite3", writeDSN)
	if err != nil {
		return nil, fmt.Errorf("failed to open checkpoint write database: %w", err)
	}
	writeDB.SetMaxOpenConns(1)
	writeDB.SetMaxIdleConns(1)
	writeDB.SetConnMaxLifetime(0)

	// Read connection pool (4 connections)
	readDSN := path
	if !isMemoryDB {
		if strings.Contains(readDSN, "?") {
			readDSN += fmt.Sprintf("&_journal_mode=WAL&_busy_timeout=%d", busyTimeoutMS)
		} else {
			readDSN += fmt.Sprintf("?_journal_mode=WAL&_busy_timeout=%d", busyTimeoutMS)
		}
	}

	readDB := writeDB
	if !isMemoryDB {
		readDB, err = sql.Open("sqlite3", readDSN)
		if err != nil {
			writeDB.Close()
			return nil, fmt.Errorf("failed to open checkpoint read database: %w", err)
		}
		readDB.SetMaxOpenConns(4)
		readDB.SetMaxIdleConns(4)
		readDB.SetConnMaxLifetime(0)
	}

	if !isMemoryDB {
		for _, db := range []*sql.DB{writeDB, readDB} {
			for _, pragma := range []string{
				"PRAGMA journal_mode=WAL",
				"PRAGMA synchronous=NORMAL",
				"PRAGMA cache_size=-16000",
				"PRAGMA temp_store=MEMORY",
			} {
				if _, err := db.Exec(pragma); err != nil {
					writeDB.Close()
					readDB.Close()
					return nil, fmt.Errorf("failed to apply %q: %w", pragma, err)
				}
			}
		}
	}

	// Initialize schema
	for _, schema := range schemas {
		if _, err := writeDB.Exec(schema); err != nil {
			writeDB.Close()
			if readDB != writeDB {
				readDB.Close()
			}
			return nil, fmt.Errorf("failed to create checkpoint schema: %w", err)
		}
	}

	return &SQLiteStore{
		writeDB: writeDB,
		readDB:  readDB,
		path:    path,
		dialect: goqu.Dialect("sqlite3"),
	}, nil
}

// Close closes both database connections
func (s *SQLiteStore) Close() error {
	var writeErr, readErr error
	if s.writeDB != nil {
		writeErr = s.writeDB.Close()
	}
	if s.readDB != nil && s.readDB != s.writeDB {
		readErr = s.readDB.Close()
	}
	if writeErr != nil {
		return writeErr
	}
	return readErr
}

// GetWatermark returns the stored watermark, or (nil, nil) when none exists.
func (s *SQLiteStore) GetWatermark(ctx context.Context, tenant, entityType string) (*common.Watermark, error) {
	query, args, err := s.dialect.
		From("watermarks").
		Select("cursor", "activity_time", "processed", "updated_at").
		Where(goqu.Ex{"tenant": tenant, "entity_type": entityType}).
		Prepared(true).
		ToSQL()
	if err != nil {
		return nil, fmt.Errorf("failed to build watermark query: %w", err)
	}

	var cursor uint64
	var activityUnix, processed, updatedUnix int64
	row := s.readDB.QueryRowContext(ctx, query, args...)
	err = row.Scan(&cursor, &activityUnix, &processed, &updatedUnix)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read watermark: %w", err)
	}

	wm := &common.Watermark{
		Tenant:     tenant,
		EntityType: entityType,
		Cursor:     cursor,
		Processed:  processed,
		UpdatedAt:  time.UnixMilli(updatedUnix),
	}
	if activityUnix > 0 {
		wm.ActivityTime = time.UnixMilli(activityUnix)
	}
	return wm, nil
}

// SaveWatermark upserts the watermark. The cursor and activity time can only
// move forward: a stale writer racing a newer one cannot regress either.
func (s *SQLiteStore) SaveWatermark(ctx context.Context, wm common.Watermark) error {
	var activity int64
	if !wm.ActivityTime.IsZero() {
		activity = wm.ActivityTime.UnixMilli()
	}

	query, args, err := s.dialect.
		Insert("watermarks").
		Rows(goqu.Record{
			"tenant":        wm.Tenant,
			"entity_type":   wm.EntityType,
			"cursor":        wm.Cursor,
			"activity_time": activity,
			"processed":     wm.Processed,
			"updated_at":    time.Now().UnixMilli(),
		}).
		OnConflict(goqu.DoUpdate("tenant, entity_type", goqu.Record{
			"cursor":        goqu.L("MAX(watermarks.cursor, excluded.cursor)"),
			"activity_time": goqu.L("MAX(watermarks.activity_time, excluded.activity_time)"),
			"processed":     goqu.L("watermarks.processed + excluded.processed"),
			"updated_at":    goqu.L("excluded.updated_at"),
		})).
		Prepared(true).
		ToSQL()
	if err != nil {
		return fmt.Errorf("failed to build watermark upsert: %w", err)
	}

	if _, err := s.writeDB.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("failed to save watermark: %w", err)
	}

	log.Debug().
		Str("tenant", wm.Tenant).
		Str("entity", wm.EntityType).
		Uint64("cursor", wm.Cursor).
		Int64("processed", wm.Processed).
		Msg("Watermark advanced")
	return nil
}

// FindKnownValues returns the subset of values already recorded for the
// (tenant, entity-type). Empty input returns nil without touching the DB.
func (s *SQLiteStore) FindKnownValues(ctx context.Context, tenant, entityType string, values []string) ([]string, error) {
	if len(values) == 0 {
		return nil, nil
	}

	query, args, err := s.dialect.
		From("ats_values").
		Select("ats_value").
		Where(goqu.Ex{
			"tenant":      tenant,
			"entity_type": entityType,
			"ats_value":   values,
		}).
		Prepared(true).
		ToSQL()
	if err != nil {
		return nil, fmt.Errorf("failed to build known-values query: %w", err)
	}

	rows, err := s.readDB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query known values: %w", err)
	}
	defer rows.Close()

	var known []string
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			return nil, fmt.Errorf("failed to scan known value: %w", err)
		}
		known = append(known, v)
	}
	return known, rows.Err()
}

// RecordValues inserts values as seen, ignoring ones already present.
func (s *SQLiteStore) RecordValues(ctx context.Context, tenant, entityType string, values []string) error {
	if len(values) == 0 {
		return nil
	}

	now := time.Now().UnixMilli()
	records := make([]any, 0, len(values))
	for _, v := range values {
		records = append(records, goqu.Record{
			"tenant":      tenant,
			"entity_type": entityType,
			"ats_value":   v,
			"created_at":  now,
		})
	}

	query, args, err := s.dialect.
		Insert("ats_values").
		Rows(records...).
		OnConflict(goqu.DoNothing()).
		Prepared(true).
		ToSQL()
	if err != nil {
		return fmt.Errorf("failed to build values insert: %w", err)
	}

	if _, err := s.writeDB.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("failed to record values: %w", err)
	}
	return nil
}

// EachKnownValue streams every recorded ats value row to fn. Used to rebuild
// the process-local seen-value prefilter on startup.
func (s *SQLiteStore) EachKnownValue(ctx context.Context, fn func(tenant, entityType, value string) error) error {
	query, args, err := s.dialect.
		From("ats_values").
		Select("tenant", "entity_type", "ats_value").
		Prepared(true).
		ToSQL()
	if err != nil {
		return fmt.Errorf("failed to build known-values scan: %w", err)
	}

	rows, err := s.readDB.QueryContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to scan known values: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var tenant, entityType, value string
		if err := rows.Scan(&tenant, &entityType, &value); err != nil {
			return fmt.Errorf("failed to scan known value: %w", err)
		}
		if err := fn(tenant, entityType, value); err != nil {
			return err
		}
	}
	return rows.Err()
}

// ContactIDsByAtsValues resolves ats values to internal contact ids.
// Unknown values are simply absent from the result map.
func (s *SQLiteStore) ContactIDsByAtsValues(ctx context.Context, tenant string, atsValues []string) (map[string]string, error) {
	if len(atsValues) == 0 {
		return map[string]string{}, nil
	}

	query, args, err := s.dialect.
		From("contacts").
		Select("ats_value", "contact_id").
		Where(goqu.Ex{"tenant": tenant, "ats_value": atsValues}).
		Prepared(true).
		ToSQL()
	if err != nil {
		return nil, fmt.Errorf("failed to build contacts query: %w", err)
	}

	rows, err := s.readDB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query contacts: %w", err)
	}
	defer rows.Close()

	out := make(map[string]string)
	for rows.Next() {
		var atsValue, contactID string
		if err := rows.Scan(&atsValue, &contactID); err != nil {
			return nil, fmt.Errorf("failed to scan contact: %w", err)
		}
		out[atsValue] = contactID
	}
	return out, rows.Err()
}

// RecordContact stores one ats-value to contact-id mapping.
func (s *SQLiteStore) RecordContact(ctx context.Context, tenant, atsValue, contactID string) error {
	query, args, err := s.dialect.
		Insert("contacts").
		Rows(goqu.Record{
			"tenant":     tenant,
			"ats_value":  atsValue,
			"contact_id": contactID,
		}).
		OnConflict(goqu.DoUpdate("tenant, ats_value", goqu.Record{
			"contact_id": goqu.L("excluded.contact_id"),
		})).
		Prepared(true).
		ToSQL()
	if err != nil {
		return fmt.Errorf("failed to build contact upsert: %w", err)
	}

	if _, err := s.writeDB.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("failed to record contact: %w", err)
	}
	return nil
}

// AppendCycleLog writes one audit row per completed cycle. The summary is
// stored as a msgpack blob so new fields never need a schema migration.
func (s *SQLiteStore) AppendCycleLog(ctx context.Context, summary common.CycleSummary) error {
	blob, err := msgpack.Marshal(summary)
	if err != nil {
		return fmt.Errorf("failed to encode cycle summary: %w", err)
	}

	query, args, err := s.dialect.
		Insert("cycle_log").
		Rows(goqu.Record{
			"tenant":      summary.Tenant,
			"provider":    summary.Provider,
			"entity_type": summary.EntityType,
			"started_at":  summary.StartedAt.UnixMilli(),
			"summary":     blob,
		}).
		Prepared(true).
		ToSQL()
	if err != nil {
		return fmt.Errorf("failed to build cycle log insert: %w", err)
	}

	if _, err := s.writeDB.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("failed to append cycle log: %w", err)
	}
	return nil
}

// ListWatermarks returns every watermark row for a tenant.
func (s *SQLiteStore) ListWatermarks(ctx context.Context, tenant string) ([]common.Watermark, error) {
	query, args, err := s.dialect.
		From("watermarks").
		Select("entity_type", "cursor", "activity_time", "processed", "updated_at").
		Where(goqu.Ex{"tenant": tenant}).
		Order(goqu.I("entity_type").Asc()).
		Prepared(true).
		ToSQL()
	if err != nil {
		return nil, fmt.Errorf("failed to build watermarks query: %w", err)
	}

	rows, err := s.readDB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query watermarks: %w", err)
	}
	defer rows.Close()

	var out []common.Watermark
	for rows.Next() {
		var wm common.Watermark
		var activityUnix, updatedUnix int64
		if err := rows.Scan(&wm.EntityType, &wm.Cursor, &activityUnix, &wm.Processed, &updatedUnix); err != nil {
			return nil, fmt.Errorf("failed to scan watermark: %w", err)
		}
		wm.Tenant = tenant
		if activityUnix > 0 {
			wm.ActivityTime = time.UnixMilli(activityUnix)
		}
		wm.UpdatedAt = time.UnixMilli(updatedUnix)
		out = append(out, wm)
	}
	return out, rows.Err()
}

// RecentCycles returns the latest n cycle summaries for a tenant, newest first.
func (s *SQLiteStore) RecentCycles(ctx context.Context, tenant string, n int) ([]common.CycleSummary, error) {
	query, args, err := s.dialect.
		From("cycle_log").
		Select("summary").
		Where(goqu.Ex{"tenant": tenant}).
		Order(goqu.I("started_at").Desc()).
		Limit(uint(n)).
		Prepared(true).
		ToSQL()
	if err != nil {
		return nil, fmt.Errorf("failed to build cycle log query: %w", err)
	}

	rows, err := s.readDB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query cycle log: %w", err)
	}
	defer rows.Close()

	var out []common.CycleSummary
	for rows.Next() {
		var blob []byte
		if err := rows.Scan(&blob); err != nil {
			return nil, fmt.Errorf("failed to scan cycle log: %w", err)
		}
		var summary common.CycleSummary
		if err := msgpack.Unmarshal(blob, &summary); err != nil {
			return nil, fmt.Errorf("failed to decode cycle summary: %w", err)
		}
		out = append(out, summary)
	}
	return out, rows.Err()
}
