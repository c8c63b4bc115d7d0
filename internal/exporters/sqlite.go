package exporters

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"time"

	"github.com/biotracer/agent/internal/events"
	_ "github.com/mattn/go-sqlite3"
	"github.com/pkg/errors"
)

//go:embed schema.sql
var schemaSQL string

const insertEvent = `INSERT INTO batch_jobs_logs (id, job_id, run_id, event_type, timestamp, data)
VALUES (?, ?, ?, ?, ?, ?)
ON CONFLICT(id) DO NOTHING`

// SQLiteExporter stores events in the batch_jobs_logs table, keyed by the run name as job id.
type SQLiteExporter struct {
	db *sql.DB
}

// OpenSQLiteExporter creates or opens the database at path in WAL mode with a single writer.
func OpenSQLiteExporter(path string) (*SQLiteExporter, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, errors.WithMessage(err, "open database")
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, errors.WithMessage(err, "connect to database")
	}

	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := applyPragmas(db); err != nil {
		db.Close()
		return nil, errors.WithMessage(err, "apply pragmas")
	}

	if _, err := db.Exec(schemaSQL); err != nil {
		db.Close()
		return nil, errors.WithMessage(err, "apply schema")
	}

	return &SQLiteExporter{db: db}, nil
}

func applyPragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
	}

	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			return errors.WithMessagef(err, "execute '%s'", pragma)
		}
	}
	return nil
}

func (se *SQLiteExporter) Name() string {
	return "sqlite"
}

// Export inserts the batch in one transaction. Events already stored are left untouched.
func (se *SQLiteExporter) Export(ctx context.Context, runName string, batch []events.Event) error {
	if len(batch) == 0 {
		return nil
	}

	tx, err := se.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.WithMessage(err, "begin transaction")
	}
	defer tx.Rollback()

	statement, err := tx.PrepareContext(ctx, insertEvent)
	if err != nil {
		return errors.WithMessage(err, "prepare insert")
	}
	defer statement.Close()

	for i := range batch {
		event := &batch[i]
		data, err := json.Marshal(event)
		if err != nil {
			return errors.WithMessagef(err, "encode event '%s'", event.ID)
		}

		if _, err := statement.ExecContext(ctx, event.ID, runName, event.RunID, string(event.Type),
			event.Timestamp.UTC().Format(time.RFC3339Nano), string(data)); err != nil {
			return errors.WithMessagef(err, "insert event '%s'", event.ID)
		}
	}

	if err := tx.Commit(); err != nil {
		return errors.WithMessage(err, "commit transaction")
	}
	return nil
}

// CountByJob returns how many events are stored for a job id.
func (se *SQLiteExporter) CountByJob(ctx context.Context, jobID string) (int, error) {
	var count int
	row := se.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM batch_jobs_logs WHERE job_id = ?", jobID)
	if err := row.Scan(&count); err != nil {
		return 0, errors.WithMessage(err, "count events")
	}
	return count, nil
}

func (se *SQLiteExporter) Close() error {
	if se.db == nil {
		return nil
	}
	return se.db.Close()
}
