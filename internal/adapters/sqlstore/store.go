package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/stdlib"

	"bookgen/internal/core/domain"
)

// Dialect selects the SQL flavour of the backing database.
type Dialect string

const (
	DialectPostgres Dialect = "postgres"
	DialectMySQL    Dialect = "mysql"
)

const table = "generation_jobs"

var columns = []string{
	"job_id", "run_id", "tracking", "status", "progress",
	"total_books", "processed_books", "message", "started_at", "updated_at",
}

const schema = `CREATE TABLE IF NOT EXISTS generation_jobs (
	job_id VARCHAR(128) NOT NULL PRIMARY KEY,
	run_id VARCHAR(64) NOT NULL,
	tracking VARCHAR(16) NOT NULL,
	status VARCHAR(16) NOT NULL,
	progress INT NOT NULL,
	total_books INT NOT NULL,
	processed_books INT NOT NULL,
	message TEXT NOT NULL,
	started_at TIMESTAMP NOT NULL,
	updated_at TIMESTAMP NOT NULL
)`

// Store implements ports.StateStore on top of database/sql.
type Store struct {
	db      *sql.DB
	dialect Dialect
}

// Open connects to Postgres (through pgx) or MySQL and returns a Store.
func Open(dialect Dialect, dsn string) (*Store, error) {
	var db *sql.DB
	switch dialect {
	case DialectPostgres:
		cfg, err := pgx.ParseConfig(dsn)
		if err != nil {
			return nil, fmt.Errorf("parse postgres dsn: %w", err)
		}
		db = stdlib.OpenDB(*cfg)
	case DialectMySQL:
		cfg, err := mysql.ParseDSN(dsn)
		if err != nil {
			return nil, fmt.Errorf("parse mysql dsn: %w", err)
		}
		// TIMESTAMP columns must scan into time.Time.
		cfg.ParseTime = true
		cfg.Loc = time.UTC
		connector, err := mysql.NewConnector(cfg)
		if err != nil {
			return nil, fmt.Errorf("mysql connector: %w", err)
		}
		db = sql.OpenDB(connector)
	default:
		return nil, fmt.Errorf("unsupported sql dialect %q", dialect)
	}
	return New(db, dialect), nil
}

// New wraps an existing database handle.
func New(db *sql.DB, dialect Dialect) *Store {
	return &Store{db: db, dialect: dialect}
}

// Close closes the database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// EnsureSchema creates the job table when it is missing.
func (s *Store) EnsureSchema(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("create %s: %w", table, err)
	}
	return nil
}

// Save upserts the record for rec.JobID.
func (s *Store) Save(ctx context.Context, rec domain.JobRecord) error {
	if rec.JobID == "" {
		return fmt.Errorf("job record has no job id")
	}
	_, err := s.db.ExecContext(ctx, s.upsertQuery(),
		rec.JobID, rec.RunID, string(rec.Tracking), string(rec.Status), rec.Progress,
		rec.TotalBooks, rec.ProcessedBooks, rec.Message, rec.StartedAt.UTC(), rec.UpdatedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("save job %s: %w", rec.JobID, err)
	}
	return nil
}

// Load returns the record for jobID.
func (s *Store) Load(ctx context.Context, jobID string) (*domain.JobRecord, error) {
	query := fmt.Sprintf("SELECT %s FROM %s WHERE job_id = %s",
		strings.Join(columns, ", "), table, s.placeholder(1))

	rec, err := scanRecord(s.db.QueryRowContext(ctx, query, jobID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s", domain.ErrRecordNotFound, jobID)
		}
		return nil, fmt.Errorf("load job %s: %w", jobID, err)
	}
	return rec, nil
}

// Delete removes the record for jobID.
func (s *Store) Delete(ctx context.Context, jobID string) error {
	query := fmt.Sprintf("DELETE FROM %s WHERE job_id = %s", table, s.placeholder(1))
	if _, err := s.db.ExecContext(ctx, query, jobID); err != nil {
		return fmt.Errorf("delete job %s: %w", jobID, err)
	}
	return nil
}

// List returns every record, most recently updated first.
func (s *Store) List(ctx context.Context) ([]domain.JobRecord, error) {
	query := fmt.Sprintf("SELECT %s FROM %s ORDER BY updated_at DESC", strings.Join(columns, ", "), table)
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	defer rows.Close()

	var records []domain.JobRecord
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("scan job: %w", err)
		}
		records = append(records, *rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	return records, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(row scanner) (*domain.JobRecord, error) {
	var (
		rec      domain.JobRecord
		tracking string
		status   string
	)
	err := row.Scan(&rec.JobID, &rec.RunID, &tracking, &status, &rec.Progress,
		&rec.TotalBooks, &rec.ProcessedBooks, &rec.Message, &rec.StartedAt, &rec.UpdatedAt)
	if err != nil {
		return nil, err
	}
	rec.Tracking = domain.TrackingState(tracking)
	rec.Status = domain.JobStatus(status)
	return &rec, nil
}

func (s *Store) placeholder(n int) string {
	if s.dialect == DialectPostgres {
		return fmt.Sprintf("$%d", n)
	}
	return "?"
}

func (s *Store) upsertQuery() string {
	marks := make([]string, len(columns))
	for i := range columns {
		marks[i] = s.placeholder(i + 1)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "INSERT INTO %s (%s) VALUES (%s) ", table, strings.Join(columns, ", "), strings.Join(marks, ", "))

	// MySQL 8.0.19+ row alias; VALUES() in the update clause is deprecated.
	updates := make([]string, 0, len(columns)-1)
	for _, col := range columns[1:] {
		if s.dialect == DialectPostgres {
			updates = append(updates, fmt.Sprintf("%s = EXCLUDED.%s", col, col))
		} else {
			updates = append(updates, fmt.Sprintf("%s = new.%s", col, col))
		}
	}
	if s.dialect == DialectPostgres {
		b.WriteString("ON CONFLICT (job_id) DO UPDATE SET ")
	} else {
		b.WriteString("AS new ON DUPLICATE KEY UPDATE ")
	}
	b.WriteString(strings.Join(updates, ", "))
	return b.String()
}
