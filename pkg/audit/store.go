// Package audit persists script executions to a SQL database.
package audit

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"snare/pkg/engine"

	_ "github.com/go-sql-driver/mysql"
	_ "modernc.org/sqlite"
)

// Table is the audit table name.
const Table = "script_executions"

// messageLimit bounds stored error messages.
const messageLimit = 2000

// Entry is one recorded execution.
type Entry struct {
	ID         int64         `json:"id"`
	Script     string        `json:"script"`
	EntryPoint string        `json:"entry_point"`
	Outcome    string        `json:"outcome"`
	Message    string        `json:"message,omitempty"`
	Duration   time.Duration `json:"duration_ns"`
	LockWait   time.Duration `json:"lock_wait_ns"`
	CreatedAt  time.Time     `json:"created_at"`
}

// EntryFromExecution converts an engine observation into an Entry.
func EntryFromExecution(e engine.Execution) Entry {
	entry := Entry{
		Script:     e.Script,
		EntryPoint: e.EntryPoint,
		Outcome:    e.Outcome(),
		Duration:   e.Duration,
		LockWait:   e.LockWait,
		CreatedAt:  time.Now(),
	}
	if e.Err != nil {
		entry.Message = e.Err.Error()
	}
	return entry
}

// Store writes entries through a dialect-aware database handle.
type Store struct {
	db      *sql.DB
	dialect Dialect
}

// Open connects to the audit database, pings it and creates the table.
func Open(ctx context.Context, driverName, dsn string) (*Store, error) {
	db, err := sql.Open(driverName, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open audit database: %w", err)
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping audit database: %w", err)
	}

	optimizePool(db, driverName)

	s := New(db, GetDialect(driverName))
	if err := s.Migrate(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// New wraps an existing handle. The caller runs Migrate.
func New(db *sql.DB, dialect Dialect) *Store {
	return &Store{db: db, dialect: dialect}
}

func optimizePool(db *sql.DB, driverName string) {
	switch GetDialect(driverName).Name() {
	case "sqlite":
		// One writer; in-memory databases are per connection.
		db.SetMaxOpenConns(1)
	default:
		db.SetMaxOpenConns(10)
		db.SetMaxIdleConns(2)
	}
	db.SetConnMaxLifetime(5 * time.Minute)
}

// Migrate creates the audit table when missing.
func (s *Store) Migrate(ctx context.Context) error {
	d := s.dialect
	col := func(name, typ string) string { return d.QuoteIdentifier(name) + " " + typ }

	ddl := d.CreateTable(Table, []string{
		col("id", d.IDColumn()),
		col("script", d.VarChar(255)+" NOT NULL"),
		col("entry_point", d.VarChar(64)+" NOT NULL"),
		col("outcome", d.VarChar(64)+" NOT NULL"),
		col("message", d.Text()),
		col("duration_us", "BIGINT NOT NULL"),
		col("lock_wait_us", "BIGINT NOT NULL"),
		col("created_at", "BIGINT NOT NULL"),
	})
	if _, err := s.db.ExecContext(ctx, ddl); err != nil {
		return fmt.Errorf("failed to create %s: %w", Table, err)
	}
	return nil
}

var columns = []string{"script", "entry_point", "outcome", "message", "duration_us", "lock_wait_us", "created_at"}

// Record inserts one entry.
func (s *Store) Record(ctx context.Context, e Entry) error {
	quoted := make([]string, len(columns))
	holders := make([]string, len(columns))
	for i, c := range columns {
		quoted[i] = s.dialect.QuoteIdentifier(c)
		holders[i] = s.dialect.Placeholder(i + 1)
	}

	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now()
	}
	msg := truncate(e.Message, messageLimit)

	query := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
		s.dialect.QuoteIdentifier(Table), strings.Join(quoted, ", "), strings.Join(holders, ", "))
	_, err := s.db.ExecContext(ctx, query,
		e.Script, e.EntryPoint, e.Outcome, msg,
		e.Duration.Microseconds(), e.LockWait.Microseconds(), e.CreatedAt.UnixMilli())
	if err != nil {
		return fmt.Errorf("failed to record execution: %w", err)
	}
	return nil
}

// truncate cuts s to at most n bytes without splitting a UTF-8 sequence.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}

// Recent returns up to limit entries, newest first. An empty script name
// returns entries for every script.
func (s *Store) Recent(ctx context.Context, script string, limit int) ([]Entry, error) {
	d := s.dialect
	quoted := make([]string, len(columns))
	for i, c := range columns {
		quoted[i] = d.QuoteIdentifier(c)
	}

	query := fmt.Sprintf("SELECT %s, %s FROM %s", d.QuoteIdentifier("id"), strings.Join(quoted, ", "), d.QuoteIdentifier(Table))
	var args []interface{}
	if script != "" {
		query += fmt.Sprintf(" WHERE %s = %s", d.QuoteIdentifier("script"), d.Placeholder(1))
		args = append(args, script)
	}
	query += fmt.Sprintf(" ORDER BY %s DESC", d.QuoteIdentifier("id")) + d.Limit(limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query executions: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var (
			e                         Entry
			msg                       sql.NullString
			durationUS, waitUS, milli int64
		)
		if err := rows.Scan(&e.ID, &e.Script, &e.EntryPoint, &e.Outcome, &msg, &durationUS, &waitUS, &milli); err != nil {
			return nil, err
		}
		e.Message = msg.String
		e.Duration = time.Duration(durationUS) * time.Microsecond
		e.LockWait = time.Duration(waitUS) * time.Microsecond
		e.CreatedAt = time.UnixMilli(milli)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// Observer returns an engine observer that records every execution. Write
// failures are logged and never reach the caller of Execute.
func (s *Store) Observer(timeout time.Duration) func(engine.Execution) {
	return func(e engine.Execution) {
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		if err := s.Record(ctx, EntryFromExecution(e)); err != nil {
			slog.Error("Failed to record script execution", "script", e.Script, "error", err)
		}
	}
}

// Ping checks the database connection.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Dialect returns the store's SQL dialect.
func (s *Store) Dialect() Dialect { return s.dialect }

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}
