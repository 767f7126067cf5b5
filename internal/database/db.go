package database

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"

	"github.com/smukkama/trace-server/internal/location"
)

// DB wraps the database connection
type DB struct {
	*sql.DB
	driver string
}

// Connect establishes a connection to the database.
// driver is one of postgres (lib/pq), pgx (pgx stdlib) or sqlite (modernc).
func Connect(driver, connectionString string) (*DB, error) {
	db, err := sql.Open(driver, connectionString)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Set connection pool settings
	if driver == "sqlite" {
		// One physical connection: keeps :memory: databases alive and
		// serializes writers the way SQLite expects.
		db.SetMaxOpenConns(1)
		db.SetMaxIdleConns(1)
		db.SetConnMaxLifetime(0)
	} else {
		db.SetMaxOpenConns(25)
		db.SetMaxIdleConns(5)
	}

	// Test the connection
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &DB{DB: db, driver: driver}, nil
}

// Dialect returns the migrations flavour for the connected driver
func (db *DB) Dialect() string {
	if db.driver == "sqlite" {
		return "sqlite"
	}
	return "postgres"
}

// rebind rewrites '?' placeholders into '$n' for the postgres drivers
func (db *DB) rebind(query string) string {
	if db.driver == "sqlite" {
		return query
	}

	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			fmt.Fprintf(&b, "$%d", n)
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// RunMigrations executes all SQL migration files in order
func (db *DB) RunMigrations(migrationsDir string) error {
	// Read all migration files
	files, err := os.ReadDir(migrationsDir)
	if err != nil {
		return fmt.Errorf("failed to read migrations directory: %w", err)
	}

	// Filter and sort SQL files
	var sqlFiles []string
	for _, file := range files {
		if !file.IsDir() && strings.HasSuffix(file.Name(), ".sql") {
			sqlFiles = append(sqlFiles, file.Name())
		}
	}
	sort.Strings(sqlFiles)

	// Execute each migration
	for _, filename := range sqlFiles {
		fmt.Printf("Running migration: %s\n", filename)

		filePath := filepath.Join(migrationsDir, filename)
		content, err := os.ReadFile(filePath)
		if err != nil {
			return fmt.Errorf("failed to read migration %s: %w", filename, err)
		}

		if _, err := db.Exec(string(content)); err != nil {
			return fmt.Errorf("failed to execute migration %s: %w", filename, err)
		}
	}

	fmt.Println("All migrations completed successfully")
	return nil
}

// UpsertTrace inserts a trace or refreshes its device label and last-seen time
func (db *DB) UpsertTrace(ctx context.Context, trace *Trace) error {
	now := time.Now()
	if trace.CreatedAt.IsZero() {
		trace.CreatedAt = now
	}
	if trace.LastSeenAt.IsZero() {
		trace.LastSeenAt = now
	}

	query := db.rebind(`
		INSERT INTO traces (id, device, created_at_ms, last_seen_at_ms)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE
		SET device = CASE WHEN excluded.device <> '' THEN excluded.device ELSE traces.device END,
		    last_seen_at_ms = excluded.last_seen_at_ms
	`)
	_, err := db.ExecContext(ctx, query, trace.ID, trace.Device,
		trace.CreatedAt.UnixMilli(), trace.LastSeenAt.UnixMilli())
	if err != nil {
		return &location.StorageError{Op: "upsert trace", Err: err}
	}
	return nil
}

// ListTraces returns all known traces, most recently seen first
func (db *DB) ListTraces(ctx context.Context) ([]Trace, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT id, device, created_at_ms, last_seen_at_ms
		FROM traces
		ORDER BY last_seen_at_ms DESC, id
	`)
	if err != nil {
		return nil, &location.StorageError{Op: "list traces", Err: err}
	}
	defer rows.Close()

	var traces []Trace
	for rows.Next() {
		var (
			t                 Trace
			created, lastSeen int64
		)
		if err := rows.Scan(&t.ID, &t.Device, &created, &lastSeen); err != nil {
			return nil, &location.StorageError{Op: "list traces", Err: err}
		}
		t.CreatedAt = time.UnixMilli(created)
		t.LastSeenAt = time.UnixMilli(lastSeen)
		traces = append(traces, t)
	}
	if err := rows.Err(); err != nil {
		return nil, &location.StorageError{Op: "list traces", Err: err}
	}
	return traces, nil
}

// InsertRecord appends a location record and assigns its surrogate id
func (db *DB) InsertRecord(ctx context.Context, rec *location.Record) (int64, error) {
	query := db.rebind(`
		INSERT INTO location_records (trace_id, latitude, longitude, altitude, captured_at_ms)
		VALUES (?, ?, ?, ?, ?)
		RETURNING id
	`)

	err := db.QueryRowContext(ctx, query,
		rec.TraceID,
		rec.Latitude,
		rec.Longitude,
		rec.Altitude,
		rec.CapturedAt.UnixMilli(),
	).Scan(&rec.ID)
	if err != nil {
		return 0, &location.StorageError{Op: "insert record", Err: err}
	}
	return rec.ID, nil
}

// MostRecent returns the most recently inserted record of a trace, or nil when the trace is empty
func (db *DB) MostRecent(ctx context.Context, traceID string) (*location.Record, error) {
	query := db.rebind(`
		SELECT id, trace_id, latitude, longitude, altitude, captured_at_ms
		FROM location_records
		WHERE trace_id = ?
		ORDER BY id DESC
		LIMIT 1
	`)

	rec, err := scanRecord(db.QueryRowContext(ctx, query, traceID))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, &location.StorageError{Op: "most recent", Err: err}
	}
	return rec, nil
}

// RangeByDay returns the records of a trace captured on the calendar day of
// day (in day's location), ordered by capture time and then insertion order.
func (db *DB) RangeByDay(ctx context.Context, traceID string, day time.Time) ([]location.Record, error) {
	start, end := location.DayBounds(day)
	return db.RangeBetween(ctx, traceID, start, end)
}

// RangeBetween returns the records of a trace captured in [from, to)
func (db *DB) RangeBetween(ctx context.Context, traceID string, from, to time.Time) ([]location.Record, error) {
	query := db.rebind(`
		SELECT id, trace_id, latitude, longitude, altitude, captured_at_ms
		FROM location_records
		WHERE trace_id = ? AND captured_at_ms >= ? AND captured_at_ms < ?
		ORDER BY captured_at_ms, id
	`)

	rows, err := db.QueryContext(ctx, query, traceID, from.UnixMilli(), to.UnixMilli())
	if err != nil {
		return nil, &location.StorageError{Op: "range", Err: err}
	}
	defer rows.Close()

	records := make([]location.Record, 0, 64)
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, &location.StorageError{Op: "range", Err: err}
		}
		rec.CapturedAt = rec.CapturedAt.In(from.Location())
		records = append(records, *rec)
	}
	if err := rows.Err(); err != nil {
		return nil, &location.StorageError{Op: "range", Err: err}
	}
	return records, nil
}

// TracesBetween lists the traces with at least one record captured in [from, to)
func (db *DB) TracesBetween(ctx context.Context, from, to time.Time) ([]string, error) {
	query := db.rebind(`
		SELECT DISTINCT trace_id
		FROM location_records
		WHERE captured_at_ms >= ? AND captured_at_ms < ?
		ORDER BY trace_id
	`)

	rows, err := db.QueryContext(ctx, query, from.UnixMilli(), to.UnixMilli())
	if err != nil {
		return nil, &location.StorageError{Op: "traces between", Err: err}
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, &location.StorageError{Op: "traces between", Err: err}
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, &location.StorageError{Op: "traces between", Err: err}
	}
	return ids, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (*location.Record, error) {
	var (
		rec        location.Record
		capturedMs int64
	)
	if err := row.Scan(
		&rec.ID,
		&rec.TraceID,
		&rec.Latitude,
		&rec.Longitude,
		&rec.Altitude,
		&capturedMs,
	); err != nil {
		return nil, err
	}
	rec.CapturedAt = time.UnixMilli(capturedMs)
	return &rec, nil
}
