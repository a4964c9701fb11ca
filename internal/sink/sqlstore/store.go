// Package sqlstore persists snapshots to SQLite or Postgres through database/sql.
package sqlstore

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "github.com/mattn/go-sqlite3"

	"github.com/crimson-sun/pulsewatch/internal/model"
	"github.com/crimson-sun/pulsewatch/internal/sink"
)

//go:embed schema.sql
var schemaSQL string

const (
	DriverSQLite   = "sqlite3"
	DriverPostgres = "pgx"

	classActive = "active"
	classRecent = "recent"
)

func init() {
	sink.Register("sql", func(cfg sink.Config) (sink.Sink, error) {
		dsn := cfg.DSN
		if dsn == "" {
			dsn = cfg.Path
		}
		return Open(context.Background(), cfg.Driver, dsn)
	})
}

// Store is a sink backed by a SQL database. The published snapshot is
// replaced inside one transaction, so readers never see two cycles mixed.
type Store struct {
	db *sql.DB
}

// New wraps an already-open database. The schema must already exist; see Init.
func New(db *sql.DB) *Store {
	return &Store{db: db}
}

// Open connects to the database, applies SQLite pragmas when relevant and
// creates the schema. driver is DriverSQLite (default) or DriverPostgres.
func Open(ctx context.Context, driver, dsn string) (*Store, error) {
	if driver == "" {
		driver = DriverSQLite
	}
	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if driver == DriverSQLite {
		// SQLite only supports one writer at a time.
		db.SetMaxOpenConns(1)
		db.SetMaxIdleConns(1)
		if err := applyPragmas(ctx, db); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to apply pragmas: %w", err)
		}
	}

	s := New(db)
	if err := s.Init(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func applyPragmas(ctx context.Context, db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			return fmt.Errorf("failed to execute %q: %w", pragma, err)
		}
	}
	return nil
}

// Init creates the tables if they don't exist. It is idempotent.
func (s *Store) Init(ctx context.Context) error {
	for _, stmt := range schemaStatements(schemaSQL) {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to apply schema: %w", err)
		}
	}
	return nil
}

// schemaStatements drops "--" comment lines, then splits on ";".
// Comments go first so their punctuation never splits a statement.
func schemaStatements(script string) []string {
	var b strings.Builder
	for _, line := range strings.Split(script, "\n") {
		if !strings.HasPrefix(strings.TrimSpace(line), "--") {
			b.WriteString(line)
			b.WriteByte('\n')
		}
	}
	var out []string
	for _, stmt := range strings.Split(b.String(), ";") {
		if stmt = strings.TrimSpace(stmt); stmt != "" {
			out = append(out, stmt)
		}
	}
	return out
}

// Ping checks the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return &sink.Error{Sink: "sql", Op: "ping", Err: err}
	}
	return nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// ReplaceSnapshot deletes the previous snapshot and inserts snap in one
// transaction.
func (s *Store) ReplaceSnapshot(ctx context.Context, snap model.Snapshot) error {
	if err := s.replace(ctx, snap); err != nil {
		return &sink.Error{Sink: "sql", Op: "replace", Err: err}
	}
	return nil
}

func (s *Store) replace(ctx context.Context, snap model.Snapshot) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback() // no-op after commit

	if _, err := tx.ExecContext(ctx, `DELETE FROM incidents`); err != nil {
		return fmt.Errorf("clear incidents: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM unit_status`); err != nil {
		return fmt.Errorf("clear unit status: %w", err)
	}

	for i, inc := range snap.ActiveIncidents {
		if err := insertIncident(ctx, tx, classActive, i, inc); err != nil {
			return err
		}
	}
	for i, inc := range snap.RecentIncidents {
		if err := insertIncident(ctx, tx, classRecent, i, inc); err != nil {
			return err
		}
	}
	for i, u := range snap.UnitStatus {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO unit_status
			(position, unit_id, status_code, status_label, status_color, active, incident_id, source_id, last_update)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
			i, u.UnitID, u.StatusCode, u.StatusLabel, u.StatusColor, boolInt(u.Active),
			u.IncidentID, u.SourceID, formatTime(u.LastUpdate),
		); err != nil {
			return fmt.Errorf("insert unit %s: %w", u.UnitID, err)
		}
	}
	for _, src := range snap.Sources {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO sources (source_id, name, region, last_poll)
			VALUES ($1, $2, $3, $4)
			ON CONFLICT (source_id) DO UPDATE SET
				name = excluded.name, region = excluded.region, last_poll = excluded.last_poll`,
			src.ID, src.DisplayName, src.Region, formatTime(src.LastPollTime),
		); err != nil {
			return fmt.Errorf("upsert source %s: %w", src.ID, err)
		}
	}
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO snapshot_meta (id, cycle_id, generated_at)
		VALUES (1, $1, $2)
		ON CONFLICT (id) DO UPDATE SET cycle_id = excluded.cycle_id, generated_at = excluded.generated_at`,
		snap.CycleID, formatTime(snap.GeneratedAt),
	); err != nil {
		return fmt.Errorf("write snapshot meta: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

func insertIncident(ctx context.Context, tx *sql.Tx, class string, pos int, inc model.Incident) error {
	units, err := json.Marshal(inc.Units)
	if err != nil {
		return fmt.Errorf("marshal units: %w", err)
	}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO incidents
		(class, position, incident_id, source_id, source_name, call_type_code, call_type_label,
		 address, latitude, longitude, received_time, alarm_level, units, units_display, unit_count, fetched_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)`,
		class, pos, inc.IncidentID, inc.SourceID, inc.SourceName, inc.CallTypeCode, inc.CallTypeLabel,
		inc.Address, inc.Latitude, inc.Longitude, inc.ReceivedTime, inc.AlarmLevel,
		string(units), inc.UnitsDisplay(), inc.UnitCount(), formatTime(inc.FetchedAt),
	)
	if err != nil {
		return fmt.Errorf("insert incident %s: %w", inc.Key(), err)
	}
	return nil
}

// RecordPollAttempt upserts the source's last poll time. An empty display
// name keeps the stored one.
func (s *Store) RecordPollAttempt(ctx context.Context, sourceID string, at time.Time, displayName string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO sources (source_id, name, last_poll)
		VALUES ($1, $2, $3)
		ON CONFLICT (source_id) DO UPDATE SET
			last_poll = excluded.last_poll,
			name = CASE WHEN excluded.name <> '' THEN excluded.name ELSE sources.name END`,
		sourceID, displayName, formatTime(at),
	)
	if err != nil {
		return &sink.Error{Sink: "sql", Op: "record attempt", Err: err}
	}
	return nil
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) time.Time {
	t, _ := time.Parse(time.RFC3339Nano, s)
	return t
}

var _ sink.Sink = (*Store)(nil)
var _ sink.Pinger = (*Store)(nil)
