// Package store keeps the history of published events in SQLite: every
// event in the events table and, for state events, a row in transitions.
package store

import (
	"compress/gzip"
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/tailscale/tailsql/server/tailsql"
	_ "modernc.org/sqlite"
	"tailscale.com/tsweb"

	"github.com/rania-fds/fds/internal/events"
	"github.com/rania-fds/fds/internal/monitoring"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// DefaultLimit caps queries that pass a non-positive limit.
const DefaultLimit = 100

// Store is the event history database.
type Store struct {
	db   *sql.DB
	path string
	log  *monitoring.Logger
}

// Transition is one recorded room state change.
type Transition struct {
	EventID  string    `json:"event_id"`
	DomainID int       `json:"dom_id"`
	RoomID   int       `json:"room_id"`
	From     string    `json:"from"`
	To       string    `json:"to"`
	At       time.Time `json:"timestamp"`
}

// Open opens or creates the database at path and applies pending
// migrations.
func Open(path string, log *monitoring.Logger) (*Store, error) {
	if log == nil {
		log = monitoring.Discard()
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	if _, err := db.Exec(`
		PRAGMA journal_mode = WAL;
		PRAGMA busy_timeout = 5000;
		PRAGMA foreign_keys = ON;
	`); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to set pragmas: %w", err)
	}
	s := &Store{db: db, path: path, log: log.With("store")}
	if err := s.migrateUp(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) migrateUp() error {
	src, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("failed to read migrations: %w", err)
	}
	driver, err := sqlite.WithInstance(s.db, &sqlite.Config{})
	if err != nil {
		return fmt.Errorf("failed to create sqlite driver: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", src, "sqlite", driver)
	if err != nil {
		return fmt.Errorf("failed to create migrate instance: %w", err)
	}
	m.Log = migrateLogger{s.log}
	// m is not closed: that would close s.db.
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("migration up failed: %w", err)
	}
	return nil
}

// Version returns the applied schema version.
func (s *Store) Version() (uint, error) {
	var v uint
	err := s.db.QueryRow(`SELECT version FROM schema_migrations LIMIT 1`).Scan(&v)
	return v, err
}

type migrateLogger struct{ log *monitoring.Logger }

func (l migrateLogger) Printf(format string, v ...interface{}) { l.log.Debugf(format, v...) }
func (l migrateLogger) Verbose() bool                          { return false }

// Publish records ev. Publishing the same event id twice is a no-op, so
// the store can sit behind a retrying sink.
func (s *Store) Publish(ctx context.Context, ev events.Event) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `
		INSERT OR IGNORE INTO events (event_id, dom_id, room_id, type, ts_unix_ns, payload)
		VALUES (?, ?, ?, ?, ?, ?)`,
		ev.ID, ev.DomainID, ev.Data.RoomID, string(ev.Type), ev.Timestamp.UnixNano(), string(payload))
	if err != nil {
		return fmt.Errorf("insert event: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 1 && ev.Type == events.TypeState {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO transitions (event_id, dom_id, room_id, from_state, to_state, ts_unix_ns)
			VALUES (?, ?, ?, ?, ?, ?)`,
			ev.ID, ev.DomainID, ev.Data.RoomID, ev.Data.From, ev.Data.To, ev.Timestamp.UnixNano()); err != nil {
			return fmt.Errorf("insert transition: %w", err)
		}
	}
	return tx.Commit()
}

// RecentEvents returns up to limit events, newest first.
func (s *Store) RecentEvents(ctx context.Context, limit int) ([]events.Event, error) {
	if limit <= 0 {
		limit = DefaultLimit
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT payload FROM events ORDER BY ts_unix_ns DESC, rowid DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []events.Event
	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			return nil, err
		}
		var ev events.Event
		if err := json.Unmarshal([]byte(payload), &ev); err != nil {
			return nil, fmt.Errorf("decode stored event: %w", err)
		}
		out = append(out, ev)
	}
	return out, rows.Err()
}

// Transitions returns up to limit state changes of one room, newest first.
func (s *Store) Transitions(ctx context.Context, domainID, roomID, limit int) ([]Transition, error) {
	if limit <= 0 {
		limit = DefaultLimit
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT event_id, dom_id, room_id, from_state, to_state, ts_unix_ns
		FROM transitions
		WHERE dom_id = ? AND room_id = ?
		ORDER BY ts_unix_ns DESC, transition_id DESC
		LIMIT ?`, domainID, roomID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Transition
	for rows.Next() {
		var t Transition
		var ns int64
		if err := rows.Scan(&t.EventID, &t.DomainID, &t.RoomID, &t.From, &t.To, &ns); err != nil {
			return nil, err
		}
		t.At = time.Unix(0, ns).UTC()
		out = append(out, t)
	}
	return out, rows.Err()
}

// FallCount returns the number of fall events for a room since the given
// time.
func (s *Store) FallCount(ctx context.Context, domainID, roomID int, since time.Time) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM events
		WHERE dom_id = ? AND room_id = ? AND type = ? AND ts_unix_ns >= ?`,
		domainID, roomID, string(events.TypeFallStart), since.UnixNano()).Scan(&n)
	return n, err
}

// Close closes the database.
func (s *Store) Close() error { return s.db.Close() }

// AttachAdminRoutes mounts live SQL and a backup download on debug.
func (s *Store) AttachAdminRoutes(debug *tsweb.DebugHandler) error {
	tsql, err := tailsql.NewServer(tailsql.Options{
		RoutePrefix: "/debug/tailsql/",
	})
	if err != nil {
		return fmt.Errorf("failed to create tailsql server: %w", err)
	}
	tsql.SetDB("sqlite://"+filepath.Base(s.path), s.db, &tailsql.DBOptions{
		Label: "Event history",
	})
	debug.Handle("tailsql/", "SQL live debugging", tsql.NewMux())
	debug.Handle("backup", "Download a gzipped backup of the event history", http.HandlerFunc(s.serveBackup))
	return nil
}

func (s *Store) serveBackup(w http.ResponseWriter, r *http.Request) {
	dir, err := os.MkdirTemp("", "fds-backup-")
	if err != nil {
		http.Error(w, fmt.Sprintf("Failed to create backup: %v", err), http.StatusInternalServerError)
		return
	}
	defer func() {
		if err := os.RemoveAll(dir); err != nil {
			s.log.Warnf("failed to remove backup dir: %v", err)
		}
	}()

	name := fmt.Sprintf("fds-backup-%d.db", time.Now().Unix())
	backupPath := filepath.Join(dir, name)
	if _, err := s.db.ExecContext(r.Context(), "VACUUM INTO ?", backupPath); err != nil {
		http.Error(w, fmt.Sprintf("Failed to create backup: %v", err), http.StatusInternalServerError)
		return
	}
	f, err := os.Open(backupPath)
	if err != nil {
		http.Error(w, fmt.Sprintf("Failed to open backup: %v", err), http.StatusInternalServerError)
		return
	}
	defer f.Close()

	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%s.gz", name))
	w.Header().Set("Content-Type", "application/gzip")
	gz := gzip.NewWriter(w)
	defer gz.Close()
	if _, err := io.Copy(gz, f); err != nil {
		s.log.Warnf("backup copy: %v", err)
	}
}
