// Package syncdb is a SQLite journal of clock synchronization sessions and
// device identity snapshots.
package syncdb

import (
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/tailscale/tailsql/server/tailsql"
	_ "modernc.org/sqlite"
	"tailscale.com/tsweb"

	"github.com/banshee-data/hokuyo/internal/clocksync"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// ErrNotFound is returned when no matching row exists.
var ErrNotFound = errors.New("syncdb: not found")

// Migrations returns the embedded schema migrations.
func Migrations() fs.FS {
	sub, err := fs.Sub(migrationsFS, "migrations")
	if err != nil {
		panic(err)
	}
	return sub
}

type DB struct {
	*sql.DB
	path string
}

// Open opens (creating if needed) the database at path, applies the
// connection pragmas and migrates the schema to the latest version.
func Open(path string) (*DB, error) {
	sqlDB, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// Pragmas below are per connection.
	sqlDB.SetMaxOpenConns(1)
	db := &DB{DB: sqlDB, path: path}
	if err := db.applyPragmas(); err != nil {
		sqlDB.Close()
		return nil, err
	}
	if err := db.MigrateUp(Migrations()); err != nil {
		sqlDB.Close()
		return nil, err
	}
	return db, nil
}

func (db *DB) applyPragmas() error {
	for _, p := range []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA temp_store = MEMORY",
	} {
		if _, err := db.Exec(p); err != nil {
			return fmt.Errorf("failed to apply %q: %w", p, err)
		}
	}
	return nil
}

// SessionRecord is a stored clock synchronization session.
type SessionRecord struct {
	ID            string    `json:"id"`
	SensorAddress string    `json:"sensor_address"`
	Started       time.Time `json:"started"`
	Reason        string    `json:"reason"`
	Samples       int       `json:"samples"`
	EpochOffsetMs int64     `json:"epoch_offset_ms"`
	StdDevMs      float64   `json:"stddev_ms"`
	OffsetsMs     []int64   `json:"offsets_ms"`
}

// RecordSession stores s and returns its generated ID.
func (db *DB) RecordSession(address string, s clocksync.Session) (string, error) {
	offsets, err := json.Marshal(s.OffsetsMs)
	if err != nil {
		return "", err
	}
	id := uuid.NewString()
	_, err = db.Exec(`
		INSERT INTO sync_sessions (
			session_id, sensor_address, started_unix_ms, reason,
			samples, epoch_offset_ms, stddev_ms, offsets_json
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		id, address, s.Started.UnixMilli(), s.Reason,
		len(s.OffsetsMs), s.EpochOffsetMs, s.StdDevMs, string(offsets),
	)
	if err != nil {
		return "", fmt.Errorf("failed to record sync session: %w", err)
	}
	return id, nil
}

// Sessions returns up to limit sessions, newest first. A non-positive limit
// returns all of them.
func (db *DB) Sessions(limit int) ([]SessionRecord, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := db.Query(`
		SELECT session_id, sensor_address, started_unix_ms, reason,
		       samples, epoch_offset_ms, stddev_ms, offsets_json
		FROM sync_sessions
		ORDER BY started_unix_ms DESC, rowid DESC
		LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var sessions []SessionRecord
	for rows.Next() {
		var (
			r         SessionRecord
			startedMs int64
			offsets   string
		)
		if err := rows.Scan(&r.ID, &r.SensorAddress, &startedMs, &r.Reason,
			&r.Samples, &r.EpochOffsetMs, &r.StdDevMs, &offsets); err != nil {
			return nil, err
		}
		r.Started = time.UnixMilli(startedMs).UTC()
		if err := json.Unmarshal([]byte(offsets), &r.OffsetsMs); err != nil {
			return nil, fmt.Errorf("session %s: bad offsets: %w", r.ID, err)
		}
		sessions = append(sessions, r)
	}
	return sessions, rows.Err()
}

// InfoRecord is a stored II, VV or PP reply.
type InfoRecord struct {
	ID            string            `json:"id"`
	SensorAddress string            `json:"sensor_address"`
	Kind          string            `json:"kind"`
	Values        map[string]string `json:"values"`
	Recorded      time.Time         `json:"recorded"`
}

// RecordInfo stores an information reply taken at the given time.
func (db *DB) RecordInfo(address, kind string, values map[string]string, at time.Time) (string, error) {
	data, err := json.Marshal(values)
	if err != nil {
		return "", err
	}
	id := uuid.NewString()
	_, err = db.Exec(`
		INSERT INTO device_info (info_id, sensor_address, kind, values_json, recorded_unix_ms)
		VALUES (?, ?, ?, ?, ?)`,
		id, address, kind, string(data), at.UnixMilli(),
	)
	if err != nil {
		return "", fmt.Errorf("failed to record device info: %w", err)
	}
	return id, nil
}

// LatestInfo returns the newest snapshot of kind for address.
func (db *DB) LatestInfo(address, kind string) (InfoRecord, error) {
	var (
		r          InfoRecord
		values     string
		recordedMs int64
	)
	err := db.QueryRow(`
		SELECT info_id, sensor_address, kind, values_json, recorded_unix_ms
		FROM device_info
		WHERE sensor_address = ? AND kind = ?
		ORDER BY recorded_unix_ms DESC, rowid DESC
		LIMIT 1`, address, kind).Scan(&r.ID, &r.SensorAddress, &r.Kind, &values, &recordedMs)
	if errors.Is(err, sql.ErrNoRows) {
		return InfoRecord{}, ErrNotFound
	}
	if err != nil {
		return InfoRecord{}, err
	}
	r.Recorded = time.UnixMilli(recordedMs).UTC()
	if err := json.Unmarshal([]byte(values), &r.Values); err != nil {
		return InfoRecord{}, fmt.Errorf("info %s: bad values: %w", r.ID, err)
	}
	return r, nil
}

// AttachAdminRoutes mounts a tailsql console over the journal under /debug/.
func (db *DB) AttachAdminRoutes(mux *http.ServeMux) {
	debug := tsweb.Debugger(mux)
	tsql, err := tailsql.NewServer(tailsql.Options{
		RoutePrefix: "/debug/tailsql/",
	})
	if err != nil {
		log.Fatalf("failed to create tailsql server: %v", err)
	}
	tsql.SetDB("sqlite://"+db.path, db.DB, &tailsql.DBOptions{
		Label: "Sync journal",
	})
	debug.Handle("tailsql/", "SQL live debugging", tsql.NewMux())
}
