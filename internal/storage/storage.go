// Package storage persists reaction pipeline data to SQLite or Postgres.
// All writes are best-effort from the caller's point of view: errors are
// returned for logging but must never abort a connection or the aggregator.
package storage

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	_ "github.com/lib/pq"  // Postgres driver
	_ "modernc.org/sqlite" // SQLite driver (pure Go, no CGO)

	"github.com/rs/zerolog"

	"github.com/Mizuir0/live-reaction-system/internal/reaction"
)

// DefaultSQLitePath is used when DATABASE_URL is empty.
const DefaultSQLitePath = "data/live_reaction.db"

const (
	driverSQLite   = "sqlite"
	driverPostgres = "postgres"
)

// Store wraps a database/sql handle over either backend. The schema and the
// exposed operations are identical; only DDL details and placeholder syntax
// differ per driver.
type Store struct {
	db     *sql.DB
	driver string
	label  string // operator-facing description for the health endpoint
	logger zerolog.Logger
}

// Open connects to the database selected by databaseURL and runs migrations.
// A postgres:// or postgresql:// URL selects Postgres; anything else is
// treated as a SQLite file path (empty selects DefaultSQLitePath).
func Open(databaseURL string, logger zerolog.Logger) (*Store, error) {
	s := &Store{logger: logger.With().Str("component", "storage").Logger()}

	if strings.HasPrefix(databaseURL, "postgres://") || strings.HasPrefix(databaseURL, "postgresql://") {
		db, err := sql.Open("postgres", databaseURL)
		if err != nil {
			return nil, fmt.Errorf("open postgres: %w", err)
		}
		s.db = db
		s.driver = driverPostgres
		s.label = "postgres"
	} else {
		path := databaseURL
		if path == "" {
			path = DefaultSQLitePath
		}
		if dir := filepath.Dir(path); dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("create database directory: %w", err)
			}
		}
		// busy_timeout avoids "database locked" errors under the
		// connection writers + aggregator write mix.
		dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)", path)
		db, err := sql.Open("sqlite", dsn)
		if err != nil {
			return nil, fmt.Errorf("open sqlite: %w", err)
		}
		s.db = db
		s.driver = driverSQLite
		s.label = "sqlite:" + path
	}

	if err := s.db.Ping(); err != nil {
		_ = s.db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	if err := s.migrate(); err != nil {
		_ = s.db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	s.logger.Info().Str("backend", s.label).Msg("Database ready")
	return s, nil
}

// Close closes the underlying handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// Label returns the operator-facing backend description ("sqlite:<path>" or
// "postgres") for the health endpoint.
func (s *Store) Label() string {
	return s.label
}

// migrate creates the schema. DDL differs only in the autoincrement spelling.
func (s *Store) migrate() error {
	serial := "INTEGER PRIMARY KEY AUTOINCREMENT"
	if s.driver == driverPostgres {
		serial = "BIGSERIAL PRIMARY KEY"
	}

	stmts := []string{
		`CREATE TABLE IF NOT EXISTS users (
			id TEXT PRIMARY KEY,
			experiment_group TEXT NOT NULL,
			created_at BIGINT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS sessions (
			id TEXT PRIMARY KEY,
			user_id TEXT NOT NULL,
			video_id TEXT NOT NULL,
			started_at BIGINT NOT NULL,
			completed_at BIGINT
		)`,
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS reactions_log (
			id %s,
			user_id TEXT NOT NULL,
			timestamp BIGINT NOT NULL,
			is_smiling BOOLEAN,
			is_surprised BOOLEAN,
			is_concentrating BOOLEAN,
			is_hand_up BOOLEAN,
			nod_count INTEGER,
			sway_vertical_count INTEGER,
			sway_horizontal_count INTEGER,
			shake_head_count INTEGER,
			cheer_count INTEGER,
			clap_count INTEGER,
			video_time REAL,
			session_id TEXT
		)`, serial),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS effects_log (
			id %s,
			timestamp BIGINT NOT NULL,
			effect_type TEXT NOT NULL,
			intensity REAL NOT NULL,
			duration_ms INTEGER NOT NULL,
			session_id TEXT,
			video_time REAL,
			active_users INTEGER
		)`, serial),
		`CREATE INDEX IF NOT EXISTS idx_reactions_user_time ON reactions_log(user_id, timestamp)`,
		`CREATE INDEX IF NOT EXISTS idx_effects_time ON effects_log(timestamp)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return nil
}

// rebind rewrites ? placeholders to $N for Postgres. Queries in this package
// are written with ? and rebound at execution.
func (s *Store) rebind(query string) string {
	if s.driver != driverPostgres {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func (s *Store) exec(query string, args ...any) error {
	_, err := s.db.Exec(s.rebind(query), args...)
	return err
}

// EnsureUser inserts the user row if it does not exist yet. Idempotent: N
// calls with the same id leave exactly one row, with the first-seen group.
func (s *Store) EnsureUser(userID, group string, createdAtMS int64) error {
	return s.exec(
		`INSERT INTO users (id, experiment_group, created_at) VALUES (?, ?, ?)
		 ON CONFLICT (id) DO NOTHING`,
		userID, group, createdAtMS)
}

// LogReaction appends one sample to reactions_log.
func (s *Store) LogReaction(sample reaction.Sample) error {
	return s.exec(
		`INSERT INTO reactions_log (
			user_id, timestamp,
			is_smiling, is_surprised, is_concentrating, is_hand_up,
			nod_count, sway_vertical_count, sway_horizontal_count,
			shake_head_count, cheer_count, clap_count,
			video_time, session_id
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		sample.UserID, sample.ReceivedAtMS,
		sample.States[reaction.StateSmiling],
		sample.States[reaction.StateSurprised],
		sample.States[reaction.StateConcentrating],
		sample.States[reaction.StateHandUp],
		sample.Events[reaction.EventNod],
		sample.Events[reaction.EventSwayVertical],
		sample.Events[reaction.EventSwayHorizontal],
		sample.Events[reaction.EventShakeHead],
		sample.Events[reaction.EventCheer],
		sample.Events[reaction.EventClap],
		nullFloat(sample.VideoTime), nullString(sample.SessionID))
}

// LogEffect appends one effect decision to effects_log.
func (s *Store) LogEffect(e reaction.Effect) error {
	var activeUsers any
	if e.Debug != nil {
		activeUsers = e.Debug.ActiveUsers
	}
	return s.exec(
		`INSERT INTO effects_log (
			timestamp, effect_type, intensity, duration_ms,
			session_id, video_time, active_users
		) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		e.ServerMS, e.Type, e.Intensity, e.DurationMS,
		nullString(e.SessionID), nullFloat(e.VideoTime), activeUsers)
}

// CreateSession records the start of one viewing session. Replaying the same
// session id is a no-op so a retried session_create frame cannot fail.
func (s *Store) CreateSession(sessionID, userID, videoID string, startedAtMS int64) error {
	return s.exec(
		`INSERT INTO sessions (id, user_id, video_id, started_at) VALUES (?, ?, ?, ?)
		 ON CONFLICT (id) DO NOTHING`,
		sessionID, userID, videoID, startedAtMS)
}

// CompleteSession stamps the session's completion time.
func (s *Store) CompleteSession(sessionID string, completedAtMS int64) error {
	return s.exec(
		`UPDATE sessions SET completed_at = ? WHERE id = ?`,
		completedAtMS, sessionID)
}

func nullString(v string) any {
	if v == "" {
		return nil
	}
	return v
}

func nullFloat(v *float64) any {
	if v == nil {
		return nil
	}
	return *v
}
