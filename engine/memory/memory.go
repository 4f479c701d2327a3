// Package memory implements the SQLite-backed project memory store used by
// local runtime environments: an append-only agent event log, per-file state
// tracking, and an embeddings table, one database per project root.
package memory

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/all-hands-ai/openhands/pkg/logger"
	// Register modernc SQLite driver with database/sql.
	_ "modernc.org/sqlite"
)

// SchemaVersion is recorded in the meta table on initialization.
const SchemaVersion = "1.0"

// relative locations under the project root
const (
	openhandsDirName = ".openhands"
	memoryDirName    = ".memory"
	databaseFileName = "agent.sqlite"
	gitignoreEntry   = ".openhands/.memory/"
)

// ErrNotConnected is returned by operations invoked before Connect or Init.
var ErrNotConnected = errors.New("memory: database not connected")

// ProjectMemory manages one project's memory database. It holds a single
// connection; callers must Close it explicitly.
type ProjectMemory struct {
	projectRoot string
	memoryDir   string
	dbPath      string
	db          *sql.DB
}

// Event is one row of the append-only agent event log. Data carries the
// summary re-parsed as JSON when the stored text looks like JSON, otherwise
// the raw summary string.
type Event struct {
	ID        int64   `json:"id"`
	Timestamp float64 `json:"ts"`
	Kind      string  `json:"kind"`
	Summary   string  `json:"summary"`
	Details   string  `json:"details,omitempty"`
	Data      any     `json:"data"`
}

// FileState is the most recent known state of one tracked file.
type FileState struct {
	Path     string  `json:"path"`
	LastHash string  `json:"last_hash"`
	LastSeen float64 `json:"last_seen"`
}

// Status reports database location, connectivity, and row counts.
type Status struct {
	DBPath         string   `json:"db_path"`
	Exists         bool     `json:"exists"`
	Connected      bool     `json:"connected"`
	SchemaVersion  string   `json:"schema_version,omitempty"`
	EventCount     int64    `json:"event_count"`
	FileCount      int64    `json:"file_count"`
	EmbeddingCount int64    `json:"embedding_count"`
	LastEventTS    *float64 `json:"last_event_ts,omitempty"`
}

// NewProjectMemory creates a project memory handle rooted at projectRoot.
// The database is not opened; call Connect or Init. The .openhands directory
// is created eagerly and a .gitignore suggestion is logged when the memory
// directory is not ignored.
func NewProjectMemory(ctx context.Context, projectRoot string) *ProjectMemory {
	memoryDir := filepath.Join(projectRoot, openhandsDirName, memoryDirName)
	m := &ProjectMemory{
		projectRoot: projectRoot,
		memoryDir:   memoryDir,
		dbPath:      filepath.Join(memoryDir, databaseFileName),
	}
	m.validateProjectLayout(ctx)
	return m
}

// validateProjectLayout ensures the .openhands directory exists and nudges
// the user to gitignore the memory database.
func (m *ProjectMemory) validateProjectLayout(ctx context.Context) {
	log := logger.FromContext(ctx)
	openhandsDir := filepath.Join(m.projectRoot, openhandsDirName)
	if _, err := os.Stat(openhandsDir); err != nil {
		log.Debug("creating .openhands directory", "path", openhandsDir)
		if err := os.MkdirAll(openhandsDir, 0o755); err != nil {
			log.Warn("failed to create .openhands directory", "path", openhandsDir, "error", err)
		}
	}
	gitignorePath := filepath.Join(m.projectRoot, ".gitignore")
	needsEntry := true
	if raw, err := os.ReadFile(gitignorePath); err == nil {
		if strings.Contains(string(raw), gitignoreEntry) {
			needsEntry = false
		}
	} else if !errors.Is(err, os.ErrNotExist) {
		log.Warn("could not read .gitignore", "path", gitignorePath, "error", err)
	}
	if needsEntry {
		log.Info("consider adding '.openhands/.memory/' to .gitignore to avoid committing the project memory database")
	}
}

// DBPath returns the database file location.
func (m *ProjectMemory) DBPath() string { return m.dbPath }

// Init creates the memory directory and database, applies the schema, and
// records the schema version. Safe to call on an existing database.
func (m *ProjectMemory) Init(ctx context.Context) error {
	if err := os.MkdirAll(m.memoryDir, 0o755); err != nil {
		return fmt.Errorf("memory: create memory directory: %w", err)
	}
	db, err := m.open()
	if err != nil {
		return err
	}
	if err := applyMigrations(ctx, db); err != nil {
		_ = db.Close()
		return err
	}
	m.db = db
	if err := m.SetMeta(ctx, "schema_version", SchemaVersion); err != nil {
		_ = m.Close()
		return err
	}
	logger.FromContext(ctx).Info("project memory initialized", "path", m.dbPath)
	return nil
}

// Connect opens an existing database. It fails when the database file does
// not exist; use Init to create one.
func (m *ProjectMemory) Connect(ctx context.Context) error {
	if _, err := os.Stat(m.dbPath); err != nil {
		return fmt.Errorf("memory: database not found at %s: %w", m.dbPath, err)
	}
	db, err := m.open()
	if err != nil {
		return err
	}
	m.db = db
	logger.FromContext(ctx).Info("connected to project memory", "path", m.dbPath)
	return nil
}

func (m *ProjectMemory) open() (*sql.DB, error) {
	db, err := sql.Open("sqlite", "file:"+m.dbPath+"?_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("memory: open database: %w", err)
	}
	// One connection per instance, no pooling.
	db.SetMaxOpenConns(1)
	return db, nil
}

// IsConnected reports whether the database is open.
func (m *ProjectMemory) IsConnected() bool { return m.db != nil }

// Close closes the database connection. Safe to call when not connected.
func (m *ProjectMemory) Close() error {
	if m.db == nil {
		return nil
	}
	err := m.db.Close()
	m.db = nil
	return err
}

// SetMeta upserts a metadata key.
func (m *ProjectMemory) SetMeta(ctx context.Context, key, value string) error {
	if m.db == nil {
		return ErrNotConnected
	}
	const q = `INSERT OR REPLACE INTO meta (key, value) VALUES (?, ?)`
	if _, err := m.db.ExecContext(ctx, q, key, value); err != nil {
		return fmt.Errorf("memory: set meta %s: %w", key, err)
	}
	return nil
}

// GetMeta reads a metadata key, returning "" when absent.
func (m *ProjectMemory) GetMeta(ctx context.Context, key string) (string, error) {
	if m.db == nil {
		return "", ErrNotConnected
	}
	const q = `SELECT value FROM meta WHERE key = ?`
	var value string
	if err := m.db.QueryRowContext(ctx, q, key).Scan(&value); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", nil
		}
		return "", fmt.Errorf("memory: get meta %s: %w", key, err)
	}
	return value, nil
}

// LogEvent appends one event. A map or slice summary is stored as JSON;
// anything else is stored via its string form. Details may be empty.
func (m *ProjectMemory) LogEvent(ctx context.Context, kind string, summary any, details string) error {
	if m.db == nil {
		return ErrNotConnected
	}
	summaryStr, err := encodeSummary(summary)
	if err != nil {
		return fmt.Errorf("memory: encode event summary: %w", err)
	}
	var detailsVal any
	if details != "" {
		detailsVal = details
	}
	const q = `INSERT INTO events (ts, kind, summary, details) VALUES (?, ?, ?, ?)`
	if _, err := m.db.ExecContext(ctx, q, nowTS(), kind, summaryStr, detailsVal); err != nil {
		return fmt.Errorf("memory: log event: %w", err)
	}
	logger.FromContext(ctx).Debug("logged event", "kind", kind, "summary", summaryStr)
	return nil
}

func encodeSummary(summary any) (string, error) {
	switch v := summary.(type) {
	case string:
		return v, nil
	case nil:
		return "", nil
	default:
		raw, err := json.Marshal(v)
		if err != nil {
			return "", err
		}
		return string(raw), nil
	}
}

// GetEvents returns the most recent events, newest first. An empty kind
// matches all events.
func (m *ProjectMemory) GetEvents(ctx context.Context, kind string, limit int) ([]Event, error) {
	if m.db == nil {
		return nil, ErrNotConnected
	}
	if limit <= 0 {
		limit = 100
	}
	var (
		rows *sql.Rows
		err  error
	)
	if kind != "" {
		const q = `SELECT id, ts, kind, summary, details FROM events WHERE kind = ? ORDER BY ts DESC LIMIT ?`
		rows, err = m.db.QueryContext(ctx, q, kind, limit)
	} else {
		const q = `SELECT id, ts, kind, summary, details FROM events ORDER BY ts DESC LIMIT ?`
		rows, err = m.db.QueryContext(ctx, q, limit)
	}
	if err != nil {
		return nil, fmt.Errorf("memory: query events: %w", err)
	}
	defer rows.Close()
	var out []Event
	for rows.Next() {
		var (
			event   Event
			summary sql.NullString
			details sql.NullString
		)
		if err := rows.Scan(&event.ID, &event.Timestamp, &event.Kind, &summary, &details); err != nil {
			return nil, fmt.Errorf("memory: scan event: %w", err)
		}
		event.Summary = summary.String
		event.Details = details.String
		event.Data = decodeSummary(event.Summary)
		out = append(out, event)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("memory: iter events: %w", err)
	}
	return out, nil
}

// decodeSummary re-parses JSON-looking summaries so callers get structured
// data back; anything else passes through as the raw string.
func decodeSummary(summary string) any {
	trimmed := strings.TrimSpace(summary)
	if strings.HasPrefix(trimmed, "{") || strings.HasPrefix(trimmed, "[") {
		var data any
		if err := json.Unmarshal([]byte(trimmed), &data); err == nil {
			return data
		}
	}
	return summary
}

// UpdateFileState upserts the tracked state for one file path.
func (m *ProjectMemory) UpdateFileState(ctx context.Context, path, fileHash string) error {
	if m.db == nil {
		return ErrNotConnected
	}
	const q = `INSERT OR REPLACE INTO files (path, last_hash, last_seen) VALUES (?, ?, ?)`
	if _, err := m.db.ExecContext(ctx, q, path, fileHash, nowTS()); err != nil {
		return fmt.Errorf("memory: update file state: %w", err)
	}
	return nil
}

// GetFileState returns the tracked state for a path, or nil when untracked.
func (m *ProjectMemory) GetFileState(ctx context.Context, path string) (*FileState, error) {
	if m.db == nil {
		return nil, ErrNotConnected
	}
	const q = `SELECT path, last_hash, last_seen FROM files WHERE path = ?`
	var state FileState
	if err := m.db.QueryRowContext(ctx, q, path).Scan(&state.Path, &state.LastHash, &state.LastSeen); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("memory: get file state: %w", err)
	}
	return &state, nil
}

// AddEmbedding appends one embedding chunk for a file path.
func (m *ProjectMemory) AddEmbedding(ctx context.Context, path string, chunkStart, chunkEnd int, vector []byte) error {
	if m.db == nil {
		return ErrNotConnected
	}
	const q = `INSERT INTO embeddings (path, chunk_start, chunk_end, vector) VALUES (?, ?, ?, ?)`
	if _, err := m.db.ExecContext(ctx, q, path, chunkStart, chunkEnd, vector); err != nil {
		return fmt.Errorf("memory: add embedding: %w", err)
	}
	return nil
}

// Status reports database state and row counts. Counts are zero when not
// connected.
func (m *ProjectMemory) Status(ctx context.Context) (*Status, error) {
	status := &Status{DBPath: m.dbPath, Connected: m.IsConnected()}
	if _, err := os.Stat(m.dbPath); err == nil {
		status.Exists = true
	}
	if m.db == nil {
		return status, nil
	}
	version, err := m.GetMeta(ctx, "schema_version")
	if err != nil {
		return nil, err
	}
	status.SchemaVersion = version
	for _, c := range []struct {
		query string
		dest  *int64
	}{
		{`SELECT COUNT(*) FROM events`, &status.EventCount},
		{`SELECT COUNT(*) FROM files`, &status.FileCount},
		{`SELECT COUNT(*) FROM embeddings`, &status.EmbeddingCount},
	} {
		if err := m.db.QueryRowContext(ctx, c.query).Scan(c.dest); err != nil {
			return nil, fmt.Errorf("memory: count rows: %w", err)
		}
	}
	var lastTS sql.NullFloat64
	if err := m.db.QueryRowContext(ctx, `SELECT MAX(ts) FROM events`).Scan(&lastTS); err != nil {
		return nil, fmt.Errorf("memory: last event timestamp: %w", err)
	}
	if lastTS.Valid {
		status.LastEventTS = &lastTS.Float64
	}
	return status, nil
}

// CreateProjectMemory builds project memory for a runtime environment. It
// returns nil (and no error) for non-local runtimes. An existing database is
// connected to; otherwise a new one is initialized.
func CreateProjectMemory(ctx context.Context, projectRoot, runtimeEnv string) (*ProjectMemory, error) {
	log := logger.FromContext(ctx)
	if runtimeEnv != "local" {
		log.Debug("skipping project memory for runtime", "runtime", runtimeEnv)
		return nil, nil
	}
	m := NewProjectMemory(ctx, projectRoot)
	if err := m.Connect(ctx); err == nil {
		return m, nil
	}
	if err := m.Init(ctx); err != nil {
		return nil, fmt.Errorf("failed to create project memory: %w", err)
	}
	return m, nil
}

func nowTS() float64 {
	return float64(time.Now().UnixNano()) / float64(time.Second)
}
