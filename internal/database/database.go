package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/vincentbai/browsetrace/internal/models"
	"github.com/vincentbai/browsetrace/internal/store"
	_ "modernc.org/sqlite" // CGO-free SQLite
)

type Database struct {
	db              *sql.DB
	validEventTypes map[models.Kind]bool
}

func NewDatabase(databasePath string) (*Database, error) {
	// WAL + busy timeout to avoid "database is locked"
	db, err := sql.Open("sqlite", databasePath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := createTables(db); err != nil {
		db.Close()
		return nil, err
	}

	return &Database{
		db: db,
		validEventTypes: map[models.Kind]bool{
			models.KindClick:    true,
			models.KindInput:    true,
			models.KindKeyPress: true,
			models.KindRequest:  true,
			models.KindResponse: true,
		},
	}, nil
}

func createTables(db *sql.DB) error {
	_, err := db.Exec(`
	CREATE TABLE IF NOT EXISTS sessions(
	  id            TEXT    PRIMARY KEY,
	  start_url     TEXT    NOT NULL DEFAULT '',
	  created_at    TEXT    NOT NULL,
	  viewport_json TEXT    CHECK (viewport_json IS NULL OR json_valid(viewport_json))
	);
	CREATE TABLE IF NOT EXISTS events(
	  session_id TEXT    NOT NULL,
	  seq        INTEGER NOT NULL,
	  ts         INTEGER NOT NULL,
	  type       TEXT    NOT NULL CHECK (type IN ('click','input','keydown','network-request','network-response')),
	  data_json  TEXT    NOT NULL CHECK (json_valid(data_json)),
	  PRIMARY KEY (session_id, seq)
	);
	CREATE TABLE IF NOT EXISTS summaries(
	  session_id TEXT PRIMARY KEY,
	  body       TEXT NOT NULL,
	  updated_at TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_events_type ON events(type);
	`)
	if err != nil {
		return fmt.Errorf("failed to create database tables: %w", err)
	}
	return nil
}

func (d *Database) Close() error {
	return d.db.Close()
}

func (d *Database) ValidateEvent(event models.Event) error {
	if event.Type == "" {
		return fmt.Errorf("Type cannot be empty")
	}
	if !d.validEventTypes[event.Type] {
		return fmt.Errorf("invalid event type: %s", event.Type)
	}
	if event.TS < 0 {
		return fmt.Errorf("timestamp cannot be negative")
	}
	return event.Validate()
}

// Save replaces the stored session id with log in a single transaction.
func (d *Database) Save(ctx context.Context, id string, log *models.Log) error {
	if err := store.ValidateID(id); err != nil {
		return err
	}

	var viewport any
	if log.Viewport != nil {
		data, err := json.Marshal(log.Viewport)
		if err != nil {
			return fmt.Errorf("failed to marshal viewport: %w", err)
		}
		viewport = string(data)
	}

	transaction, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer transaction.Rollback()

	if _, err := transaction.ExecContext(ctx, `
	INSERT INTO sessions(id, start_url, created_at, viewport_json) VALUES(?,?,?,?)
	ON CONFLICT(id) DO UPDATE SET start_url = excluded.start_url, created_at = excluded.created_at, viewport_json = excluded.viewport_json`,
		id, log.StartURL, log.CreatedAt.UTC().Format(time.RFC3339Nano), viewport); err != nil {
		return fmt.Errorf("failed to upsert session: %w", err)
	}
	if _, err := transaction.ExecContext(ctx, `DELETE FROM events WHERE session_id = ?`, id); err != nil {
		return fmt.Errorf("failed to clear events: %w", err)
	}

	statement, err := transaction.PrepareContext(ctx, `INSERT INTO events(session_id, seq, ts, type, data_json) VALUES(?,?,?,?,json(?))`)
	if err != nil {
		return fmt.Errorf("failed to prepare statement: %w", err)
	}
	defer statement.Close()

	for seq, event := range log.Events {
		if err := d.ValidateEvent(event); err != nil {
			return fmt.Errorf("invalid event %d: %w", seq, err)
		}
		jsonData, err := json.Marshal(event)
		if err != nil {
			return fmt.Errorf("failed to marshal event data: %w", err)
		}
		if _, err := statement.ExecContext(ctx, id, seq, event.TS, string(event.Type), string(jsonData)); err != nil {
			return fmt.Errorf("failed to execute statement: %w", err)
		}
	}
	if err := transaction.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

func (d *Database) SaveSummary(ctx context.Context, id string, log *models.Log) error {
	if err := store.ValidateID(id); err != nil {
		return err
	}
	_, err := d.db.ExecContext(ctx, `
	INSERT INTO summaries(session_id, body, updated_at) VALUES(?,?,?)
	ON CONFLICT(session_id) DO UPDATE SET body = excluded.body, updated_at = excluded.updated_at`,
		id, store.RenderSummary(log), time.Now().UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("failed to save summary: %w", err)
	}
	return nil
}

func (d *Database) Load(ctx context.Context, id string) (*models.Log, error) {
	if err := store.ValidateID(id); err != nil {
		return nil, err
	}

	log := &models.Log{ID: id, Events: make([]models.Event, 0)}
	var createdAt string
	var viewport sql.NullString
	err := d.db.QueryRowContext(ctx, `SELECT start_url, created_at, viewport_json FROM sessions WHERE id = ?`, id).
		Scan(&log.StartURL, &createdAt, &viewport)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", store.ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query session: %w", err)
	}
	if log.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAt); err != nil {
		return nil, fmt.Errorf("failed to parse created_at: %w", err)
	}
	if viewport.Valid {
		log.Viewport = &models.Viewport{}
		if err := json.Unmarshal([]byte(viewport.String), log.Viewport); err != nil {
			return nil, fmt.Errorf("failed to unmarshal viewport: %w", err)
		}
	}

	rows, err := d.db.QueryContext(ctx, `SELECT data_json FROM events WHERE session_id = ? ORDER BY seq`, id)
	if err != nil {
		return nil, fmt.Errorf("failed to query events: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}
		var event models.Event
		if err := json.Unmarshal([]byte(data), &event); err != nil {
			return nil, fmt.Errorf("failed to unmarshal event: %w", err)
		}
		log.Append(event)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate events: %w", err)
	}
	return log, nil
}

// Summary returns the stored text summary of a session.
func (d *Database) Summary(ctx context.Context, id string) (string, error) {
	var body string
	err := d.db.QueryRowContext(ctx, `SELECT body FROM summaries WHERE session_id = ?`, id).Scan(&body)
	if errors.Is(err, sql.ErrNoRows) {
		return "", fmt.Errorf("%w: %s", store.ErrNotFound, id)
	}
	if err != nil {
		return "", fmt.Errorf("failed to query summary: %w", err)
	}
	return body, nil
}

var _ store.Store = (*Database)(nil)
