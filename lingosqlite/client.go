// Package lingosqlite provides the SQLite-backed offline-first sync client
// for lingosync. Local mutations are appended to a durable change queue,
// a dispatcher decides when to talk to the server, and a protocol client
// issues pull/push/full-sync requests and merges the results back into the
// entity store.
//
// Copyright 2025 LingoCards Authors
// SPDX-License-Identifier: Apache-2.0

package lingosqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"

	"github.com/lingocards/go-lingosync/lingosync"
)

// TokenFunc returns a bearer token for sync requests.
type TokenFunc func(ctx context.Context) (string, error)

// Config holds configuration for the sync client.
type Config struct {
	Debounce       time.Duration // window that collapses edit bursts into one push
	StaleAfter     time.Duration // cursor age that triggers a background sync
	StaleCheck     time.Duration // how often the staleness check runs
	RequestTimeout time.Duration
}

// DefaultConfig returns the default client configuration.
func DefaultConfig() *Config {
	return &Config{
		Debounce:       2 * time.Second,
		StaleAfter:     5 * time.Minute,
		StaleCheck:     time.Minute,
		RequestTimeout: 30 * time.Second,
	}
}

// Client is the sync protocol client. It owns the durable change queue and
// the lastSyncAt cursor; entity state is read and written through the
// injected EntityStore.
type Client struct {
	db      *sqlx.DB
	baseURL string
	userID  string
	token   TokenFunc
	store   EntityStore
	queue   *ChangeQueue
	httpc   *http.Client
	config  *Config
	logger  *slog.Logger
}

// NewClient creates a sync client over an open SQLite handle. The queue and
// cursor tables are created if missing so queued changes survive restarts.
func NewClient(db *sqlx.DB, baseURL, userID string, token TokenFunc, store EntityStore, config *Config) (*Client, error) {
	if config == nil {
		config = DefaultConfig()
	}
	if store == nil {
		return nil, fmt.Errorf("entity store must be provided")
	}
	if err := initializeDatabase(db, userID); err != nil {
		return nil, fmt.Errorf("failed to initialize sync database: %w", err)
	}
	return &Client{
		db:      db,
		baseURL: baseURL,
		userID:  userID,
		token:   token,
		store:   store,
		queue:   &ChangeQueue{db: db},
		httpc:   &http.Client{Timeout: config.RequestTimeout},
		config:  config,
		logger:  slog.Default(),
	}, nil
}

// SetLogger replaces the client logger.
func (c *Client) SetLogger(logger *slog.Logger) {
	if logger != nil {
		c.logger = logger
	}
}

// SetHTTPClient replaces the HTTP client (tests install fake transports).
func (c *Client) SetHTTPClient(httpc *http.Client) {
	c.httpc = httpc
}

// Queue returns the durable change queue.
func (c *Client) Queue() *ChangeQueue {
	return c.queue
}

// Store returns the injected entity store.
func (c *Client) Store() EntityStore {
	return c.store
}

func initializeDatabase(db *sqlx.DB, userID string) error {
	if _, err := db.Exec(`PRAGMA journal_mode=WAL`); err != nil {
		return fmt.Errorf("failed to enable WAL mode: %w", err)
	}
	if _, err := db.Exec(`PRAGMA foreign_keys=ON`); err != nil {
		return fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	tables := []string{
		// Cursor and identity (one row per signed-in user)
		`CREATE TABLE IF NOT EXISTS _sync_client_info (
			user_id      TEXT NOT NULL,
			last_sync_at TEXT,
			PRIMARY KEY (user_id)
		)`,

		// Durable, ordered change queue. Append-only; cleared in full after
		// an acknowledged push.
		`CREATE TABLE IF NOT EXISTS _sync_queue (
			seq         INTEGER PRIMARY KEY AUTOINCREMENT,
			entity_kind TEXT NOT NULL CHECK (entity_kind IN ('folder','set','card','streak')),
			action      TEXT NOT NULL CHECK (action IN ('upsert','delete')),
			payload     TEXT NOT NULL,
			enqueued_at TEXT NOT NULL DEFAULT (strftime('%Y-%m-%dT%H:%M:%fZ','now'))
		)`,
	}
	for _, table := range tables {
		if _, err := db.Exec(table); err != nil {
			return fmt.Errorf("failed to create sync table: %w", err)
		}
	}

	_, err := db.Exec(`INSERT OR IGNORE INTO _sync_client_info (user_id, last_sync_at) VALUES (?, NULL)`, userID)
	if err != nil {
		return fmt.Errorf("failed to seed client info: %w", err)
	}
	return nil
}

// Cursor returns the persisted lastSyncAt watermark, nil when the client has
// never completed a sync.
func (c *Client) Cursor(ctx context.Context) (*time.Time, error) {
	var raw sql.NullString
	err := c.db.QueryRowContext(ctx,
		`SELECT last_sync_at FROM _sync_client_info WHERE user_id = ?`, c.userID).Scan(&raw)
	if err != nil {
		return nil, fmt.Errorf("failed to read sync cursor: %w", err)
	}
	if !raw.Valid || raw.String == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339Nano, raw.String)
	if err != nil {
		return nil, fmt.Errorf("failed to parse sync cursor %q: %w", raw.String, err)
	}
	return &t, nil
}

func (c *Client) setCursorInTx(tx *sqlx.Tx, at time.Time) error {
	_, err := tx.Exec(`UPDATE _sync_client_info SET last_sync_at = ? WHERE user_id = ?`,
		at.UTC().Format(time.RFC3339Nano), c.userID)
	return err
}

// EnqueueFolder records a folder upsert for the next push. The append is
// durable before return, so a crash after a UI mutation never drops it.
func (c *Client) EnqueueFolder(ctx context.Context, f lingosync.Folder) error {
	return c.queue.Enqueue(ctx, lingosync.KindFolder, lingosync.ActionUpsert, f)
}

// EnqueueFolderDelete records a folder deletion for the next push.
func (c *Client) EnqueueFolderDelete(ctx context.Context, localID string) error {
	return c.queue.Enqueue(ctx, lingosync.KindFolder, lingosync.ActionDelete, deletePayload{LocalID: localID})
}

// EnqueueSet records a set upsert for the next push.
func (c *Client) EnqueueSet(ctx context.Context, s lingosync.Set) error {
	return c.queue.Enqueue(ctx, lingosync.KindSet, lingosync.ActionUpsert, s)
}

// EnqueueSetDelete records a set deletion for the next push.
func (c *Client) EnqueueSetDelete(ctx context.Context, localID string) error {
	return c.queue.Enqueue(ctx, lingosync.KindSet, lingosync.ActionDelete, deletePayload{LocalID: localID})
}

// EnqueueCard records a card upsert for the next push.
func (c *Client) EnqueueCard(ctx context.Context, card lingosync.Card) error {
	return c.queue.Enqueue(ctx, lingosync.KindCard, lingosync.ActionUpsert, card)
}

// EnqueueCardDelete records a card deletion for the next push.
func (c *Client) EnqueueCardDelete(ctx context.Context, localID string) error {
	return c.queue.Enqueue(ctx, lingosync.KindCard, lingosync.ActionDelete, deletePayload{LocalID: localID})
}

// EnqueueStreak records the latest streak for the next push. The server
// replaces its copy wholesale.
func (c *Client) EnqueueStreak(ctx context.Context, st lingosync.Streak) error {
	return c.queue.Enqueue(ctx, lingosync.KindStreak, lingosync.ActionUpsert, st)
}

type deletePayload struct {
	LocalID string `json:"localId"`
}

func decodeDeletePayload(raw json.RawMessage) (string, error) {
	var dp deletePayload
	if err := json.Unmarshal(raw, &dp); err != nil {
		return "", err
	}
	if dp.LocalID == "" {
		return "", errors.New("delete payload missing localId")
	}
	return dp.LocalID, nil
}
