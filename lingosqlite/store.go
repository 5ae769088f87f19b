// Copyright 2025 LingoCards Authors
// SPDX-License-Identifier: Apache-2.0

package lingosqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/lingocards/go-lingosync/lingosync"
)

// EntityStore is the local entity state the sync engine reads and writes.
// Apply* upsert records keyed by local id; Delete* remove records by the
// server id reported in pull deltas. ReplaceAll installs a full snapshot.
type EntityStore interface {
	ApplyFolders(ctx context.Context, folders []lingosync.Folder) error
	ApplySets(ctx context.Context, sets []lingosync.Set) error
	ApplyCards(ctx context.Context, cards []lingosync.Card) error
	DeleteFolders(ctx context.Context, serverIDs []string) error
	DeleteSets(ctx context.Context, serverIDs []string) error
	DeleteCards(ctx context.Context, serverIDs []string) error
	ApplyStreak(ctx context.Context, streak *lingosync.Streak) error
	ReplaceAll(ctx context.Context, snapshot *lingosync.FullResponse) error

	Folders(ctx context.Context) ([]lingosync.Folder, error)
	SetsInFolder(ctx context.Context, folderLocalID string) ([]lingosync.Set, error)
	CardsInSet(ctx context.Context, setLocalID string) ([]lingosync.Card, error)
	Streak(ctx context.Context) (*lingosync.Streak, error)
}

// SQLiteStore is the EntityStore used by the apps: plain local tables in the
// same database file as the sync queue, one row per live record.
type SQLiteStore struct {
	db *sqlx.DB
}

// NewSQLiteStore creates the entity tables if missing.
func NewSQLiteStore(db *sqlx.DB) (*SQLiteStore, error) {
	tables := []string{
		`CREATE TABLE IF NOT EXISTS folders (
			local_id   TEXT PRIMARY KEY,
			server_id  TEXT,
			name       TEXT NOT NULL,
			flag_code  TEXT NOT NULL,
			ord        INTEGER NOT NULL DEFAULT 0,
			updated_at TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS card_sets (
			local_id        TEXT PRIMARY KEY,
			server_id       TEXT,
			folder_local_id TEXT NOT NULL,
			folder_id       TEXT,
			name            TEXT NOT NULL,
			description     TEXT NOT NULL DEFAULT '',
			card_count      INTEGER NOT NULL DEFAULT 0,
			updated_at      TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS cards (
			local_id     TEXT PRIMARY KEY,
			server_id    TEXT,
			set_local_id TEXT NOT NULL,
			set_id       TEXT,
			front        TEXT NOT NULL,
			back         TEXT NOT NULL,
			example      TEXT NOT NULL DEFAULT '',
			image_url    TEXT NOT NULL DEFAULT '',
			starred      INTEGER NOT NULL DEFAULT 0,
			mastery      TEXT NOT NULL DEFAULT 'not-started',
			scheduling   TEXT,
			updated_at   TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS streak (
			id                 INTEGER PRIMARY KEY CHECK (id = 1),
			current_streak     INTEGER NOT NULL DEFAULT 0,
			longest_streak     INTEGER NOT NULL DEFAULT 0,
			last_activity_date TEXT,
			total_active_days  INTEGER NOT NULL DEFAULT 0
		)`,
		`CREATE INDEX IF NOT EXISTS idx_folders_server ON folders(server_id)`,
		`CREATE INDEX IF NOT EXISTS idx_card_sets_folder ON card_sets(folder_local_id)`,
		`CREATE INDEX IF NOT EXISTS idx_card_sets_server ON card_sets(server_id)`,
		`CREATE INDEX IF NOT EXISTS idx_cards_set ON cards(set_local_id)`,
		`CREATE INDEX IF NOT EXISTS idx_cards_server ON cards(server_id)`,
	}
	for _, table := range tables {
		if _, err := db.Exec(table); err != nil {
			return nil, fmt.Errorf("failed to create entity table: %w", err)
		}
	}
	return &SQLiteStore{db: db}, nil
}

// ApplyFolders upserts folders by local id.
func (s *SQLiteStore) ApplyFolders(ctx context.Context, folders []lingosync.Folder) error {
	for _, f := range folders {
		if err := applyFolderTx(ctx, s.db, f); err != nil {
			return fmt.Errorf("failed to apply folder %s: %w", f.LocalID, err)
		}
	}
	return nil
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func applyFolderTx(ctx context.Context, ex execer, f lingosync.Folder) error {
	_, err := ex.ExecContext(ctx, `
		INSERT INTO folders (local_id, server_id, name, flag_code, ord, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (local_id) DO UPDATE SET
			server_id  = excluded.server_id,
			name       = excluded.name,
			flag_code  = excluded.flag_code,
			ord        = excluded.ord,
			updated_at = excluded.updated_at`,
		f.LocalID, nullString(f.ID), f.Name, f.FlagCode, f.Order, formatTime(f.UpdatedAt))
	return err
}

// ApplySets upserts sets by local id.
func (s *SQLiteStore) ApplySets(ctx context.Context, sets []lingosync.Set) error {
	for _, cs := range sets {
		if err := applySetTx(ctx, s.db, cs); err != nil {
			return fmt.Errorf("failed to apply set %s: %w", cs.LocalID, err)
		}
	}
	return nil
}

func applySetTx(ctx context.Context, ex execer, cs lingosync.Set) error {
	_, err := ex.ExecContext(ctx, `
		INSERT INTO card_sets (local_id, server_id, folder_local_id, folder_id, name, description, card_count, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (local_id) DO UPDATE SET
			server_id       = excluded.server_id,
			folder_local_id = excluded.folder_local_id,
			folder_id       = excluded.folder_id,
			name            = excluded.name,
			description     = excluded.description,
			card_count      = excluded.card_count,
			updated_at      = excluded.updated_at`,
		cs.LocalID, nullString(cs.ID), cs.FolderLocalID, nullString(cs.FolderID),
		cs.Name, cs.Description, cs.CardCount, formatTime(cs.UpdatedAt))
	return err
}

// ApplyCards upserts cards by local id.
func (s *SQLiteStore) ApplyCards(ctx context.Context, cards []lingosync.Card) error {
	for _, c := range cards {
		if err := applyCardTx(ctx, s.db, c); err != nil {
			return fmt.Errorf("failed to apply card %s: %w", c.LocalID, err)
		}
	}
	return nil
}

func applyCardTx(ctx context.Context, ex execer, c lingosync.Card) error {
	mastery := c.Mastery
	if mastery == "" {
		mastery = lingosync.MasteryNotStarted
	}
	var scheduling any
	if len(c.Scheduling) > 0 {
		scheduling = string(c.Scheduling)
	}
	_, err := ex.ExecContext(ctx, `
		INSERT INTO cards (local_id, server_id, set_local_id, set_id, front, back, example, image_url, starred, mastery, scheduling, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (local_id) DO UPDATE SET
			server_id    = excluded.server_id,
			set_local_id = excluded.set_local_id,
			set_id       = excluded.set_id,
			front        = excluded.front,
			back         = excluded.back,
			example      = excluded.example,
			image_url    = excluded.image_url,
			starred      = excluded.starred,
			mastery      = excluded.mastery,
			scheduling   = excluded.scheduling,
			updated_at   = excluded.updated_at`,
		c.LocalID, nullString(c.ID), c.SetLocalID, nullString(c.SetID),
		c.Front, c.Back, c.Example, c.ImageURL, c.Starred, mastery, scheduling, formatTime(c.UpdatedAt))
	return err
}

// DeleteFolders removes folders by server id, cascading to their sets and
// cards so a delta that only lists the folder still leaves no orphans.
func (s *SQLiteStore) DeleteFolders(ctx context.Context, serverIDs []string) error {
	for _, id := range serverIDs {
		_, err := s.db.ExecContext(ctx, `
			DELETE FROM cards WHERE set_local_id IN (
				SELECT local_id FROM card_sets WHERE folder_local_id IN (
					SELECT local_id FROM folders WHERE server_id = ?))`, id)
		if err != nil {
			return fmt.Errorf("failed to delete cards under folder %s: %w", id, err)
		}
		_, err = s.db.ExecContext(ctx, `
			DELETE FROM card_sets WHERE folder_local_id IN (
				SELECT local_id FROM folders WHERE server_id = ?)`, id)
		if err != nil {
			return fmt.Errorf("failed to delete sets under folder %s: %w", id, err)
		}
		if _, err = s.db.ExecContext(ctx, `DELETE FROM folders WHERE server_id = ?`, id); err != nil {
			return fmt.Errorf("failed to delete folder %s: %w", id, err)
		}
	}
	return nil
}

// DeleteSets removes sets by server id along with their cards.
func (s *SQLiteStore) DeleteSets(ctx context.Context, serverIDs []string) error {
	for _, id := range serverIDs {
		_, err := s.db.ExecContext(ctx, `
			DELETE FROM cards WHERE set_local_id IN (
				SELECT local_id FROM card_sets WHERE server_id = ?)`, id)
		if err != nil {
			return fmt.Errorf("failed to delete cards under set %s: %w", id, err)
		}
		if _, err = s.db.ExecContext(ctx, `DELETE FROM card_sets WHERE server_id = ?`, id); err != nil {
			return fmt.Errorf("failed to delete set %s: %w", id, err)
		}
	}
	return nil
}

// DeleteCards removes cards by server id.
func (s *SQLiteStore) DeleteCards(ctx context.Context, serverIDs []string) error {
	for _, id := range serverIDs {
		if _, err := s.db.ExecContext(ctx, `DELETE FROM cards WHERE server_id = ?`, id); err != nil {
			return fmt.Errorf("failed to delete card %s: %w", id, err)
		}
	}
	return nil
}

// ApplyStreak replaces the single streak row.
func (s *SQLiteStore) ApplyStreak(ctx context.Context, streak *lingosync.Streak) error {
	if streak == nil {
		return nil
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO streak (id, current_streak, longest_streak, last_activity_date, total_active_days)
		VALUES (1, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			current_streak     = excluded.current_streak,
			longest_streak     = excluded.longest_streak,
			last_activity_date = excluded.last_activity_date,
			total_active_days  = excluded.total_active_days`,
		streak.CurrentStreak, streak.LongestStreak, nullString(streak.LastActivityDate), streak.TotalActiveDays)
	if err != nil {
		return fmt.Errorf("failed to apply streak: %w", err)
	}
	return nil
}

// ReplaceAll wipes local entity state and installs the server snapshot.
// Runs in one transaction so a failure leaves the previous state intact.
func (s *SQLiteStore) ReplaceAll(ctx context.Context, snapshot *lingosync.FullResponse) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin snapshot transaction: %w", err)
	}
	defer tx.Rollback()

	for _, table := range []string{"cards", "card_sets", "folders", "streak"} {
		if _, err := tx.ExecContext(ctx, `DELETE FROM `+table); err != nil {
			return fmt.Errorf("failed to clear %s: %w", table, err)
		}
	}
	for _, f := range snapshot.Folders {
		if err := applyFolderTx(ctx, tx, f); err != nil {
			return fmt.Errorf("failed to install folder %s: %w", f.LocalID, err)
		}
	}
	for _, cs := range snapshot.Sets {
		if err := applySetTx(ctx, tx, cs); err != nil {
			return fmt.Errorf("failed to install set %s: %w", cs.LocalID, err)
		}
	}
	for _, c := range snapshot.Cards {
		if err := applyCardTx(ctx, tx, c); err != nil {
			return fmt.Errorf("failed to install card %s: %w", c.LocalID, err)
		}
	}
	if snapshot.Streak != nil {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO streak (id, current_streak, longest_streak, last_activity_date, total_active_days)
			VALUES (1, ?, ?, ?, ?)`,
			snapshot.Streak.CurrentStreak, snapshot.Streak.LongestStreak,
			nullString(snapshot.Streak.LastActivityDate), snapshot.Streak.TotalActiveDays)
		if err != nil {
			return fmt.Errorf("failed to install streak: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit snapshot: %w", err)
	}
	return nil
}

// Folders returns all local folders ordered by display order.
func (s *SQLiteStore) Folders(ctx context.Context) ([]lingosync.Folder, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT local_id, server_id, name, flag_code, ord, updated_at
		FROM folders ORDER BY ord, local_id`)
	if err != nil {
		return nil, fmt.Errorf("failed to query folders: %w", err)
	}
	defer rows.Close()

	var folders []lingosync.Folder
	for rows.Next() {
		var f lingosync.Folder
		var serverID sql.NullString
		var updatedAt string
		if err := rows.Scan(&f.LocalID, &serverID, &f.Name, &f.FlagCode, &f.Order, &updatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan folder: %w", err)
		}
		f.ID = serverID.String
		f.UpdatedAt = parseTime(updatedAt)
		folders = append(folders, f)
	}
	return folders, rows.Err()
}

// SetsInFolder returns the sets under a folder.
func (s *SQLiteStore) SetsInFolder(ctx context.Context, folderLocalID string) ([]lingosync.Set, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT local_id, server_id, folder_local_id, folder_id, name, description, card_count, updated_at
		FROM card_sets WHERE folder_local_id = ? ORDER BY local_id`, folderLocalID)
	if err != nil {
		return nil, fmt.Errorf("failed to query sets: %w", err)
	}
	defer rows.Close()

	var sets []lingosync.Set
	for rows.Next() {
		var cs lingosync.Set
		var serverID, folderID sql.NullString
		var updatedAt string
		if err := rows.Scan(&cs.LocalID, &serverID, &cs.FolderLocalID, &folderID,
			&cs.Name, &cs.Description, &cs.CardCount, &updatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan set: %w", err)
		}
		cs.ID = serverID.String
		cs.FolderID = folderID.String
		cs.UpdatedAt = parseTime(updatedAt)
		sets = append(sets, cs)
	}
	return sets, rows.Err()
}

// CardsInSet returns the cards in a set.
func (s *SQLiteStore) CardsInSet(ctx context.Context, setLocalID string) ([]lingosync.Card, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT local_id, server_id, set_local_id, set_id, front, back, example, image_url, starred, mastery, scheduling, updated_at
		FROM cards WHERE set_local_id = ? ORDER BY local_id`, setLocalID)
	if err != nil {
		return nil, fmt.Errorf("failed to query cards: %w", err)
	}
	defer rows.Close()

	var cards []lingosync.Card
	for rows.Next() {
		var c lingosync.Card
		var serverID, setID, scheduling sql.NullString
		var updatedAt string
		if err := rows.Scan(&c.LocalID, &serverID, &c.SetLocalID, &setID,
			&c.Front, &c.Back, &c.Example, &c.ImageURL, &c.Starred, &c.Mastery, &scheduling, &updatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan card: %w", err)
		}
		c.ID = serverID.String
		c.SetID = setID.String
		if scheduling.Valid && scheduling.String != "" {
			c.Scheduling = json.RawMessage(scheduling.String)
		}
		c.UpdatedAt = parseTime(updatedAt)
		cards = append(cards, c)
	}
	return cards, rows.Err()
}

// Streak returns the local streak record, nil when none exists yet.
func (s *SQLiteStore) Streak(ctx context.Context) (*lingosync.Streak, error) {
	var st lingosync.Streak
	var lastActivity sql.NullString
	err := s.db.QueryRowContext(ctx, `
		SELECT current_streak, longest_streak, last_activity_date, total_active_days
		FROM streak WHERE id = 1`).
		Scan(&st.CurrentStreak, &st.LongestStreak, &lastActivity, &st.TotalActiveDays)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query streak: %w", err)
	}
	st.LastActivityDate = lastActivity.String
	return &st, nil
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) time.Time {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t
}
