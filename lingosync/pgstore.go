// Copyright 2025 LingoCards Authors
// SPDX-License-Identifier: Apache-2.0

package lingosync

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PgStore is the PostgreSQL-backed authoritative store.
type PgStore struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

// NewPgStore creates a Postgres store from an existing pool and initializes
// the schema atomically. The caller owns the pool lifecycle.
func NewPgStore(pool *pgxpool.Pool, logger *slog.Logger) (*PgStore, error) {
	if logger == nil {
		logger = slog.Default()
	}
	store := &PgStore{pool: pool, logger: logger}

	ctx := context.Background()
	err := pgx.BeginFunc(ctx, pool, func(tx pgx.Tx) error {
		return store.initializeSchemaInTx(ctx, tx)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize lingosync schema: %w", err)
	}
	logger.Debug("Lingosync schema initialized")
	return store, nil
}

// Pool returns the underlying connection pool for custom queries.
func (p *PgStore) Pool() *pgxpool.Pool {
	return p.pool
}

func (p *PgStore) initializeSchemaInTx(ctx context.Context, tx pgx.Tx) error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS folders (
			id         UUID PRIMARY KEY,
			user_id    TEXT NOT NULL,
			local_id   TEXT NOT NULL,
			name       TEXT NOT NULL,
			flag_code  TEXT NOT NULL,
			ord        INTEGER NOT NULL DEFAULT 0,
			created_at TIMESTAMPTZ NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL,
			deleted_at TIMESTAMPTZ,
			UNIQUE (user_id, local_id)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_folders_user_updated ON folders (user_id, updated_at)`,
		`CREATE INDEX IF NOT EXISTS idx_folders_user_active ON folders (user_id, deleted_at)`,

		`CREATE TABLE IF NOT EXISTS card_sets (
			id          UUID PRIMARY KEY,
			user_id     TEXT NOT NULL,
			folder_id   UUID NOT NULL REFERENCES folders(id),
			local_id    TEXT NOT NULL,
			name        TEXT NOT NULL,
			description TEXT NOT NULL DEFAULT '',
			card_count  INTEGER NOT NULL DEFAULT 0,
			created_at  TIMESTAMPTZ NOT NULL,
			updated_at  TIMESTAMPTZ NOT NULL,
			deleted_at  TIMESTAMPTZ,
			UNIQUE (user_id, local_id)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_card_sets_user_updated ON card_sets (user_id, updated_at)`,
		`CREATE INDEX IF NOT EXISTS idx_card_sets_folder_active ON card_sets (folder_id, deleted_at)`,

		`CREATE TABLE IF NOT EXISTS cards (
			id         UUID PRIMARY KEY,
			user_id    TEXT NOT NULL,
			set_id     UUID NOT NULL REFERENCES card_sets(id),
			local_id   TEXT NOT NULL,
			front      TEXT NOT NULL,
			back       TEXT NOT NULL,
			example    TEXT NOT NULL DEFAULT '',
			image_url  TEXT,
			starred    BOOLEAN NOT NULL DEFAULT FALSE,
			mastery    TEXT NOT NULL DEFAULT 'not-started',
			scheduling JSONB,
			created_at TIMESTAMPTZ NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL,
			deleted_at TIMESTAMPTZ,
			UNIQUE (user_id, local_id)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_cards_user_updated ON cards (user_id, updated_at)`,
		`CREATE INDEX IF NOT EXISTS idx_cards_set_active ON cards (set_id, deleted_at)`,

		`CREATE TABLE IF NOT EXISTS sync_user_state (
			user_id            TEXT PRIMARY KEY,
			last_sync_at       TIMESTAMPTZ,
			settings           JSONB,
			current_streak     INTEGER NOT NULL DEFAULT 0,
			longest_streak     INTEGER NOT NULL DEFAULT 0,
			last_activity_date TEXT,
			total_active_days  INTEGER NOT NULL DEFAULT 0,
			has_streak         BOOLEAN NOT NULL DEFAULT FALSE
		)`,
	}
	for _, stmt := range statements {
		if _, err := tx.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("schema statement failed: %w", err)
		}
	}
	return nil
}

const folderColumns = `id, local_id, name, flag_code, ord, created_at, updated_at, deleted_at`

func scanFolder(row pgx.Row) (*Folder, error) {
	var f Folder
	err := row.Scan(&f.ID, &f.LocalID, &f.Name, &f.FlagCode, &f.Order, &f.CreatedAt, &f.UpdatedAt, &f.DeletedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &f, nil
}

func (p *PgStore) FolderByLocalID(ctx context.Context, userID, localID string) (*Folder, error) {
	row := p.pool.QueryRow(ctx,
		`SELECT `+folderColumns+` FROM folders WHERE user_id = $1 AND local_id = $2`,
		userID, localID)
	return scanFolder(row)
}

func (p *PgStore) FolderByID(ctx context.Context, userID, id string) (*Folder, error) {
	row := p.pool.QueryRow(ctx,
		`SELECT `+folderColumns+` FROM folders WHERE user_id = $1 AND id = $2::uuid`,
		userID, id)
	return scanFolder(row)
}

func (p *PgStore) InsertFolder(ctx context.Context, userID string, f *Folder) error {
	_, err := p.pool.Exec(ctx, `
		INSERT INTO folders (id, user_id, local_id, name, flag_code, ord, created_at, updated_at, deleted_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, f.ID, userID, f.LocalID, f.Name, f.FlagCode, f.Order, f.CreatedAt, f.UpdatedAt, f.DeletedAt)
	return err
}

func (p *PgStore) UpdateFolder(ctx context.Context, userID string, f *Folder) error {
	_, err := p.pool.Exec(ctx, `
		UPDATE folders SET name = $3, flag_code = $4, ord = $5, updated_at = $6
		WHERE user_id = $1 AND local_id = $2
	`, userID, f.LocalID, f.Name, f.FlagCode, f.Order, f.UpdatedAt)
	return err
}

func (p *PgStore) TombstoneFolder(ctx context.Context, userID, localID string, at time.Time) (bool, error) {
	tag, err := p.pool.Exec(ctx, `
		UPDATE folders SET deleted_at = $3, updated_at = $3
		WHERE user_id = $1 AND local_id = $2 AND deleted_at IS NULL
	`, userID, localID, at)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

func (p *PgStore) FoldersChangedSince(ctx context.Context, userID string, since time.Time) ([]Folder, error) {
	rows, err := p.pool.Query(ctx,
		`SELECT `+folderColumns+` FROM folders WHERE user_id = $1 AND updated_at > $2 ORDER BY updated_at, local_id`,
		userID, since)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectFolders(rows)
}

func (p *PgStore) ActiveFolders(ctx context.Context, userID string) ([]Folder, error) {
	rows, err := p.pool.Query(ctx,
		`SELECT `+folderColumns+` FROM folders WHERE user_id = $1 AND deleted_at IS NULL ORDER BY ord, local_id`,
		userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectFolders(rows)
}

func (p *PgStore) MaxFolderOrder(ctx context.Context, userID string) (int, error) {
	var max int
	err := p.pool.QueryRow(ctx,
		`SELECT COALESCE(MAX(ord), 0) FROM folders WHERE user_id = $1`,
		userID).Scan(&max)
	return max, err
}

func collectFolders(rows pgx.Rows) ([]Folder, error) {
	out := []Folder{}
	for rows.Next() {
		var f Folder
		if err := rows.Scan(&f.ID, &f.LocalID, &f.Name, &f.FlagCode, &f.Order, &f.CreatedAt, &f.UpdatedAt, &f.DeletedAt); err != nil {
			return nil, err
		}
		out = append(out, f)
	}
	return out, rows.Err()
}

// Set reads join the parent folder so the wire model carries both the server
// id and the folder's local id.
const setColumns = `s.id, s.local_id, s.folder_id, f.local_id, s.name, s.description, s.card_count, s.created_at, s.updated_at, s.deleted_at`
const setFrom = ` FROM card_sets s JOIN folders f ON f.id = s.folder_id`

func scanSet(row pgx.Row) (*Set, error) {
	var s Set
	err := row.Scan(&s.ID, &s.LocalID, &s.FolderID, &s.FolderLocalID, &s.Name, &s.Description, &s.CardCount, &s.CreatedAt, &s.UpdatedAt, &s.DeletedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &s, nil
}

func (p *PgStore) SetByLocalID(ctx context.Context, userID, localID string) (*Set, error) {
	row := p.pool.QueryRow(ctx,
		`SELECT `+setColumns+setFrom+` WHERE s.user_id = $1 AND s.local_id = $2`,
		userID, localID)
	return scanSet(row)
}

func (p *PgStore) SetByID(ctx context.Context, userID, id string) (*Set, error) {
	row := p.pool.QueryRow(ctx,
		`SELECT `+setColumns+setFrom+` WHERE s.user_id = $1 AND s.id = $2::uuid`,
		userID, id)
	return scanSet(row)
}

func (p *PgStore) InsertSet(ctx context.Context, userID string, s *Set) error {
	_, err := p.pool.Exec(ctx, `
		INSERT INTO card_sets (id, user_id, folder_id, local_id, name, description, card_count, created_at, updated_at, deleted_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`, s.ID, userID, s.FolderID, s.LocalID, s.Name, s.Description, s.CardCount, s.CreatedAt, s.UpdatedAt, s.DeletedAt)
	return err
}

func (p *PgStore) UpdateSet(ctx context.Context, userID string, s *Set) error {
	_, err := p.pool.Exec(ctx, `
		UPDATE card_sets SET name = $3, description = $4, updated_at = $5
		WHERE user_id = $1 AND local_id = $2
	`, userID, s.LocalID, s.Name, s.Description, s.UpdatedAt)
	return err
}

func (p *PgStore) TombstoneSet(ctx context.Context, userID, localID string, at time.Time) (bool, error) {
	tag, err := p.pool.Exec(ctx, `
		UPDATE card_sets SET deleted_at = $3, updated_at = $3
		WHERE user_id = $1 AND local_id = $2 AND deleted_at IS NULL
	`, userID, localID, at)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

func (p *PgStore) SetsChangedSince(ctx context.Context, userID string, since time.Time) ([]Set, error) {
	rows, err := p.pool.Query(ctx,
		`SELECT `+setColumns+setFrom+` WHERE s.user_id = $1 AND s.updated_at > $2 ORDER BY s.updated_at, s.local_id`,
		userID, since)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectSets(rows)
}

func (p *PgStore) ActiveSets(ctx context.Context, userID string) ([]Set, error) {
	rows, err := p.pool.Query(ctx,
		`SELECT `+setColumns+setFrom+` WHERE s.user_id = $1 AND s.deleted_at IS NULL ORDER BY s.local_id`,
		userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectSets(rows)
}

func collectSets(rows pgx.Rows) ([]Set, error) {
	out := []Set{}
	for rows.Next() {
		var s Set
		if err := rows.Scan(&s.ID, &s.LocalID, &s.FolderID, &s.FolderLocalID, &s.Name, &s.Description, &s.CardCount, &s.CreatedAt, &s.UpdatedAt, &s.DeletedAt); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

func (p *PgStore) AdjustCardCount(ctx context.Context, userID, setID string, delta int, at time.Time) error {
	_, err := p.pool.Exec(ctx, `
		UPDATE card_sets SET card_count = GREATEST(card_count + $3, 0), updated_at = $4
		WHERE user_id = $1 AND id = $2::uuid
	`, userID, setID, delta, at)
	return err
}

const cardColumns = `c.id, c.local_id, c.set_id, s.local_id, c.front, c.back, c.example, c.image_url, c.starred, c.mastery, c.scheduling, c.created_at, c.updated_at, c.deleted_at`
const cardFrom = ` FROM cards c JOIN card_sets s ON s.id = c.set_id`

func scanCard(row pgx.Row) (*Card, error) {
	var c Card
	var imageURL *string
	err := row.Scan(&c.ID, &c.LocalID, &c.SetID, &c.SetLocalID, &c.Front, &c.Back, &c.Example, &imageURL, &c.Starred, &c.Mastery, &c.Scheduling, &c.CreatedAt, &c.UpdatedAt, &c.DeletedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if imageURL != nil {
		c.ImageURL = *imageURL
	}
	return &c, nil
}

func (p *PgStore) CardByLocalID(ctx context.Context, userID, localID string) (*Card, error) {
	row := p.pool.QueryRow(ctx,
		`SELECT `+cardColumns+cardFrom+` WHERE c.user_id = $1 AND c.local_id = $2`,
		userID, localID)
	return scanCard(row)
}

func (p *PgStore) InsertCard(ctx context.Context, userID string, c *Card) error {
	_, err := p.pool.Exec(ctx, `
		INSERT INTO cards (id, user_id, set_id, local_id, front, back, example, image_url, starred, mastery, scheduling, created_at, updated_at, deleted_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, NULLIF($8, ''), $9, $10, $11, $12, $13, $14)
	`, c.ID, userID, c.SetID, c.LocalID, c.Front, c.Back, c.Example, c.ImageURL, c.Starred, c.Mastery, c.Scheduling, c.CreatedAt, c.UpdatedAt, c.DeletedAt)
	return err
}

func (p *PgStore) UpdateCard(ctx context.Context, userID string, c *Card) error {
	_, err := p.pool.Exec(ctx, `
		UPDATE cards SET front = $3, back = $4, example = $5, image_url = NULLIF($6, ''),
			starred = $7, mastery = $8, scheduling = $9, updated_at = $10
		WHERE user_id = $1 AND local_id = $2
	`, userID, c.LocalID, c.Front, c.Back, c.Example, c.ImageURL, c.Starred, c.Mastery, c.Scheduling, c.UpdatedAt)
	return err
}

func (p *PgStore) TombstoneCard(ctx context.Context, userID, localID string, at time.Time) (*Card, error) {
	row := p.pool.QueryRow(ctx, `
		UPDATE cards SET deleted_at = $3, updated_at = $3
		WHERE user_id = $1 AND local_id = $2 AND deleted_at IS NULL
		RETURNING id, set_id
	`, userID, localID, at)
	var c Card
	err := row.Scan(&c.ID, &c.SetID)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	c.LocalID = localID
	c.UpdatedAt = at
	c.DeletedAt = &at
	return &c, nil
}

func (p *PgStore) CardsChangedSince(ctx context.Context, userID string, since time.Time) ([]Card, error) {
	rows, err := p.pool.Query(ctx,
		`SELECT `+cardColumns+cardFrom+` WHERE c.user_id = $1 AND c.updated_at > $2 ORDER BY c.updated_at, c.local_id`,
		userID, since)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectCards(rows)
}

func (p *PgStore) ActiveCards(ctx context.Context, userID string) ([]Card, error) {
	rows, err := p.pool.Query(ctx,
		`SELECT `+cardColumns+cardFrom+` WHERE c.user_id = $1 AND c.deleted_at IS NULL ORDER BY c.local_id`,
		userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectCards(rows)
}

func collectCards(rows pgx.Rows) ([]Card, error) {
	out := []Card{}
	for rows.Next() {
		var c Card
		var imageURL *string
		if err := rows.Scan(&c.ID, &c.LocalID, &c.SetID, &c.SetLocalID, &c.Front, &c.Back, &c.Example, &imageURL, &c.Starred, &c.Mastery, &c.Scheduling, &c.CreatedAt, &c.UpdatedAt, &c.DeletedAt); err != nil {
			return nil, err
		}
		if imageURL != nil {
			c.ImageURL = *imageURL
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (p *PgStore) Streak(ctx context.Context, userID string) (*Streak, error) {
	row := p.pool.QueryRow(ctx, `
		SELECT current_streak, longest_streak, COALESCE(last_activity_date, ''), total_active_days, has_streak
		FROM sync_user_state WHERE user_id = $1
	`, userID)
	var st Streak
	var hasStreak bool
	err := row.Scan(&st.CurrentStreak, &st.LongestStreak, &st.LastActivityDate, &st.TotalActiveDays, &hasStreak)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if !hasStreak {
		return nil, nil
	}
	return &st, nil
}

func (p *PgStore) SaveStreak(ctx context.Context, userID string, st *Streak) error {
	_, err := p.pool.Exec(ctx, `
		INSERT INTO sync_user_state (user_id, current_streak, longest_streak, last_activity_date, total_active_days, has_streak)
		VALUES ($1, $2, $3, NULLIF($4, ''), $5, TRUE)
		ON CONFLICT (user_id) DO UPDATE SET
			current_streak = EXCLUDED.current_streak,
			longest_streak = EXCLUDED.longest_streak,
			last_activity_date = EXCLUDED.last_activity_date,
			total_active_days = EXCLUDED.total_active_days,
			has_streak = TRUE
	`, userID, st.CurrentStreak, st.LongestStreak, st.LastActivityDate, st.TotalActiveDays)
	return err
}

func (p *PgStore) Settings(ctx context.Context, userID string) (json.RawMessage, error) {
	row := p.pool.QueryRow(ctx, `SELECT settings FROM sync_user_state WHERE user_id = $1`, userID)
	var raw []byte
	err := row.Scan(&raw)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return raw, nil
}

// SaveSettings stores the opaque settings blob for a user.
func (p *PgStore) SaveSettings(ctx context.Context, userID string, raw json.RawMessage) error {
	_, err := p.pool.Exec(ctx, `
		INSERT INTO sync_user_state (user_id, settings) VALUES ($1, $2)
		ON CONFLICT (user_id) DO UPDATE SET settings = EXCLUDED.settings
	`, userID, raw)
	return err
}

func (p *PgStore) TouchLastSync(ctx context.Context, userID string, at time.Time) error {
	_, err := p.pool.Exec(ctx, `
		INSERT INTO sync_user_state (user_id, last_sync_at) VALUES ($1, $2)
		ON CONFLICT (user_id) DO UPDATE SET last_sync_at = EXCLUDED.last_sync_at
	`, userID, at)
	return err
}
