// Copyright 2025 LingoCards Authors
// SPDX-License-Identifier: Apache-2.0

package lingosync

import (
	"context"
	"encoding/json"
	"time"
)

// Store is the authoritative server-side store for one deployment. All
// operations are scoped to a user; records keep creation and modification
// timestamps and a soft-delete marker, and are physically removed never.
//
// Lookups by local id include tombstoned records - push reconciliation must
// see tombstones to refuse resurrection. Lookups that say "active" exclude
// them. A nil entity with a nil error means "not found".
type Store interface {
	// Folders.
	FolderByLocalID(ctx context.Context, userID, localID string) (*Folder, error)
	FolderByID(ctx context.Context, userID, id string) (*Folder, error)
	InsertFolder(ctx context.Context, userID string, f *Folder) error
	UpdateFolder(ctx context.Context, userID string, f *Folder) error
	// TombstoneFolder sets deletedAt; it reports false when the folder is
	// absent or already tombstoned.
	TombstoneFolder(ctx context.Context, userID, localID string, at time.Time) (bool, error)
	FoldersChangedSince(ctx context.Context, userID string, since time.Time) ([]Folder, error)
	ActiveFolders(ctx context.Context, userID string) ([]Folder, error)
	// MaxFolderOrder returns the highest display order among the user's
	// folders, tombstoned included, or 0 when there are none.
	MaxFolderOrder(ctx context.Context, userID string) (int, error)

	// Sets.
	SetByLocalID(ctx context.Context, userID, localID string) (*Set, error)
	SetByID(ctx context.Context, userID, id string) (*Set, error)
	InsertSet(ctx context.Context, userID string, s *Set) error
	UpdateSet(ctx context.Context, userID string, s *Set) error
	TombstoneSet(ctx context.Context, userID, localID string, at time.Time) (bool, error)
	SetsChangedSince(ctx context.Context, userID string, since time.Time) ([]Set, error)
	ActiveSets(ctx context.Context, userID string) ([]Set, error)
	// AdjustCardCount shifts the denormalized counter on a set by delta and
	// bumps the set's updatedAt so peers pick the new count up on pull. The
	// counter is a performance hint, never a constraint source.
	AdjustCardCount(ctx context.Context, userID, setID string, delta int, at time.Time) error

	// Cards.
	CardByLocalID(ctx context.Context, userID, localID string) (*Card, error)
	InsertCard(ctx context.Context, userID string, c *Card) error
	UpdateCard(ctx context.Context, userID string, c *Card) error
	// TombstoneCard returns the card as it was when newly tombstoned so the
	// caller can adjust the owning set's counter; nil when absent or already
	// tombstoned.
	TombstoneCard(ctx context.Context, userID, localID string, at time.Time) (*Card, error)
	CardsChangedSince(ctx context.Context, userID string, since time.Time) ([]Card, error)
	ActiveCards(ctx context.Context, userID string) ([]Card, error)

	// Per-user state.
	Streak(ctx context.Context, userID string) (*Streak, error)
	SaveStreak(ctx context.Context, userID string, st *Streak) error
	Settings(ctx context.Context, userID string) (json.RawMessage, error)
	TouchLastSync(ctx context.Context, userID string, at time.Time) error
}
