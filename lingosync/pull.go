// Copyright 2025 LingoCards Authors
// SPDX-License-Identifier: Apache-2.0

package lingosync

import (
	"context"
	"fmt"
	"time"
)

// ProcessPull computes the delta since the given cursor. Every record with
// updatedAt > since is fetched and classified: created when the cursor
// predates its existence (createdAt > since), updated otherwise, and
// tombstoned records are reported in the deleted list by server id only,
// irrespective of the created/updated split.
func (s *SyncService) ProcessPull(ctx context.Context, userID string, since time.Time) (*PullResponse, error) {
	now := s.now().UTC()
	since = since.UTC()

	resp := &PullResponse{
		Folders:    FolderDelta{Created: []Folder{}, Updated: []Folder{}, Deleted: []string{}},
		Sets:       SetDelta{Created: []Set{}, Updated: []Set{}, Deleted: []string{}},
		Cards:      CardDelta{Created: []Card{}, Updated: []Card{}, Deleted: []string{}},
		ServerTime: now,
	}

	folders, err := s.store.FoldersChangedSince(ctx, userID, since)
	if err != nil {
		return nil, fmt.Errorf("failed to load folder delta: %w", err)
	}
	for _, f := range folders {
		switch {
		case f.DeletedAt != nil:
			resp.Folders.Deleted = append(resp.Folders.Deleted, f.ID)
		case f.CreatedAt.After(since):
			resp.Folders.Created = append(resp.Folders.Created, f)
		default:
			resp.Folders.Updated = append(resp.Folders.Updated, f)
		}
	}

	sets, err := s.store.SetsChangedSince(ctx, userID, since)
	if err != nil {
		return nil, fmt.Errorf("failed to load set delta: %w", err)
	}
	for _, st := range sets {
		switch {
		case st.DeletedAt != nil:
			resp.Sets.Deleted = append(resp.Sets.Deleted, st.ID)
		case st.CreatedAt.After(since):
			resp.Sets.Created = append(resp.Sets.Created, st)
		default:
			resp.Sets.Updated = append(resp.Sets.Updated, st)
		}
	}

	cards, err := s.store.CardsChangedSince(ctx, userID, since)
	if err != nil {
		return nil, fmt.Errorf("failed to load card delta: %w", err)
	}
	for _, c := range cards {
		switch {
		case c.DeletedAt != nil:
			resp.Cards.Deleted = append(resp.Cards.Deleted, c.ID)
		case c.CreatedAt.After(since):
			resp.Cards.Created = append(resp.Cards.Created, c)
		default:
			resp.Cards.Updated = append(resp.Cards.Updated, c)
		}
	}

	streak, err := s.store.Streak(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to load streak: %w", err)
	}
	resp.Streak = streak

	if err := s.store.TouchLastSync(ctx, userID, now); err != nil {
		return nil, fmt.Errorf("failed to record sync time: %w", err)
	}

	s.logger.Debug("Pull delta computed",
		"user_id", userID,
		"since", since,
		"folders", len(folders),
		"sets", len(sets),
		"cards", len(cards),
	)
	return resp, nil
}
