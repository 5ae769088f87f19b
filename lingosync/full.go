// Copyright 2025 LingoCards Authors
// SPDX-License-Identifier: Apache-2.0

package lingosync

import (
	"context"
	"fmt"
)

// ProcessFull returns the complete non-deleted hierarchy for a user, used on
// first login on a device or for explicit recovery. Clients replace their
// local state wholesale with this snapshot instead of merging.
func (s *SyncService) ProcessFull(ctx context.Context, userID string) (*FullResponse, error) {
	now := s.now().UTC()

	folders, err := s.store.ActiveFolders(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to load folders: %w", err)
	}
	sets, err := s.store.ActiveSets(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to load sets: %w", err)
	}
	cards, err := s.store.ActiveCards(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to load cards: %w", err)
	}
	streak, err := s.store.Streak(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to load streak: %w", err)
	}
	settings, err := s.store.Settings(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to load settings: %w", err)
	}

	if err := s.store.TouchLastSync(ctx, userID, now); err != nil {
		return nil, fmt.Errorf("failed to record sync time: %w", err)
	}

	s.logger.Info("Full snapshot built",
		"user_id", userID,
		"folders", len(folders),
		"sets", len(sets),
		"cards", len(cards),
	)
	return &FullResponse{
		Folders:    folders,
		Sets:       sets,
		Cards:      cards,
		Streak:     streak,
		Settings:   settings,
		ServerTime: now,
	}, nil
}
