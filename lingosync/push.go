// Copyright 2025 LingoCards Authors
// SPDX-License-Identifier: Apache-2.0

package lingosync

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// ErrBatchTooLarge is returned when a push exceeds ServiceConfig.MaxPushItems.
// The whole batch is rejected so the client keeps its queue intact.
var ErrBatchTooLarge = fmt.Errorf("push batch too large")

// ProcessPush reconciles a batch of client changes against the authoritative
// store. Outcomes per upsert item:
//
//   - no existing record: created (parents resolved by server id, then local
//     id; unresolved parents defer the item, it stays queued client-side)
//   - existing record newer than the client's cursor, or tombstoned: conflict,
//     the push item is rejected and the server version returned
//   - otherwise: whole-record last-write-wins update
//
// Deletes are applied unconditionally as tombstones - removal intent is never
// silently lost. The streak is replaced wholesale.
//
// A retried batch with the same lastSyncAt is harmless: the first pass stamps
// records with a fresh updatedAt, so the retry reports conflicts and leaves
// server state unchanged.
func (s *SyncService) ProcessPush(ctx context.Context, userID string, req *PushRequest) (*PushResponse, error) {
	if s.config.MaxPushItems > 0 && s.pushBatchSize(req) > s.config.MaxPushItems {
		return nil, fmt.Errorf("%w: items=%d limit=%d", ErrBatchTooLarge, s.pushBatchSize(req), s.config.MaxPushItems)
	}

	now := s.now().UTC()
	resp := &PushResponse{
		Conflicts:  []Conflict{},
		ServerTime: now,
	}

	// A client that has never synced gets the zero cutoff: every existing
	// record is newer than what it has seen, so its upserts to known local
	// ids conflict instead of clobbering (or resurrecting) server data.
	var cutoff time.Time
	if req.LastSyncAt != nil {
		cutoff = req.LastSyncAt.UTC()
	}

	s.logger.Info("Processing push",
		"user_id", userID,
		"items", s.pushBatchSize(req),
		"last_sync_at", req.LastSyncAt,
	)

	// Upserts parent-first: folders, then sets, then cards, so a hierarchy
	// created offline lands in one batch.
	if err := s.pushFolders(ctx, userID, req.Changes.Folders.Upsert, cutoff, now, resp); err != nil {
		return nil, err
	}
	if err := s.pushSets(ctx, userID, req.Changes.Sets.Upsert, cutoff, now, resp); err != nil {
		return nil, err
	}
	if err := s.pushCards(ctx, userID, req.Changes.Cards.Upsert, cutoff, now, resp); err != nil {
		return nil, err
	}

	// Deletes child-first. Tombstones win over concurrent updates, so no
	// conflict check here.
	for _, localID := range req.Changes.Cards.Delete {
		card, err := s.store.TombstoneCard(ctx, userID, localID, now)
		if err != nil {
			return nil, fmt.Errorf("failed to tombstone card %s: %w", localID, err)
		}
		if card != nil && card.SetID != "" {
			if err := s.store.AdjustCardCount(ctx, userID, card.SetID, -1, now); err != nil {
				return nil, fmt.Errorf("failed to adjust card count: %w", err)
			}
		}
	}
	for _, localID := range req.Changes.Sets.Delete {
		if _, err := s.store.TombstoneSet(ctx, userID, localID, now); err != nil {
			return nil, fmt.Errorf("failed to tombstone set %s: %w", localID, err)
		}
	}
	for _, localID := range req.Changes.Folders.Delete {
		if _, err := s.store.TombstoneFolder(ctx, userID, localID, now); err != nil {
			return nil, fmt.Errorf("failed to tombstone folder %s: %w", localID, err)
		}
	}

	if req.Changes.Streak != nil {
		if err := s.store.SaveStreak(ctx, userID, req.Changes.Streak); err != nil {
			return nil, fmt.Errorf("failed to save streak: %w", err)
		}
	}

	if err := s.store.TouchLastSync(ctx, userID, now); err != nil {
		return nil, fmt.Errorf("failed to record sync time: %w", err)
	}

	s.logger.Info("Push reconciled",
		"user_id", userID,
		"accepted_folders", resp.Accepted.Folders,
		"accepted_sets", resp.Accepted.Sets,
		"accepted_cards", resp.Accepted.Cards,
		"conflicts", len(resp.Conflicts),
		"deferred", len(resp.Deferred),
		"invalid", len(resp.Invalid),
	)
	return resp, nil
}

func (s *SyncService) pushFolders(ctx context.Context, userID string, upserts []Folder, cutoff, now time.Time, resp *PushResponse) error {
	for i := range upserts {
		f := upserts[i]
		if err := s.validate.Struct(&f); err != nil {
			resp.Invalid = append(resp.Invalid, Invalid{Kind: KindFolder, LocalID: f.LocalID, Message: err.Error()})
			continue
		}
		existing, err := s.store.FolderByLocalID(ctx, userID, f.LocalID)
		if err != nil {
			return fmt.Errorf("failed to look up folder %s: %w", f.LocalID, err)
		}
		switch {
		case existing == nil:
			nf := f
			nf.ID = uuid.NewString()
			nf.CreatedAt = now
			nf.UpdatedAt = now
			nf.DeletedAt = nil
			if err := s.store.InsertFolder(ctx, userID, &nf); err != nil {
				return fmt.Errorf("failed to insert folder %s: %w", f.LocalID, err)
			}
			resp.Accepted.Folders++
		case conflicts(existing.UpdatedAt, existing.DeletedAt, cutoff):
			resp.Conflicts = append(resp.Conflicts, conflictRecord(KindFolder, f.LocalID, existing))
		default:
			existing.Name = f.Name
			existing.FlagCode = f.FlagCode
			existing.Order = f.Order
			existing.UpdatedAt = now
			if err := s.store.UpdateFolder(ctx, userID, existing); err != nil {
				return fmt.Errorf("failed to update folder %s: %w", f.LocalID, err)
			}
			resp.Accepted.Folders++
		}
	}
	return nil
}

func (s *SyncService) pushSets(ctx context.Context, userID string, upserts []Set, cutoff, now time.Time, resp *PushResponse) error {
	for i := range upserts {
		st := upserts[i]
		if err := s.validate.Struct(&st); err != nil {
			resp.Invalid = append(resp.Invalid, Invalid{Kind: KindSet, LocalID: st.LocalID, Message: err.Error()})
			continue
		}
		existing, err := s.store.SetByLocalID(ctx, userID, st.LocalID)
		if err != nil {
			return fmt.Errorf("failed to look up set %s: %w", st.LocalID, err)
		}
		switch {
		case existing == nil:
			parent, err := s.resolveFolder(ctx, userID, st.FolderID, st.FolderLocalID)
			if err != nil {
				return err
			}
			if parent == nil || parent.Tombstoned() {
				// Parent not pushed yet (or gone). The client still holds the
				// set in its queue or local state and retries next cycle.
				resp.Deferred = append(resp.Deferred, Deferred{Kind: KindSet, LocalID: st.LocalID, Reason: ReasonUnresolvedParent})
				continue
			}
			ns := st
			ns.ID = uuid.NewString()
			ns.FolderID = parent.ID
			ns.FolderLocalID = parent.LocalID
			ns.CardCount = 0
			ns.CreatedAt = now
			ns.UpdatedAt = now
			ns.DeletedAt = nil
			if err := s.store.InsertSet(ctx, userID, &ns); err != nil {
				return fmt.Errorf("failed to insert set %s: %w", st.LocalID, err)
			}
			resp.Accepted.Sets++
		case conflicts(existing.UpdatedAt, existing.DeletedAt, cutoff):
			resp.Conflicts = append(resp.Conflicts, conflictRecord(KindSet, st.LocalID, existing))
		default:
			// Content fields only; the parent reference and the counter are
			// not client-assignable on update.
			existing.Name = st.Name
			existing.Description = st.Description
			existing.UpdatedAt = now
			if err := s.store.UpdateSet(ctx, userID, existing); err != nil {
				return fmt.Errorf("failed to update set %s: %w", st.LocalID, err)
			}
			resp.Accepted.Sets++
		}
	}
	return nil
}

func (s *SyncService) pushCards(ctx context.Context, userID string, upserts []Card, cutoff, now time.Time, resp *PushResponse) error {
	for i := range upserts {
		c := upserts[i]
		if err := s.validate.Struct(&c); err != nil {
			resp.Invalid = append(resp.Invalid, Invalid{Kind: KindCard, LocalID: c.LocalID, Message: err.Error()})
			continue
		}
		existing, err := s.store.CardByLocalID(ctx, userID, c.LocalID)
		if err != nil {
			return fmt.Errorf("failed to look up card %s: %w", c.LocalID, err)
		}
		switch {
		case existing == nil:
			parent, err := s.resolveSet(ctx, userID, c.SetID, c.SetLocalID)
			if err != nil {
				return err
			}
			if parent == nil || parent.Tombstoned() {
				resp.Deferred = append(resp.Deferred, Deferred{Kind: KindCard, LocalID: c.LocalID, Reason: ReasonUnresolvedParent})
				continue
			}
			nc := c
			nc.ID = uuid.NewString()
			nc.SetID = parent.ID
			nc.SetLocalID = parent.LocalID
			if nc.Mastery == "" {
				nc.Mastery = MasteryNotStarted
			}
			nc.CreatedAt = now
			nc.UpdatedAt = now
			nc.DeletedAt = nil
			if err := s.store.InsertCard(ctx, userID, &nc); err != nil {
				return fmt.Errorf("failed to insert card %s: %w", c.LocalID, err)
			}
			if err := s.store.AdjustCardCount(ctx, userID, parent.ID, 1, now); err != nil {
				return fmt.Errorf("failed to adjust card count: %w", err)
			}
			resp.Accepted.Cards++
		case conflicts(existing.UpdatedAt, existing.DeletedAt, cutoff):
			resp.Conflicts = append(resp.Conflicts, conflictRecord(KindCard, c.LocalID, existing))
		default:
			existing.Front = c.Front
			existing.Back = c.Back
			existing.Example = c.Example
			existing.ImageURL = c.ImageURL
			existing.Starred = c.Starred
			if c.Mastery != "" {
				existing.Mastery = c.Mastery
			}
			if len(c.Scheduling) > 0 {
				existing.Scheduling = c.Scheduling
			}
			existing.UpdatedAt = now
			if err := s.store.UpdateCard(ctx, userID, existing); err != nil {
				return fmt.Errorf("failed to update card %s: %w", c.LocalID, err)
			}
			resp.Accepted.Cards++
		}
	}
	return nil
}

// resolveFolder finds a parent folder by server id first, then local id.
func (s *SyncService) resolveFolder(ctx context.Context, userID, id, localID string) (*Folder, error) {
	if id != "" {
		f, err := s.store.FolderByID(ctx, userID, id)
		if err != nil {
			return nil, fmt.Errorf("failed to resolve folder by id %s: %w", id, err)
		}
		if f != nil {
			return f, nil
		}
	}
	if localID != "" {
		f, err := s.store.FolderByLocalID(ctx, userID, localID)
		if err != nil {
			return nil, fmt.Errorf("failed to resolve folder by local id %s: %w", localID, err)
		}
		return f, nil
	}
	return nil, nil
}

// resolveSet finds a parent set by server id first, then local id.
func (s *SyncService) resolveSet(ctx context.Context, userID, id, localID string) (*Set, error) {
	if id != "" {
		st, err := s.store.SetByID(ctx, userID, id)
		if err != nil {
			return nil, fmt.Errorf("failed to resolve set by id %s: %w", id, err)
		}
		if st != nil {
			return st, nil
		}
	}
	if localID != "" {
		st, err := s.store.SetByLocalID(ctx, userID, localID)
		if err != nil {
			return nil, fmt.Errorf("failed to resolve set by local id %s: %w", localID, err)
		}
		return st, nil
	}
	return nil, nil
}

// conflicts decides whether an existing record beats a pushed upsert.
// Tombstoned records always win: an upsert never resurrects a deletion.
func conflicts(updatedAt time.Time, deletedAt *time.Time, cutoff time.Time) bool {
	if deletedAt != nil {
		return true
	}
	return updatedAt.After(cutoff)
}

func conflictRecord(kind, localID string, server any) Conflict {
	raw, err := json.Marshal(server)
	if err != nil {
		raw = nil
	}
	return Conflict{Kind: kind, LocalID: localID, Server: raw}
}
