// Copyright 2025 LingoCards Authors
// SPDX-License-Identifier: Apache-2.0

package lingosqlite

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/lingocards/go-lingosync/lingosync"
)

// SyncOnce runs one sync cycle: push queued changes (if any), then pull the
// server delta. The pull uses the pre-push cursor so records created by the
// push echo back with their server ids attached. A failed push aborts the
// cycle with queue and cursor untouched; an acknowledged push commits on its
// own, so a pull failure after it only means the delta is fetched on the
// next cycle.
func (c *Client) SyncOnce(ctx context.Context) error {
	cursor, err := c.Cursor(ctx)
	if err != nil {
		return err
	}
	n, err := c.queue.Len(ctx)
	if err != nil {
		return err
	}
	if n > 0 {
		if err := c.Push(ctx); err != nil {
			return err
		}
	}
	return c.pullFrom(ctx, cursor)
}

// Push compacts the queue, sends it as one batch, and on acknowledgement
// clears the pushed entries and advances the cursor in a single transaction.
// Entries the server deferred (parent not yet resolvable) stay queued and
// ride along on the next push.
func (c *Client) Push(ctx context.Context) error {
	if err := c.queue.Compact(ctx); err != nil {
		return err
	}
	items, err := c.queue.Items(ctx)
	if err != nil {
		return err
	}
	if len(items) == 0 {
		return nil
	}

	cursor, err := c.Cursor(ctx)
	if err != nil {
		return err
	}
	changes, err := buildChangeSet(items)
	if err != nil {
		return err
	}

	resp, err := c.sendPush(ctx, &lingosync.PushRequest{
		LastSyncAt: cursor,
		Changes:    *changes,
	})
	if err != nil {
		return err
	}

	for _, conflict := range resp.Conflicts {
		c.logger.Warn("Push conflict, server version kept",
			"kind", conflict.Kind, "local_id", conflict.LocalID)
	}
	for _, inv := range resp.Invalid {
		c.logger.Warn("Push item rejected by validation",
			"kind", inv.Kind, "local_id", inv.LocalID, "message", inv.Message)
	}
	if len(resp.Deferred) > 0 {
		c.logger.Debug("Push items deferred", "count", len(resp.Deferred))
	}

	keep := deferredSeqs(items, resp.Deferred)

	tx, err := c.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin push commit: %w", err)
	}
	defer tx.Rollback()

	for _, item := range items {
		if keep[item.Seq] {
			continue
		}
		if _, err := tx.Exec(`DELETE FROM _sync_queue WHERE seq = ?`, item.Seq); err != nil {
			return fmt.Errorf("failed to dequeue pushed item: %w", err)
		}
	}
	if err := c.setCursorInTx(tx, resp.ServerTime); err != nil {
		return fmt.Errorf("failed to advance sync cursor: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit push: %w", err)
	}
	return nil
}

// Pull fetches the delta since the cursor, merges it into the entity store
// (parents before children, deletions last) and advances the cursor to the
// reported server time.
func (c *Client) Pull(ctx context.Context) error {
	cursor, err := c.Cursor(ctx)
	if err != nil {
		return err
	}
	return c.pullFrom(ctx, cursor)
}

func (c *Client) pullFrom(ctx context.Context, cursor *time.Time) error {
	resp, err := c.sendPull(ctx, cursor)
	if err != nil {
		return err
	}

	if err := c.store.ApplyFolders(ctx, append(resp.Folders.Created, resp.Folders.Updated...)); err != nil {
		return err
	}
	if err := c.store.ApplySets(ctx, append(resp.Sets.Created, resp.Sets.Updated...)); err != nil {
		return err
	}
	if err := c.store.ApplyCards(ctx, append(resp.Cards.Created, resp.Cards.Updated...)); err != nil {
		return err
	}
	if err := c.store.DeleteCards(ctx, resp.Cards.Deleted); err != nil {
		return err
	}
	if err := c.store.DeleteSets(ctx, resp.Sets.Deleted); err != nil {
		return err
	}
	if err := c.store.DeleteFolders(ctx, resp.Folders.Deleted); err != nil {
		return err
	}
	if err := c.store.ApplyStreak(ctx, resp.Streak); err != nil {
		return err
	}

	return c.setCursor(ctx, resp.ServerTime)
}

// FullSync replaces local entity state with the complete server snapshot,
// drops any queued changes, and resets the cursor. Used on first login on a
// device and for explicit recovery.
func (c *Client) FullSync(ctx context.Context) error {
	resp, err := c.sendFull(ctx)
	if err != nil {
		return err
	}
	if err := c.store.ReplaceAll(ctx, resp); err != nil {
		return err
	}

	tx, err := c.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin full sync commit: %w", err)
	}
	defer tx.Rollback()

	if err := c.queue.clearInTx(tx); err != nil {
		return fmt.Errorf("failed to clear queue after full sync: %w", err)
	}
	if err := c.setCursorInTx(tx, resp.ServerTime); err != nil {
		return fmt.Errorf("failed to set cursor after full sync: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit full sync: %w", err)
	}
	return nil
}

func (c *Client) setCursor(ctx context.Context, at time.Time) error {
	_, err := c.db.ExecContext(ctx,
		`UPDATE _sync_client_info SET last_sync_at = ? WHERE user_id = ?`,
		at.UTC().Format(time.RFC3339Nano), c.userID)
	if err != nil {
		return fmt.Errorf("failed to advance sync cursor: %w", err)
	}
	return nil
}

// buildChangeSet decodes queue items into the grouped wire payload.
func buildChangeSet(items []QueueItem) (*lingosync.ChangeSet, error) {
	var cs lingosync.ChangeSet
	for _, item := range items {
		switch {
		case item.Kind == lingosync.KindFolder && item.Action == lingosync.ActionUpsert:
			var f lingosync.Folder
			if err := json.Unmarshal(item.Payload, &f); err != nil {
				return nil, fmt.Errorf("failed to decode queued folder: %w", err)
			}
			cs.Folders.Upsert = append(cs.Folders.Upsert, f)
		case item.Kind == lingosync.KindFolder && item.Action == lingosync.ActionDelete:
			localID, err := decodeDeletePayload(item.Payload)
			if err != nil {
				return nil, fmt.Errorf("failed to decode queued folder delete: %w", err)
			}
			cs.Folders.Delete = append(cs.Folders.Delete, localID)
		case item.Kind == lingosync.KindSet && item.Action == lingosync.ActionUpsert:
			var s lingosync.Set
			if err := json.Unmarshal(item.Payload, &s); err != nil {
				return nil, fmt.Errorf("failed to decode queued set: %w", err)
			}
			cs.Sets.Upsert = append(cs.Sets.Upsert, s)
		case item.Kind == lingosync.KindSet && item.Action == lingosync.ActionDelete:
			localID, err := decodeDeletePayload(item.Payload)
			if err != nil {
				return nil, fmt.Errorf("failed to decode queued set delete: %w", err)
			}
			cs.Sets.Delete = append(cs.Sets.Delete, localID)
		case item.Kind == lingosync.KindCard && item.Action == lingosync.ActionUpsert:
			var card lingosync.Card
			if err := json.Unmarshal(item.Payload, &card); err != nil {
				return nil, fmt.Errorf("failed to decode queued card: %w", err)
			}
			cs.Cards.Upsert = append(cs.Cards.Upsert, card)
		case item.Kind == lingosync.KindCard && item.Action == lingosync.ActionDelete:
			localID, err := decodeDeletePayload(item.Payload)
			if err != nil {
				return nil, fmt.Errorf("failed to decode queued card delete: %w", err)
			}
			cs.Cards.Delete = append(cs.Cards.Delete, localID)
		case item.Kind == lingosync.KindStreak:
			var st lingosync.Streak
			if err := json.Unmarshal(item.Payload, &st); err != nil {
				return nil, fmt.Errorf("failed to decode queued streak: %w", err)
			}
			cs.Streak = &st
		default:
			return nil, fmt.Errorf("unknown queue entry %s/%s", item.Kind, item.Action)
		}
	}
	return &cs, nil
}

// deferredSeqs maps server-deferred items back to their queue sequence
// numbers so they survive the post-push queue clear.
func deferredSeqs(items []QueueItem, deferred []lingosync.Deferred) map[int64]bool {
	if len(deferred) == 0 {
		return nil
	}
	wanted := make(map[string]bool, len(deferred))
	for _, d := range deferred {
		wanted[d.Kind+"/"+d.LocalID] = true
	}
	keep := make(map[int64]bool)
	for _, item := range items {
		if item.Action != lingosync.ActionUpsert {
			continue
		}
		localID, err := queueItemLocalID(item)
		if err != nil {
			continue
		}
		if wanted[item.Kind+"/"+localID] {
			keep[item.Seq] = true
		}
	}
	return keep
}
