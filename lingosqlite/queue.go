// Copyright 2025 LingoCards Authors
// SPDX-License-Identifier: Apache-2.0

package lingosqlite

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jmoiron/sqlx"
)

// QueueItem is one recorded local mutation awaiting push.
type QueueItem struct {
	Seq        int64           `db:"seq"`
	Kind       string          `db:"entity_kind"`
	Action     string          `db:"action"`
	Payload    json.RawMessage `db:"payload"`
	EnqueuedAt string          `db:"enqueued_at"`
}

// ChangeQueue is the durable, ordered change queue backed by SQLite.
// Appends commit before returning, so queued work survives process death.
type ChangeQueue struct {
	db *sqlx.DB
}

// Enqueue appends one mutation to the queue.
func (q *ChangeQueue) Enqueue(ctx context.Context, kind, action string, payload any) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal queue payload: %w", err)
	}
	_, err = q.db.ExecContext(ctx,
		`INSERT INTO _sync_queue (entity_kind, action, payload) VALUES (?, ?, ?)`,
		kind, action, string(raw))
	if err != nil {
		return fmt.Errorf("failed to enqueue %s %s: %w", kind, action, err)
	}
	return nil
}

// Items returns all queued mutations in enqueue order.
func (q *ChangeQueue) Items(ctx context.Context) ([]QueueItem, error) {
	var items []QueueItem
	err := q.db.SelectContext(ctx, &items,
		`SELECT seq, entity_kind, action, payload, enqueued_at FROM _sync_queue ORDER BY seq`)
	if err != nil {
		return nil, fmt.Errorf("failed to load sync queue: %w", err)
	}
	return items, nil
}

// Len returns the number of queued mutations.
func (q *ChangeQueue) Len(ctx context.Context) (int, error) {
	var n int
	if err := q.db.GetContext(ctx, &n, `SELECT COUNT(*) FROM _sync_queue`); err != nil {
		return 0, fmt.Errorf("failed to count sync queue: %w", err)
	}
	return n, nil
}

func (q *ChangeQueue) clearInTx(tx *sqlx.Tx) error {
	_, err := tx.Exec(`DELETE FROM _sync_queue`)
	return err
}

// Compact collapses redundant entries before a push: for each (kind, localId)
// only the final state matters, so a burst of edits becomes one upsert, and
// any entry followed by a delete of the same record is dropped in favor of
// the delete. Relative order of survivors is preserved. Streak entries keep
// only the newest one.
func (q *ChangeQueue) Compact(ctx context.Context) error {
	items, err := q.Items(ctx)
	if err != nil {
		return err
	}
	if len(items) == 0 {
		return nil
	}

	// Last entry per key wins. Entries without a resolvable id are kept as-is.
	type key struct{ kind, localID string }
	last := make(map[key]int64, len(items))
	var lastStreak int64 = -1
	for _, item := range items {
		if item.Kind == "streak" {
			lastStreak = item.Seq
			continue
		}
		localID, err := queueItemLocalID(item)
		if err != nil {
			continue
		}
		last[key{item.Kind, localID}] = item.Seq
	}

	var drop []int64
	for _, item := range items {
		if item.Kind == "streak" {
			if item.Seq != lastStreak {
				drop = append(drop, item.Seq)
			}
			continue
		}
		localID, err := queueItemLocalID(item)
		if err != nil {
			continue
		}
		if last[key{item.Kind, localID}] != item.Seq {
			drop = append(drop, item.Seq)
		}
	}
	if len(drop) == 0 {
		return nil
	}

	query, args, err := sqlx.In(`DELETE FROM _sync_queue WHERE seq IN (?)`, drop)
	if err != nil {
		return fmt.Errorf("failed to build queue compaction query: %w", err)
	}
	if _, err := q.db.ExecContext(ctx, q.db.Rebind(query), args...); err != nil {
		return fmt.Errorf("failed to compact sync queue: %w", err)
	}
	return nil
}

func queueItemLocalID(item QueueItem) (string, error) {
	var probe struct {
		LocalID string `json:"localId"`
	}
	if err := json.Unmarshal(item.Payload, &probe); err != nil {
		return "", err
	}
	if probe.LocalID == "" {
		return "", fmt.Errorf("queue payload missing localId")
	}
	return probe.LocalID, nil
}
