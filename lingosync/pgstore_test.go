// Copyright 2025 LingoCards Authors
// SPDX-License-Identifier: Apache-2.0

package lingosync

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newPgStore connects to TEST_DATABASE_URL, or skips the test when the
// environment does not provide a database.
func newPgStore(t *testing.T) *PgStore {
	t.Helper()
	dsn := os.Getenv("TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("TEST_DATABASE_URL not set, skipping Postgres store tests")
	}

	pool, err := pgxpool.New(context.Background(), dsn)
	require.NoError(t, err)
	t.Cleanup(pool.Close)

	store, err := NewPgStore(pool, nil)
	require.NoError(t, err)
	return store
}

func pgTestUser() string {
	return fmt.Sprintf("pg-test-%s", uuid.NewString())
}

func TestPgStoreFolderLifecycle(t *testing.T) {
	store := newPgStore(t)
	ctx := context.Background()
	user := pgTestUser()
	now := time.Now().UTC().Truncate(time.Microsecond)

	f := &Folder{
		ID: uuid.NewString(), LocalID: "german", Name: "German", FlagCode: "de",
		CreatedAt: now, UpdatedAt: now,
	}
	require.NoError(t, store.InsertFolder(ctx, user, f))

	got, err := store.FolderByLocalID(ctx, user, "german")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, f.ID, got.ID)
	assert.Equal(t, "German", got.Name)

	byID, err := store.FolderByID(ctx, user, f.ID)
	require.NoError(t, err)
	require.NotNil(t, byID)
	assert.Equal(t, "german", byID.LocalID)

	missing, err := store.FolderByLocalID(ctx, user, "nope")
	require.NoError(t, err)
	assert.Nil(t, missing)

	got.Name = "Deutsch"
	got.UpdatedAt = now.Add(time.Second)
	require.NoError(t, store.UpdateFolder(ctx, user, got))

	later := now.Add(2 * time.Second)
	tombstoned, err := store.TombstoneFolder(ctx, user, "german", later)
	require.NoError(t, err)
	assert.True(t, tombstoned)

	// Second tombstone is a no-op.
	tombstoned, err = store.TombstoneFolder(ctx, user, "german", later.Add(time.Second))
	require.NoError(t, err)
	assert.False(t, tombstoned)

	changed, err := store.FoldersChangedSince(ctx, user, now)
	require.NoError(t, err)
	require.Len(t, changed, 1)
	assert.NotNil(t, changed[0].DeletedAt)

	active, err := store.ActiveFolders(ctx, user)
	require.NoError(t, err)
	assert.Empty(t, active)
}

func TestPgStoreMaxFolderOrder(t *testing.T) {
	store := newPgStore(t)
	ctx := context.Background()
	user := pgTestUser()
	now := time.Now().UTC().Truncate(time.Microsecond)

	max, err := store.MaxFolderOrder(ctx, user)
	require.NoError(t, err)
	assert.Equal(t, 0, max, "no folders yet")

	require.NoError(t, store.InsertFolder(ctx, user, &Folder{
		ID: uuid.NewString(), LocalID: "german", Name: "German", FlagCode: "de",
		Order: 3, CreatedAt: now, UpdatedAt: now,
	}))
	require.NoError(t, store.InsertFolder(ctx, user, &Folder{
		ID: uuid.NewString(), LocalID: "russian", Name: "Russian", FlagCode: "ru",
		Order: 1, CreatedAt: now, UpdatedAt: now,
	}))

	max, err = store.MaxFolderOrder(ctx, user)
	require.NoError(t, err)
	assert.Equal(t, 3, max)

	// Tombstoned folders still reserve their slot.
	_, err = store.TombstoneFolder(ctx, user, "german", now.Add(time.Second))
	require.NoError(t, err)
	max, err = store.MaxFolderOrder(ctx, user)
	require.NoError(t, err)
	assert.Equal(t, 3, max)
}

func TestPgStoreSetJoinAndCounter(t *testing.T) {
	store := newPgStore(t)
	ctx := context.Background()
	user := pgTestUser()
	now := time.Now().UTC().Truncate(time.Microsecond)

	f := &Folder{ID: uuid.NewString(), LocalID: "german", Name: "German", FlagCode: "de", CreatedAt: now, UpdatedAt: now}
	require.NoError(t, store.InsertFolder(ctx, user, f))

	s := &Set{
		ID: uuid.NewString(), LocalID: "s1", FolderID: f.ID, FolderLocalID: "german",
		Name: "Basics", CreatedAt: now, UpdatedAt: now,
	}
	require.NoError(t, store.InsertSet(ctx, user, s))

	got, err := store.SetByLocalID(ctx, user, "s1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "german", got.FolderLocalID, "parent local id resolved via join")

	require.NoError(t, store.AdjustCardCount(ctx, user, s.ID, 1, now.Add(time.Second)))
	got, err = store.SetByLocalID(ctx, user, "s1")
	require.NoError(t, err)
	assert.Equal(t, 1, got.CardCount)
	assert.True(t, got.UpdatedAt.After(now), "counter bump must advance updatedAt")

	// Counter never goes negative.
	require.NoError(t, store.AdjustCardCount(ctx, user, s.ID, -5, now.Add(2*time.Second)))
	got, err = store.SetByLocalID(ctx, user, "s1")
	require.NoError(t, err)
	assert.Equal(t, 0, got.CardCount)
}

func TestPgStoreCardTombstoneReturnsRecord(t *testing.T) {
	store := newPgStore(t)
	ctx := context.Background()
	user := pgTestUser()
	now := time.Now().UTC().Truncate(time.Microsecond)

	f := &Folder{ID: uuid.NewString(), LocalID: "german", Name: "German", FlagCode: "de", CreatedAt: now, UpdatedAt: now}
	require.NoError(t, store.InsertFolder(ctx, user, f))
	s := &Set{ID: uuid.NewString(), LocalID: "s1", FolderID: f.ID, Name: "Basics", CreatedAt: now, UpdatedAt: now}
	require.NoError(t, store.InsertSet(ctx, user, s))
	c := &Card{
		ID: uuid.NewString(), LocalID: "c1", SetID: s.ID, Front: "Hund", Back: "dog",
		Mastery: MasteryNotStarted, CreatedAt: now, UpdatedAt: now,
	}
	require.NoError(t, store.InsertCard(ctx, user, c))

	gone, err := store.TombstoneCard(ctx, user, "c1", now.Add(time.Second))
	require.NoError(t, err)
	require.NotNil(t, gone)
	assert.Equal(t, s.ID, gone.SetID, "caller needs the parent to adjust its counter")

	again, err := store.TombstoneCard(ctx, user, "c1", now.Add(2*time.Second))
	require.NoError(t, err)
	assert.Nil(t, again)
}

func TestPgStoreUserState(t *testing.T) {
	store := newPgStore(t)
	ctx := context.Background()
	user := pgTestUser()
	now := time.Now().UTC().Truncate(time.Microsecond)

	streak, err := store.Streak(ctx, user)
	require.NoError(t, err)
	assert.Nil(t, streak)

	require.NoError(t, store.SaveStreak(ctx, user, &Streak{CurrentStreak: 4, LongestStreak: 9, TotalActiveDays: 30}))
	streak, err = store.Streak(ctx, user)
	require.NoError(t, err)
	require.NotNil(t, streak)
	assert.Equal(t, 4, streak.CurrentStreak)

	require.NoError(t, store.SaveSettings(ctx, user, []byte(`{"theme":"dark"}`)))
	settings, err := store.Settings(ctx, user)
	require.NoError(t, err)
	assert.JSONEq(t, `{"theme":"dark"}`, string(settings))

	require.NoError(t, store.TouchLastSync(ctx, user, now))
}
