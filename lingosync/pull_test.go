// Copyright 2025 LingoCards Authors
// SPDX-License-Identifier: Apache-2.0

package lingosync

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPullClassifiesCreatedUpdatedDeleted(t *testing.T) {
	svc, store, clock := newTestService(t)
	ctx := context.Background()

	// t0: two folders exist.
	_, err := svc.ProcessPush(ctx, testUser, &PushRequest{
		Changes: ChangeSet{Folders: FolderChanges{Upsert: []Folder{
			testFolder("german"),
			{LocalID: "russian", Name: "Russian", FlagCode: "ru"},
			{LocalID: "french", Name: "French", FlagCode: "fr"},
		}}},
	})
	require.NoError(t, err)
	cursor := *clock

	// After the cursor: german renamed, spanish created, french deleted.
	*clock = clock.Add(time.Minute)
	_, err = svc.ProcessPush(ctx, testUser, &PushRequest{
		LastSyncAt: tp(cursor),
		Changes: ChangeSet{Folders: FolderChanges{
			Upsert: []Folder{
				{LocalID: "german", Name: "Deutsch", FlagCode: "de"},
				{LocalID: "spanish", Name: "Spanish", FlagCode: "es"},
			},
			Delete: []string{"french"},
		}},
	})
	require.NoError(t, err)

	french, err := store.FolderByLocalID(ctx, testUser, "french")
	require.NoError(t, err)

	resp, err := svc.ProcessPull(ctx, testUser, cursor)
	require.NoError(t, err)

	require.Len(t, resp.Folders.Created, 1)
	assert.Equal(t, "spanish", resp.Folders.Created[0].LocalID)
	require.Len(t, resp.Folders.Updated, 1)
	assert.Equal(t, "Deutsch", resp.Folders.Updated[0].Name)
	require.Len(t, resp.Folders.Deleted, 1)
	assert.Equal(t, french.ID, resp.Folders.Deleted[0], "deletions report server ids only")

	// russian was untouched after the cursor and must not appear at all.
	for _, f := range resp.Folders.Updated {
		assert.NotEqual(t, "russian", f.LocalID)
	}
}

func TestPullZeroCursorReturnsEverythingAsCreated(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	_, err := svc.ProcessPush(ctx, testUser, &PushRequest{
		Changes: ChangeSet{
			Folders: FolderChanges{Upsert: []Folder{testFolder("german")}},
			Sets:    SetChanges{Upsert: []Set{testSet("s1", "german")}},
			Cards:   CardChanges{Upsert: []Card{testCard("c1", "s1")}},
		},
	})
	require.NoError(t, err)

	resp, err := svc.ProcessPull(ctx, testUser, time.Time{})
	require.NoError(t, err)

	assert.Len(t, resp.Folders.Created, 1)
	assert.Len(t, resp.Sets.Created, 1)
	assert.Len(t, resp.Cards.Created, 1)
	assert.Empty(t, resp.Folders.Updated)
	assert.False(t, resp.Empty())
}

func TestPullTombstoneTrumpsCreation(t *testing.T) {
	svc, store, clock := newTestService(t)
	ctx := context.Background()

	cursor := *clock
	*clock = clock.Add(time.Minute)

	// Created and deleted entirely after the cursor: the peer that never saw
	// it must learn only the deletion.
	_, err := svc.ProcessPush(ctx, testUser, &PushRequest{
		Changes: ChangeSet{Folders: FolderChanges{Upsert: []Folder{testFolder("german")}}},
	})
	require.NoError(t, err)
	*clock = clock.Add(time.Minute)
	_, err = svc.ProcessPush(ctx, testUser, &PushRequest{
		Changes: ChangeSet{Folders: FolderChanges{Delete: []string{"german"}}},
	})
	require.NoError(t, err)

	german, err := store.FolderByLocalID(ctx, testUser, "german")
	require.NoError(t, err)

	resp, err := svc.ProcessPull(ctx, testUser, cursor)
	require.NoError(t, err)
	assert.Empty(t, resp.Folders.Created)
	assert.Empty(t, resp.Folders.Updated)
	assert.Equal(t, []string{german.ID}, resp.Folders.Deleted)
}

func TestPullCardCountChangeIsVisibleToPeers(t *testing.T) {
	svc, _, clock := newTestService(t)
	ctx := context.Background()

	_, err := svc.ProcessPush(ctx, testUser, &PushRequest{
		Changes: ChangeSet{
			Folders: FolderChanges{Upsert: []Folder{testFolder("german")}},
			Sets:    SetChanges{Upsert: []Set{testSet("s1", "german")}},
		},
	})
	require.NoError(t, err)
	cursor := *clock

	// A peer adds a card; the set's counter bump must appear in the delta
	// even though nobody edited the set's content.
	*clock = clock.Add(time.Minute)
	_, err = svc.ProcessPush(ctx, testUser, &PushRequest{
		LastSyncAt: tp(cursor),
		Changes:    ChangeSet{Cards: CardChanges{Upsert: []Card{testCard("c1", "s1")}}},
	})
	require.NoError(t, err)

	resp, err := svc.ProcessPull(ctx, testUser, cursor)
	require.NoError(t, err)
	require.Len(t, resp.Sets.Updated, 1)
	assert.Equal(t, 1, resp.Sets.Updated[0].CardCount)
	require.Len(t, resp.Cards.Created, 1)
}

func TestPullIncludesStreakAndServerTime(t *testing.T) {
	svc, store, clock := newTestService(t)
	ctx := context.Background()

	require.NoError(t, store.SaveStreak(ctx, testUser, &Streak{CurrentStreak: 7, LongestStreak: 7}))

	resp, err := svc.ProcessPull(ctx, testUser, time.Time{})
	require.NoError(t, err)
	require.NotNil(t, resp.Streak)
	assert.Equal(t, 7, resp.Streak.CurrentStreak)
	assert.Equal(t, *clock, resp.ServerTime)
	assert.True(t, resp.Empty(), "streak alone does not make the delta non-empty")
}

func TestFullSnapshotExcludesTombstones(t *testing.T) {
	svc, store, clock := newTestService(t)
	ctx := context.Background()

	_, err := svc.ProcessPush(ctx, testUser, &PushRequest{
		Changes: ChangeSet{
			Folders: FolderChanges{Upsert: []Folder{testFolder("german"), {LocalID: "gone", Name: "Gone", FlagCode: "xx"}}},
			Sets:    SetChanges{Upsert: []Set{testSet("s1", "german")}},
			Cards:   CardChanges{Upsert: []Card{testCard("c1", "s1")}},
			Streak:  &Streak{CurrentStreak: 2},
		},
	})
	require.NoError(t, err)
	require.NoError(t, store.SaveSettings(ctx, testUser, []byte(`{"theme":"dark"}`)))

	*clock = clock.Add(time.Minute)
	_, err = svc.ProcessPush(ctx, testUser, &PushRequest{
		Changes: ChangeSet{Folders: FolderChanges{Delete: []string{"gone"}}},
	})
	require.NoError(t, err)

	resp, err := svc.ProcessFull(ctx, testUser)
	require.NoError(t, err)

	require.Len(t, resp.Folders, 1)
	assert.Equal(t, "german", resp.Folders[0].LocalID)
	assert.Len(t, resp.Sets, 1)
	assert.Len(t, resp.Cards, 1)
	require.NotNil(t, resp.Streak)
	assert.JSONEq(t, `{"theme":"dark"}`, string(resp.Settings))
	assert.Equal(t, clock.UTC(), resp.ServerTime)
}

func TestFullSnapshotForEmptyAccount(t *testing.T) {
	svc, _, _ := newTestService(t)

	resp, err := svc.ProcessFull(context.Background(), "brand-new-user")
	require.NoError(t, err)
	assert.Empty(t, resp.Folders)
	assert.Empty(t, resp.Sets)
	assert.Empty(t, resp.Cards)
	assert.Nil(t, resp.Streak)
}
