// Copyright 2025 LingoCards Authors
// SPDX-License-Identifier: Apache-2.0

package lingosqlite

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lingocards/go-lingosync/lingosync"
)

// countingSyncServer wraps the test sync server and counts pushes and pulls.
func countingSyncServer(t *testing.T) (*httptest.Server, *int64, *int64) {
	t.Helper()
	store := lingosync.NewMemoryStore()
	svc := lingosync.NewSyncService(store, nil, nil)
	handlers := lingosync.NewHTTPSyncHandlers(svc, testAuth{}, nil)

	var pushes, pulls int64
	mux := http.NewServeMux()
	mux.HandleFunc("/sync/push", func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt64(&pushes, 1)
		handlers.HandlePush(w, r)
	})
	mux.HandleFunc("/sync/pull", func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt64(&pulls, 1)
		handlers.HandlePull(w, r)
	})
	mux.HandleFunc("/sync/full", handlers.HandleFull)

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv, &pushes, &pulls
}

func newDispatcherClient(t *testing.T, baseURL string, config *Config) *Client {
	t.Helper()
	db := newTestDB(t)
	store, err := NewSQLiteStore(db)
	require.NoError(t, err)
	client, err := NewClient(db, baseURL, "user-1",
		func(context.Context) (string, error) { return "test-token", nil },
		store, config)
	require.NoError(t, err)
	return client
}

func startDispatcher(t *testing.T, client *Client) *Dispatcher {
	t.Helper()
	d := NewDispatcher(client)
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go d.Run(ctx)
	return d
}

func TestDispatcherDebouncesEditBurst(t *testing.T) {
	srv, pushes, _ := countingSyncServer(t)
	client := newDispatcherClient(t, srv.URL, &Config{
		Debounce:       30 * time.Millisecond,
		StaleAfter:     time.Hour,
		StaleCheck:     time.Hour,
		RequestTimeout: 5 * time.Second,
	})
	d := startDispatcher(t, client)
	ctx := context.Background()

	// A rapid burst of edits: each one re-arms the debounce window, so only
	// one push goes out once the burst quiets down.
	for i, front := range []string{"Hund", "Hund!", "der Hund"} {
		require.NoError(t, client.EnqueueCard(ctx, lingosync.Card{
			LocalID: "c1", SetLocalID: "s1", Front: front, Back: "dog",
		}))
		d.NotifyMutation()
		if i < 2 {
			time.Sleep(5 * time.Millisecond)
		}
	}

	require.Eventually(t, func() bool {
		n, err := client.Queue().Len(ctx)
		return err == nil && n == 0
	}, 2*time.Second, 10*time.Millisecond, "queue should drain after the debounce window")

	assert.Equal(t, int64(1), atomic.LoadInt64(pushes), "burst collapses into one push")
	assert.Equal(t, StatusSynced, d.Status())
}

func TestDispatcherOfflineHoldsQueueUntilReconnect(t *testing.T) {
	srv, pushes, _ := countingSyncServer(t)
	client := newDispatcherClient(t, srv.URL, &Config{
		Debounce:       10 * time.Millisecond,
		StaleAfter:     time.Hour,
		StaleCheck:     time.Hour,
		RequestTimeout: 5 * time.Second,
	})
	d := startDispatcher(t, client)
	ctx := context.Background()

	d.SetOnline(false)
	require.Eventually(t, func() bool { return d.Status() == StatusOffline },
		time.Second, 5*time.Millisecond)

	require.NoError(t, client.EnqueueFolder(ctx, lingosync.Folder{LocalID: "german", Name: "German", FlagCode: "de"}))
	d.NotifyMutation()

	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, int64(0), atomic.LoadInt64(pushes), "no traffic while offline")
	n, err := client.Queue().Len(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n, "mutations keep accumulating in the durable queue")

	// Connectivity regained: the queue flushes immediately.
	d.SetOnline(true)
	require.Eventually(t, func() bool {
		n, err := client.Queue().Len(ctx)
		return err == nil && n == 0
	}, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, int64(1), atomic.LoadInt64(pushes))
	assert.Equal(t, StatusSynced, d.Status())
}

func TestDispatcherOfflineSurvivesFullEventChannel(t *testing.T) {
	srv, pushes, _ := countingSyncServer(t)
	client := newDispatcherClient(t, srv.URL, &Config{
		Debounce:       time.Hour,
		StaleAfter:     time.Hour,
		StaleCheck:     time.Hour,
		RequestTimeout: 5 * time.Second,
	})
	d := NewDispatcher(client)

	// Flood the channel before the loop starts so it is completely full,
	// then report the offline transition. It must still land.
	for i := 0; i < 100; i++ {
		d.NotifyMutation()
	}
	d.SetOnline(false)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go d.Run(ctx)

	require.Eventually(t, func() bool { return d.Status() == StatusOffline },
		2*time.Second, 5*time.Millisecond)
	assert.Equal(t, int64(0), atomic.LoadInt64(pushes), "no cycle runs once offline lands")
}

func TestDispatcherStaleCursorTriggersBackgroundSync(t *testing.T) {
	srv, _, pulls := countingSyncServer(t)
	client := newDispatcherClient(t, srv.URL, &Config{
		Debounce:       time.Hour, // never via debounce
		StaleAfter:     20 * time.Millisecond,
		StaleCheck:     10 * time.Millisecond,
		RequestTimeout: 5 * time.Second,
	})
	startDispatcher(t, client)

	// No mutations at all: the nil cursor counts as stale, so the periodic
	// check alone must produce a pull.
	require.Eventually(t, func() bool {
		return atomic.LoadInt64(pulls) >= 1
	}, 2*time.Second, 10*time.Millisecond)
}

func TestDispatcherVisibilityRegainSyncsOnlyWhenStale(t *testing.T) {
	srv, _, pulls := countingSyncServer(t)
	client := newDispatcherClient(t, srv.URL, &Config{
		Debounce:       time.Hour,
		StaleAfter:     time.Hour,
		StaleCheck:     time.Hour,
		RequestTimeout: 5 * time.Second,
	})
	d := startDispatcher(t, client)
	ctx := context.Background()

	// Fresh cursor: foreground regain does nothing.
	require.NoError(t, client.SyncOnce(ctx))
	base := atomic.LoadInt64(pulls)
	d.NotifyVisible()
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, base, atomic.LoadInt64(pulls), "fresh cursor needs no catch-up")

	// Stale cursor: regaining the foreground catches up immediately.
	require.NoError(t, client.setCursor(ctx, time.Now().Add(-2*time.Hour)))
	d.NotifyVisible()
	require.Eventually(t, func() bool {
		return atomic.LoadInt64(pulls) > base
	}, 2*time.Second, 10*time.Millisecond)
}

func TestDispatcherReportsErrorStatus(t *testing.T) {
	broken := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	t.Cleanup(broken.Close)

	client := newDispatcherClient(t, broken.URL, &Config{
		Debounce:       10 * time.Millisecond,
		StaleAfter:     time.Hour,
		StaleCheck:     time.Hour,
		RequestTimeout: 5 * time.Second,
	})
	d := startDispatcher(t, client)

	var transitions atomic.Int64
	d.OnStatusChange(func(Status) { transitions.Add(1) })

	d.SyncNow()
	require.Eventually(t, func() bool { return d.Status() == StatusError },
		2*time.Second, 10*time.Millisecond)
	assert.Greater(t, transitions.Load(), int64(0))
}
