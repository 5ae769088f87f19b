// Copyright 2025 LingoCards Authors
// SPDX-License-Identifier: Apache-2.0

package lingosqlite

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Status is the dispatcher's externally visible sync state.
type Status string

const (
	StatusOffline Status = "offline"
	StatusSyncing Status = "syncing"
	StatusSynced  Status = "synced"
	StatusError   Status = "error"
)

type trigger int

const (
	triggerMutation trigger = iota
	triggerOnline
	triggerOffline
	triggerVisible
	triggerManual
)

// Dispatcher decides when the client talks to the server. Mutations arm a
// debounce timer so an edit burst becomes one push; connectivity regain,
// foreground regain with a stale cursor, and periodic staleness checks fire
// immediate cycles. All cycles run on a single goroutine, so at most one
// sync is in flight; triggers arriving mid-cycle coalesce into exactly one
// follow-up cycle.
type Dispatcher struct {
	client *Client
	config *Config
	logger *slog.Logger

	events chan trigger

	mu       sync.Mutex
	status   Status
	onStatus func(Status)
}

// NewDispatcher creates a dispatcher over the given client. Run must be
// called for it to do anything.
func NewDispatcher(client *Client) *Dispatcher {
	return &Dispatcher{
		client: client,
		config: client.config,
		logger: client.logger,
		events: make(chan trigger, 64),
		status: StatusSynced,
	}
}

// NotifyMutation tells the dispatcher a local change was just queued. The
// debounce window restarts on every call, so a burst of edits produces a
// single push once the burst quiets down.
func (d *Dispatcher) NotifyMutation() { d.send(triggerMutation) }

// SetOnline reports a connectivity transition. Going online triggers an
// immediate cycle; going offline suspends syncing while mutations keep
// accumulating in the durable queue.
func (d *Dispatcher) SetOnline(online bool) {
	if online {
		d.send(triggerOnline)
	} else {
		d.send(triggerOffline)
	}
}

// NotifyVisible reports that the app regained the foreground. A cycle runs
// only if the cursor has gone stale while the app was backgrounded.
func (d *Dispatcher) NotifyVisible() { d.send(triggerVisible) }

// SyncNow requests an immediate cycle regardless of debounce or staleness.
func (d *Dispatcher) SyncNow() { d.send(triggerManual) }

// Status returns the current sync status.
func (d *Dispatcher) Status() Status {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.status
}

// OnStatusChange registers a callback invoked on every status transition.
func (d *Dispatcher) OnStatusChange(fn func(Status)) {
	d.mu.Lock()
	d.onStatus = fn
	d.mu.Unlock()
}

func (d *Dispatcher) send(t trigger) {
	for {
		select {
		case d.events <- t:
			return
		default:
		}
		if t != triggerOffline {
			// Channel full means plenty of pending work is already recorded;
			// dropping one more trigger loses nothing.
			return
		}
		// A lost offline transition would keep the loop cycling against a
		// dead network. Make room and retry until it lands.
		select {
		case <-d.events:
		default:
		}
	}
}

func (d *Dispatcher) setStatus(s Status) {
	d.mu.Lock()
	changed := d.status != s
	d.status = s
	fn := d.onStatus
	d.mu.Unlock()
	if changed && fn != nil {
		fn(s)
	}
}

// Run is the dispatcher loop. It blocks until ctx is cancelled.
func (d *Dispatcher) Run(ctx context.Context) {
	debounce := time.NewTimer(d.config.Debounce)
	if !debounce.Stop() {
		<-debounce.C
	}
	debounceArmed := false

	staleTick := time.NewTicker(d.config.StaleCheck)
	defer staleTick.Stop()

	online := true

	disarm := func() {
		if debounceArmed && !debounce.Stop() {
			<-debounce.C
		}
		debounceArmed = false
	}

	for {
		select {
		case <-ctx.Done():
			disarm()
			return

		case ev := <-d.events:
			switch ev {
			case triggerMutation:
				disarm()
				debounce.Reset(d.config.Debounce)
				debounceArmed = true
			case triggerOnline:
				online = true
				disarm()
				d.runCycle(ctx, &online)
			case triggerOffline:
				online = false
				disarm()
				d.setStatus(StatusOffline)
			case triggerVisible:
				if online && d.cursorStale(ctx) {
					d.runCycle(ctx, &online)
				}
			case triggerManual:
				if online {
					disarm()
					d.runCycle(ctx, &online)
				}
			}

		case <-debounce.C:
			debounceArmed = false
			if online {
				d.runCycle(ctx, &online)
			}

		case <-staleTick.C:
			if online && d.cursorStale(ctx) {
				d.runCycle(ctx, &online)
			}
		}
	}
}

// runCycle performs one sync, then drains triggers that arrived while it was
// running. Any number of mid-cycle triggers collapse into at most one
// follow-up cycle per drain.
func (d *Dispatcher) runCycle(ctx context.Context, online *bool) {
	for {
		d.setStatus(StatusSyncing)
		if err := d.client.SyncOnce(ctx); err != nil {
			if ctx.Err() != nil {
				return
			}
			d.logger.Warn("Sync cycle failed", "error", err)
			d.setStatus(StatusError)
		} else {
			d.setStatus(StatusSynced)
		}

		if !d.drainPending(online) {
			return
		}
	}
}

// drainPending empties the event channel and reports whether another cycle
// is warranted. An offline transition wins over everything else.
func (d *Dispatcher) drainPending(online *bool) bool {
	again := false
	for {
		select {
		case ev := <-d.events:
			switch ev {
			case triggerOffline:
				*online = false
				d.setStatus(StatusOffline)
				return false
			case triggerOnline:
				*online = true
				again = true
			case triggerMutation, triggerManual:
				again = true
			case triggerVisible:
				// Cycle just finished, nothing stale to catch up on.
			}
		default:
			return again && *online
		}
	}
}

func (d *Dispatcher) cursorStale(ctx context.Context) bool {
	cursor, err := d.client.Cursor(ctx)
	if err != nil {
		d.logger.Warn("Failed to read sync cursor", "error", err)
		return false
	}
	if cursor == nil {
		return true
	}
	return time.Since(*cursor) > d.config.StaleAfter
}
