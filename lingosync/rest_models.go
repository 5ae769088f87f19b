// Copyright 2025 LingoCards Authors
// SPDX-License-Identifier: Apache-2.0

package lingosync

import (
	"encoding/json"
	"time"
)

// REST/JSON models for the sync HTTP API.
// Field names are wire-compatible with existing clients; additions are
// backward compatible (unknown fields are ignored on both sides).

// FolderChanges groups queued folder mutations for a push.
type FolderChanges struct {
	Upsert []Folder `json:"upsert,omitempty"`
	Delete []string `json:"delete,omitempty"` // local ids
}

// SetChanges groups queued set mutations for a push.
type SetChanges struct {
	Upsert []Set    `json:"upsert,omitempty"`
	Delete []string `json:"delete,omitempty"`
}

// CardChanges groups queued card mutations for a push.
type CardChanges struct {
	Upsert []Card   `json:"upsert,omitempty"`
	Delete []string `json:"delete,omitempty"`
}

// ChangeSet is the full payload of a push request, grouped by entity kind.
type ChangeSet struct {
	Folders FolderChanges `json:"folders"`
	Sets    SetChanges    `json:"sets"`
	Cards   CardChanges   `json:"cards"`
	Streak  *Streak       `json:"streak,omitempty"`
}

// Empty reports whether the change set carries no mutations at all.
func (cs *ChangeSet) Empty() bool {
	return len(cs.Folders.Upsert) == 0 && len(cs.Folders.Delete) == 0 &&
		len(cs.Sets.Upsert) == 0 && len(cs.Sets.Delete) == 0 &&
		len(cs.Cards.Upsert) == 0 && len(cs.Cards.Delete) == 0 &&
		cs.Streak == nil
}

// PushRequest carries queued client changes plus the cursor the client
// believes is current. A nil LastSyncAt means the client has never synced.
type PushRequest struct {
	LastSyncAt *time.Time `json:"lastSyncAt,omitempty"`
	Changes    ChangeSet  `json:"changes"`
}

// Conflict reports a push item the server rejected because it holds a newer
// version. Server carries the authoritative record so the client can log it.
type Conflict struct {
	Kind    string          `json:"type"`
	LocalID string          `json:"id"`
	Server  json.RawMessage `json:"server,omitempty"`
}

// Deferred reports a push item skipped because its parent could not be
// resolved yet. The item stays client-side and is retried on a later push.
type Deferred struct {
	Kind    string `json:"type"`
	LocalID string `json:"id"`
	Reason  string `json:"reason"`
}

// Invalid reports a push item rejected by validation. The rest of the batch
// still proceeds.
type Invalid struct {
	Kind    string `json:"type"`
	LocalID string `json:"id"`
	Message string `json:"message"`
}

// AcceptedCounts summarizes how many upserts were applied per kind.
type AcceptedCounts struct {
	Folders int `json:"folders"`
	Sets    int `json:"sets"`
	Cards   int `json:"cards"`
}

// PushResponse is the server's acknowledgement of a push.
type PushResponse struct {
	Conflicts  []Conflict     `json:"conflicts"`
	Deferred   []Deferred     `json:"deferred,omitempty"`
	Invalid    []Invalid      `json:"invalid,omitempty"`
	Accepted   AcceptedCounts `json:"accepted"`
	ServerTime time.Time      `json:"serverTime"`
}

// FolderDelta partitions folders changed since a cursor.
type FolderDelta struct {
	Created []Folder `json:"created"`
	Updated []Folder `json:"updated"`
	Deleted []string `json:"deleted"` // server ids
}

// SetDelta partitions sets changed since a cursor.
type SetDelta struct {
	Created []Set    `json:"created"`
	Updated []Set    `json:"updated"`
	Deleted []string `json:"deleted"`
}

// CardDelta partitions cards changed since a cursor.
type CardDelta struct {
	Created []Card   `json:"created"`
	Updated []Card   `json:"updated"`
	Deleted []string `json:"deleted"`
}

// PullResponse is everything that changed after the client's cursor.
type PullResponse struct {
	Folders    FolderDelta `json:"folders"`
	Sets       SetDelta    `json:"sets"`
	Cards      CardDelta   `json:"cards"`
	Streak     *Streak     `json:"streak,omitempty"`
	ServerTime time.Time   `json:"serverTime"`
}

// Empty reports whether the pull carried no changes.
func (pr *PullResponse) Empty() bool {
	return len(pr.Folders.Created) == 0 && len(pr.Folders.Updated) == 0 && len(pr.Folders.Deleted) == 0 &&
		len(pr.Sets.Created) == 0 && len(pr.Sets.Updated) == 0 && len(pr.Sets.Deleted) == 0 &&
		len(pr.Cards.Created) == 0 && len(pr.Cards.Updated) == 0 && len(pr.Cards.Deleted) == 0
}

// FullResponse is the complete non-deleted hierarchy for a user, used for
// first login on a device or explicit recovery.
type FullResponse struct {
	Folders    []Folder        `json:"folders"`
	Sets       []Set           `json:"sets"`
	Cards      []Card          `json:"cards"`
	Streak     *Streak         `json:"streak,omitempty"`
	Settings   json.RawMessage `json:"settings,omitempty"`
	ServerTime time.Time       `json:"serverTime"`
}

// ErrorResponse is the standardized error body for all HTTP endpoints.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// Deferral reasons.
const (
	ReasonUnresolvedParent = "unresolved_parent"
)
