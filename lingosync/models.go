// Copyright 2025 LingoCards Authors
// SPDX-License-Identifier: Apache-2.0

package lingosync

import (
	"encoding/json"
	"time"
)

// Entity kinds that participate in sync.
const (
	KindFolder = "folder"
	KindSet    = "set"
	KindCard   = "card"
	KindStreak = "streak"
)

// Queue actions recorded by clients.
const (
	ActionUpsert = "upsert"
	ActionDelete = "delete"
)

// Mastery states for a card.
const (
	MasteryNotStarted = "not-started"
	MasteryLearning   = "learning"
	MasteryMastered   = "mastered"
)

// Folder is a top-level language folder owned by a user.
// LocalID is the client-generated stable id ("german", "russian", ...) used to
// correlate the same logical folder across devices before a server id exists.
type Folder struct {
	ID        string     `json:"id,omitempty"`
	LocalID   string     `json:"localId" validate:"required,min=1"`
	Name      string     `json:"name" validate:"required,min=1,max=100"`
	FlagCode  string     `json:"flagCode" validate:"required,min=2,max=5"`
	Order     int        `json:"order"`
	CreatedAt time.Time  `json:"createdAt,omitempty"`
	UpdatedAt time.Time  `json:"updatedAt,omitempty"`
	DeletedAt *time.Time `json:"deletedAt,omitempty"`
}

// Set is a card set inside a folder. FolderID carries the parent's server id
// when the client knows it; FolderLocalID is the fallback join key for the
// first push of a fresh hierarchy.
type Set struct {
	ID            string     `json:"id,omitempty"`
	LocalID       string     `json:"localId" validate:"required,min=1"`
	FolderID      string     `json:"folderId,omitempty"`
	FolderLocalID string     `json:"folderLocalId,omitempty"`
	Name          string     `json:"name" validate:"required,min=1,max=100"`
	Description   string     `json:"description,omitempty" validate:"max=500"`
	CardCount     int        `json:"cardCount"`
	CreatedAt     time.Time  `json:"createdAt,omitempty"`
	UpdatedAt     time.Time  `json:"updatedAt,omitempty"`
	DeletedAt     *time.Time `json:"deletedAt,omitempty"`
}

// Card is a single flashcard. Scheduling is an opaque spaced-repetition
// payload; it is synced verbatim and never interpreted by the engine.
type Card struct {
	ID         string          `json:"id,omitempty"`
	LocalID    string          `json:"localId" validate:"required,min=1"`
	SetID      string          `json:"setId,omitempty"`
	SetLocalID string          `json:"setLocalId,omitempty"`
	Front      string          `json:"front" validate:"required,min=1,max=2000"`
	Back       string          `json:"back" validate:"required,min=1,max=2000"`
	Example    string          `json:"example,omitempty" validate:"max=2000"`
	ImageURL   string          `json:"imageUrl,omitempty" validate:"omitempty,url"`
	Starred    bool            `json:"starred"`
	Mastery    string          `json:"mastery,omitempty" validate:"omitempty,oneof=not-started learning mastered"`
	Scheduling json.RawMessage `json:"sr,omitempty"`
	CreatedAt  time.Time       `json:"createdAt,omitempty"`
	UpdatedAt  time.Time       `json:"updatedAt,omitempty"`
	DeletedAt  *time.Time      `json:"deletedAt,omitempty"`
}

// Streak is the per-user activity streak record. It is replaced wholesale on
// push; no per-field conflict detection is applied to it.
type Streak struct {
	CurrentStreak    int    `json:"currentStreak"`
	LongestStreak    int    `json:"longestStreak"`
	LastActivityDate string `json:"lastActivityDate,omitempty"`
	TotalActiveDays  int    `json:"totalActiveDays"`
}

// Tombstoned reports whether the folder carries a soft-delete marker.
func (f *Folder) Tombstoned() bool { return f.DeletedAt != nil }

// Tombstoned reports whether the set carries a soft-delete marker.
func (s *Set) Tombstoned() bool { return s.DeletedAt != nil }

// Tombstoned reports whether the card carries a soft-delete marker.
func (c *Card) Tombstoned() bool { return c.DeletedAt != nil }
