// Copyright 2025 LingoCards Authors
// SPDX-License-Identifier: Apache-2.0

package lingosync

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
	"time"
)

// MemoryStore is an in-memory Store. It backs tests and in-process demo
// servers; production deployments use PgStore.
type MemoryStore struct {
	mu       sync.RWMutex
	folders  map[string]map[string]*Folder // userID -> localID -> folder
	sets     map[string]map[string]*Set
	cards    map[string]map[string]*Card
	streaks  map[string]*Streak
	settings map[string]json.RawMessage
	lastSync map[string]time.Time
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		folders:  make(map[string]map[string]*Folder),
		sets:     make(map[string]map[string]*Set),
		cards:    make(map[string]map[string]*Card),
		streaks:  make(map[string]*Streak),
		settings: make(map[string]json.RawMessage),
		lastSync: make(map[string]time.Time),
	}
}

func (m *MemoryStore) FolderByLocalID(_ context.Context, userID, localID string) (*Folder, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if f, ok := m.folders[userID][localID]; ok {
		cp := *f
		return &cp, nil
	}
	return nil, nil
}

func (m *MemoryStore) FolderByID(_ context.Context, userID, id string) (*Folder, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, f := range m.folders[userID] {
		if f.ID == id {
			cp := *f
			return &cp, nil
		}
	}
	return nil, nil
}

func (m *MemoryStore) InsertFolder(_ context.Context, userID string, f *Folder) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.folders[userID] == nil {
		m.folders[userID] = make(map[string]*Folder)
	}
	cp := *f
	m.folders[userID][f.LocalID] = &cp
	return nil
}

func (m *MemoryStore) UpdateFolder(_ context.Context, userID string, f *Folder) error {
	return m.InsertFolder(nil, userID, f)
}

func (m *MemoryStore) TombstoneFolder(_ context.Context, userID, localID string, at time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	f, ok := m.folders[userID][localID]
	if !ok || f.DeletedAt != nil {
		return false, nil
	}
	t := at
	f.DeletedAt = &t
	f.UpdatedAt = at
	return true, nil
}

func (m *MemoryStore) FoldersChangedSince(_ context.Context, userID string, since time.Time) ([]Folder, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []Folder
	for _, f := range m.folders[userID] {
		if f.UpdatedAt.After(since) {
			out = append(out, *f)
		}
	}
	sortFolders(out)
	return out, nil
}

func (m *MemoryStore) ActiveFolders(_ context.Context, userID string) ([]Folder, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []Folder
	for _, f := range m.folders[userID] {
		if f.DeletedAt == nil {
			out = append(out, *f)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Order < out[j].Order })
	return out, nil
}

func (m *MemoryStore) MaxFolderOrder(_ context.Context, userID string) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	max := 0
	for _, f := range m.folders[userID] {
		if f.Order > max {
			max = f.Order
		}
	}
	return max, nil
}

func (m *MemoryStore) SetByLocalID(_ context.Context, userID, localID string) (*Set, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if s, ok := m.sets[userID][localID]; ok {
		cp := *s
		return &cp, nil
	}
	return nil, nil
}

func (m *MemoryStore) SetByID(_ context.Context, userID, id string) (*Set, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, s := range m.sets[userID] {
		if s.ID == id {
			cp := *s
			return &cp, nil
		}
	}
	return nil, nil
}

func (m *MemoryStore) InsertSet(_ context.Context, userID string, s *Set) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.sets[userID] == nil {
		m.sets[userID] = make(map[string]*Set)
	}
	cp := *s
	m.sets[userID][s.LocalID] = &cp
	return nil
}

func (m *MemoryStore) UpdateSet(_ context.Context, userID string, s *Set) error {
	return m.InsertSet(nil, userID, s)
}

func (m *MemoryStore) TombstoneSet(_ context.Context, userID, localID string, at time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sets[userID][localID]
	if !ok || s.DeletedAt != nil {
		return false, nil
	}
	t := at
	s.DeletedAt = &t
	s.UpdatedAt = at
	return true, nil
}

func (m *MemoryStore) SetsChangedSince(_ context.Context, userID string, since time.Time) ([]Set, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []Set
	for _, s := range m.sets[userID] {
		if s.UpdatedAt.After(since) {
			out = append(out, *s)
		}
	}
	sortSets(out)
	return out, nil
}

func (m *MemoryStore) ActiveSets(_ context.Context, userID string) ([]Set, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []Set
	for _, s := range m.sets[userID] {
		if s.DeletedAt == nil {
			out = append(out, *s)
		}
	}
	sortSets(out)
	return out, nil
}

func (m *MemoryStore) AdjustCardCount(_ context.Context, userID, setID string, delta int, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, s := range m.sets[userID] {
		if s.ID == setID {
			s.CardCount += delta
			if s.CardCount < 0 {
				s.CardCount = 0
			}
			s.UpdatedAt = at
			return nil
		}
	}
	return nil // advisory counter, missing set is not an error
}

func (m *MemoryStore) CardByLocalID(_ context.Context, userID, localID string) (*Card, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if c, ok := m.cards[userID][localID]; ok {
		cp := *c
		return &cp, nil
	}
	return nil, nil
}

func (m *MemoryStore) InsertCard(_ context.Context, userID string, c *Card) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.cards[userID] == nil {
		m.cards[userID] = make(map[string]*Card)
	}
	cp := *c
	m.cards[userID][c.LocalID] = &cp
	return nil
}

func (m *MemoryStore) UpdateCard(_ context.Context, userID string, c *Card) error {
	return m.InsertCard(nil, userID, c)
}

func (m *MemoryStore) TombstoneCard(_ context.Context, userID, localID string, at time.Time) (*Card, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.cards[userID][localID]
	if !ok || c.DeletedAt != nil {
		return nil, nil
	}
	t := at
	c.DeletedAt = &t
	c.UpdatedAt = at
	cp := *c
	return &cp, nil
}

func (m *MemoryStore) CardsChangedSince(_ context.Context, userID string, since time.Time) ([]Card, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []Card
	for _, c := range m.cards[userID] {
		if c.UpdatedAt.After(since) {
			out = append(out, *c)
		}
	}
	sortCards(out)
	return out, nil
}

func (m *MemoryStore) ActiveCards(_ context.Context, userID string) ([]Card, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []Card
	for _, c := range m.cards[userID] {
		if c.DeletedAt == nil {
			out = append(out, *c)
		}
	}
	sortCards(out)
	return out, nil
}

func (m *MemoryStore) Streak(_ context.Context, userID string) (*Streak, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if st, ok := m.streaks[userID]; ok {
		cp := *st
		return &cp, nil
	}
	return nil, nil
}

func (m *MemoryStore) SaveStreak(_ context.Context, userID string, st *Streak) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *st
	m.streaks[userID] = &cp
	return nil
}

func (m *MemoryStore) Settings(_ context.Context, userID string) (json.RawMessage, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.settings[userID], nil
}

// SaveSettings stores the opaque settings blob for a user.
func (m *MemoryStore) SaveSettings(_ context.Context, userID string, raw json.RawMessage) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.settings[userID] = raw
	return nil
}

func (m *MemoryStore) TouchLastSync(_ context.Context, userID string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lastSync[userID] = at
	return nil
}

// LastSync returns the most recent sync watermark recorded for the user.
func (m *MemoryStore) LastSync(userID string) time.Time {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.lastSync[userID]
}

func sortFolders(fs []Folder) {
	sort.Slice(fs, func(i, j int) bool { return fs[i].LocalID < fs[j].LocalID })
}

func sortSets(ss []Set) {
	sort.Slice(ss, func(i, j int) bool { return ss[i].LocalID < ss[j].LocalID })
}

func sortCards(cs []Card) {
	sort.Slice(cs, func(i, j int) bool { return cs[i].LocalID < cs[j].LocalID })
}
