// Copyright 2025 LingoCards Authors
// SPDX-License-Identifier: Apache-2.0

package lingosync

import (
	"log/slog"
	"time"

	"github.com/go-playground/validator/v10"
)

// SyncService is the authoritative endpoint logic: it computes deltas since a
// cursor, reconciles pushed batches, and produces full snapshots. Every
// client must eventually converge to what the service's store holds.
type SyncService struct {
	store    Store
	config   *ServiceConfig
	logger   *slog.Logger
	validate *validator.Validate
	now      func() time.Time
}

// ServiceConfig holds configuration for the sync service.
type ServiceConfig struct {
	AppName string // Application name, used in logs

	// MaxPushItems caps the total number of upserts and deletes in a single
	// push (0 = unlimited). Oversized batches are rejected whole so clients
	// never drop queued changes on a partial acceptance.
	MaxPushItems int
}

// NewSyncService creates a sync service over the given store.
func NewSyncService(store Store, config *ServiceConfig, logger *slog.Logger) *SyncService {
	if config == nil {
		config = &ServiceConfig{AppName: "lingosync"}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &SyncService{
		store:    store,
		config:   config,
		logger:   logger,
		validate: validator.New(validator.WithRequiredStructEnabled()),
		now:      time.Now,
	}
}

// Store returns the underlying authoritative store. This allows callers to
// run their own queries (the example server's CRUD handlers do).
func (s *SyncService) Store() Store {
	return s.store
}

func (s *SyncService) pushBatchSize(req *PushRequest) int {
	cs := &req.Changes
	n := len(cs.Folders.Upsert) + len(cs.Folders.Delete) +
		len(cs.Sets.Upsert) + len(cs.Sets.Delete) +
		len(cs.Cards.Upsert) + len(cs.Cards.Delete)
	if cs.Streak != nil {
		n++
	}
	return n
}
