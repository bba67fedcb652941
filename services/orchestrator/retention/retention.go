// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package retention sweeps aged-out rows from the relational store in
// the background: refresh-token grants past expiry or already revoked,
// and failed file uploads that nobody retried.
package retention

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/AleutianAI/aleutian-agent/services/orchestrator/store"
)

// Config holds settings for the background retention sweeper.
//
// # Fields
//
//   - Interval: How often to run a sweep. Default: 1 hour.
//   - FailedFileRetention: How long failed file rows are kept so the UI
//     can show the error before the row disappears. Default: 24 hours.
type Config struct {
	Interval            time.Duration
	FailedFileRetention time.Duration
}

// DefaultConfig returns production defaults for the sweeper.
func DefaultConfig() Config {
	return Config{
		Interval:            1 * time.Hour,
		FailedFileRetention: 24 * time.Hour,
	}
}

// Result summarizes one sweep cycle.
type Result struct {
	AuthSessionsDeleted int64
	FailedFilesDeleted  int64
	StartTime           time.Time
	EndTime             time.Time
}

// Duration returns the wall time the sweep took.
func (r Result) Duration() time.Duration {
	return r.EndTime.Sub(r.StartTime)
}

// Sweeper runs periodic retention sweeps over the store.
//
// # Description
//
// The sweeper owns one background goroutine started by Start and stopped
// by Stop or context cancellation, using the ticker plus done channel
// pattern. A sweep runs immediately on start, then at every interval.
// Sweep failures are logged and the loop keeps running; a transient
// database error must not kill retention for the life of the process.
//
// # Thread Safety
//
// All public methods are safe for concurrent use.
type Sweeper struct {
	db      *sql.DB
	config  Config
	done    chan struct{}
	mu      sync.Mutex
	running bool
}

// New creates a Sweeper over the given store. Zero config fields fall
// back to DefaultConfig values. Panics if db is nil.
func New(db *sql.DB, config Config) *Sweeper {
	if db == nil {
		panic("retention: db must not be nil")
	}
	defaults := DefaultConfig()
	if config.Interval <= 0 {
		config.Interval = defaults.Interval
	}
	if config.FailedFileRetention <= 0 {
		config.FailedFileRetention = defaults.FailedFileRetention
	}
	return &Sweeper{
		db:     db,
		config: config,
		done:   make(chan struct{}),
	}
}

// Start begins the background sweep loop. Returns an error if the
// sweeper is already running.
func (s *Sweeper) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return fmt.Errorf("retention sweeper is already running")
	}
	s.running = true
	s.done = make(chan struct{}) // reset for restart after Stop
	s.mu.Unlock()

	slog.Info("Retention sweeper starting",
		"interval", s.config.Interval.String(),
		"failed_file_retention", s.config.FailedFileRetention.String(),
	)

	go s.runLoop(ctx)
	return nil
}

// Stop signals the sweep loop to exit. Safe to call multiple times.
// Does not interrupt a sweep already in progress.
func (s *Sweeper) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		return
	}

	slog.Info("Retention sweeper stopping")
	close(s.done)
	s.running = false
}

// RunNow performs a single sweep immediately, outside the schedule.
func (s *Sweeper) RunNow(ctx context.Context) (Result, error) {
	return s.sweep(ctx)
}

// runLoop is the sweeper goroutine.
func (s *Sweeper) runLoop(ctx context.Context) {
	ticker := time.NewTicker(s.config.Interval)
	defer ticker.Stop()

	s.executeSweep(ctx)

	for {
		select {
		case <-ctx.Done():
			slog.Info("Retention sweeper stopped (context cancelled)")
			return
		case <-s.done:
			slog.Info("Retention sweeper stopped (stop requested)")
			return
		case <-ticker.C:
			s.executeSweep(ctx)
		}
	}
}

// executeSweep runs one sweep and keeps failures inside the loop.
func (s *Sweeper) executeSweep(ctx context.Context) {
	result, err := s.sweep(ctx)
	if err != nil {
		slog.Error("Retention sweep failed", "error", err)
		return
	}

	if result.AuthSessionsDeleted > 0 || result.FailedFilesDeleted > 0 {
		slog.Info("Retention sweep completed",
			"auth_sessions_deleted", result.AuthSessionsDeleted,
			"failed_files_deleted", result.FailedFilesDeleted,
			"duration_ms", result.Duration().Milliseconds(),
		)
	} else {
		slog.Debug("Retention sweep completed (nothing to remove)")
	}
}

// sweep deletes aged-out rows and reports what went.
func (s *Sweeper) sweep(ctx context.Context) (Result, error) {
	result := Result{StartTime: time.Now()}
	now := time.Now().UTC()

	grants, err := store.DeleteExpiredAuthSessions(ctx, s.db, now)
	if err != nil {
		return result, fmt.Errorf("auth session sweep failed: %w", err)
	}
	result.AuthSessionsDeleted = grants

	files, err := store.DeleteStaleFailedFiles(ctx, s.db, now.Add(-s.config.FailedFileRetention))
	if err != nil {
		return result, fmt.Errorf("failed file sweep failed: %w", err)
	}
	result.FailedFilesDeleted = files

	result.EndTime = time.Now()
	return result, nil
}
