// Tencent is pleased to support the open source community by making trpc-cms-mcp available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-cms-mcp is licensed under the Apache License Version 2.0.

package cmsmcp

import (
	"sync"
	"time"
)

// sessionReaper periodically evicts sessions idle beyond a threshold.
// It is the only protection against unbounded registry growth from
// clients that disappear without an explicit teardown or a socket
// close event. Eviction goes through the same close path explicit
// teardown uses, so deregistration stays idempotent.
type sessionReaper[S session] struct {
	registry    *sessionRegistry[S]
	interval    time.Duration
	idleTimeout time.Duration
	logger      Logger

	started  bool
	stopOnce sync.Once
	stopCh   chan struct{}
	doneCh   chan struct{}
}

func newSessionReaper[S session](registry *sessionRegistry[S], interval, idleTimeout time.Duration, logger Logger) *sessionReaper[S] {
	return &sessionReaper[S]{
		registry:    registry,
		interval:    interval,
		idleTimeout: idleTimeout,
		logger:      logger,
		stopCh:      make(chan struct{}),
		doneCh:      make(chan struct{}),
	}
}

// start launches the sweep loop. Call stop to terminate it.
func (r *sessionReaper[S]) start() {
	r.started = true
	go r.run()
}

func (r *sessionReaper[S]) run() {
	defer close(r.doneCh)
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			r.sweep(time.Now())
		case <-r.stopCh:
			return
		}
	}
}

// sweep evicts every session idle longer than the timeout. A failure
// closing one session is logged and does not abort the rest of the
// sweep. Sweeping an already-swept set is safe.
func (r *sessionReaper[S]) sweep(now time.Time) int {
	evicted := 0
	for _, s := range r.registry.snapshot() {
		idle := now.Sub(s.lastActive())
		if idle < r.idleTimeout {
			continue
		}
		r.logger.Infof("Reaping idle session %s (idle %v)", s.sessionID(), idle)
		if err := s.closeSession(); err != nil {
			r.logger.Errorf("Failed to close idle session %s: %v", s.sessionID(), err)
		}
		// The session's on-close observer removes the registry entry;
		// remove again here in case no observer was wired.
		r.registry.remove(s.sessionID())
		evicted++
	}
	return evicted
}

// stop terminates the sweep loop and waits for it to exit.
func (r *sessionReaper[S]) stop() {
	r.stopOnce.Do(func() { close(r.stopCh) })
	if r.started {
		<-r.doneCh
	}
}
