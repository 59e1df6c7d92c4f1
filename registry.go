// Tencent is pleased to support the open source community by making trpc-cms-mcp available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-cms-mcp is licensed under the Apache License Version 2.0.

package cmsmcp

import (
	"fmt"
	"sync"
	"time"
)

// session is the contract a registry entry must satisfy. Both the
// streamable transport and the legacy SSE transport register sessions;
// each keeps its own registry instance.
type session interface {
	// sessionID returns the server-minted identifier.
	sessionID() string
	// lastActive returns the time of the last successfully routed
	// request, read by the reaper.
	lastActive() time.Time
	// closeSession tears the session down. It must be idempotent:
	// closing an already-closed session is a no-op, whichever of the
	// triggers (explicit teardown, disconnect, reaper, shutdown) fires
	// first or again.
	closeSession() error
}

// sessionRegistry maps session identifiers to live sessions for one
// transport kind. An identifier present in the map implies its engine
// is connected and ready; entries are registered only after the engine
// accepts the session. All methods are safe for concurrent use.
type sessionRegistry[S session] struct {
	mu       sync.RWMutex
	sessions map[string]S
}

func newSessionRegistry[S session]() *sessionRegistry[S] {
	return &sessionRegistry[S]{sessions: make(map[string]S)}
}

// register adds a session. Identifiers are minted from random UUIDs,
// so a collision indicates a logic error rather than bad input.
func (r *sessionRegistry[S]) register(s S) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	id := s.sessionID()
	if _, exists := r.sessions[id]; exists {
		return fmt.Errorf("session %s already registered", id)
	}
	r.sessions[id] = s
	return nil
}

// lookup returns the session for id, reporting whether it exists.
func (r *sessionRegistry[S]) lookup(id string) (S, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[id]
	return s, ok
}

// remove deletes the entry for id. Removing an absent id is a no-op:
// a late disconnect callback may fire after an explicit termination
// already removed the entry, in either order.
func (r *sessionRegistry[S]) remove(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.sessions, id)
}

// snapshot returns the live sessions at the time of the call. Callers
// iterate the copy so close paths never run under the registry lock.
func (r *sessionRegistry[S]) snapshot() []S {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]S, 0, len(r.sessions))
	for _, s := range r.sessions {
		out = append(out, s)
	}
	return out
}

func (r *sessionRegistry[S]) size() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// closeAll closes every live session, isolating per-session failures.
// Used by the shutdown sweep; the on-close observers deregister each
// entry as it closes.
func (r *sessionRegistry[S]) closeAll(logger Logger) {
	for _, s := range r.snapshot() {
		if err := s.closeSession(); err != nil {
			logger.Errorf("Failed to close session %s: %v", s.sessionID(), err)
		}
	}
}
