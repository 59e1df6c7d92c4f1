// Tencent is pleased to support the open source community by making trpc-cms-mcp available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-cms-mcp is licensed under the Apache License Version 2.0.

package cmsmcp

import (
	"io"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// SessionIDHeader carries the streamable-transport session identifier.
const SessionIDHeader = "Mcp-Session-Id"

// ProtocolVersionHeader advertises the protocol revision on responses.
const ProtocolVersionHeader = "Mcp-Protocol-Version"

// streamSession binds one streamable-transport client to its engine.
// The engine is exclusively owned: created fresh when the session is
// minted, discarded when it closes.
type streamSession struct {
	id        string
	engine    *engine
	createdAt time.Time

	// lastActivity holds unix nanoseconds of the last routed request.
	lastActivity atomic.Int64

	done chan struct{}

	closeOnce sync.Once
	// onClose is the observer wired by the handler at registration; it
	// deregisters the session. Fired at most once regardless of which
	// teardown trigger wins.
	onClose func(id string)
}

func newStreamSession(id string, eng *engine) *streamSession {
	s := &streamSession{
		id:        id,
		engine:    eng,
		createdAt: time.Now(),
		done:      make(chan struct{}),
	}
	s.touch()
	return s
}

func (s *streamSession) sessionID() string { return s.id }

func (s *streamSession) lastActive() time.Time {
	return time.Unix(0, s.lastActivity.Load())
}

func (s *streamSession) touch() {
	s.lastActivity.Store(time.Now().UnixNano())
}

func (s *streamSession) closeSession() error {
	s.closeOnce.Do(func() {
		close(s.done)
		if s.onClose != nil {
			s.onClose(s.id)
		}
	})
	return nil
}

// streamableHandler serves the single streamable-transport endpoint,
// demultiplexing by verb and by presence of the session id header.
// The registry is injected by the lifecycle controller; the handler
// owns no process-wide state.
type streamableHandler struct {
	registry *sessionRegistry[*streamSession]
	factory  *engineFactory
	logger   Logger
}

func newStreamableHandler(registry *sessionRegistry[*streamSession], factory *engineFactory, logger Logger) *streamableHandler {
	return &streamableHandler{
		registry: registry,
		factory:  factory,
		logger:   logger,
	}
}

func (h *streamableHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	w.Header().Set(ProtocolVersionHeader, ProtocolVersion)

	switch r.Method {
	case http.MethodPost:
		h.handlePost(w, r)
	case http.MethodGet:
		h.handleGet(w, r)
	case http.MethodDelete:
		h.handleDelete(w, r)
	default:
		w.Header().Set("Allow", "GET, POST, DELETE")
		writeJSONRPCError(w, http.StatusMethodNotAllowed, nil, ErrCodeInvalidRequest, "method not allowed")
	}
}

func (h *streamableHandler) handlePost(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		writeJSONRPCError(w, http.StatusBadRequest, nil, ErrCodeParse, "failed to read request body")
		return
	}

	sid := r.Header.Get(SessionIDHeader)
	if sid == "" {
		h.handleInitialize(w, r, body)
		return
	}

	sess, ok := h.registry.lookup(sid)
	if !ok {
		// Never mint a session for an unknown identifier.
		writeJSONRPCError(w, http.StatusBadRequest, requestID(body), ErrCodeSession, "session not found")
		return
	}
	sess.touch()

	resp, err := sess.engine.handleMessage(r.Context(), body)
	if err != nil {
		h.logger.Errorf("Engine error for session %s: %v", sid, err)
		writeJSONRPCError(w, http.StatusInternalServerError, requestID(body), ErrCodeInternal, "internal error")
		return
	}
	if resp == nil {
		// Notification: nothing to send back.
		w.WriteHeader(http.StatusAccepted)
		return
	}
	h.writeResponse(w, sid, resp)
}

// handleInitialize validates the handshake, mints a session, and hands
// the original request to the fresh engine. The session is registered
// only after the engine accepts the request, so a failing construction
// never leaves a registry entry behind.
func (h *streamableHandler) handleInitialize(w http.ResponseWriter, r *http.Request, body []byte) {
	reqID, ok := validateInitialize(body)
	if !ok {
		writeJSONRPCError(w, http.StatusBadRequest, reqID, ErrCodeInvalidRequest, "invalid initialize request")
		return
	}

	sid := uuid.NewString()
	sess := newStreamSession(sid, h.factory.newEngine())

	resp, err := sess.engine.handleMessage(r.Context(), body)
	if err != nil || resp == nil {
		h.logger.Errorf("Initialize failed before session registration: %v", err)
		writeJSONRPCError(w, http.StatusInternalServerError, reqID, ErrCodeInternal, "initialization failed")
		return
	}

	sess.onClose = h.registry.remove
	if err := h.registry.register(sess); err != nil {
		h.logger.Errorf("Failed to register session %s: %v", sid, err)
		writeJSONRPCError(w, http.StatusInternalServerError, reqID, ErrCodeInternal, "initialization failed")
		return
	}
	h.logger.Infof("Session initialized: %s", sid)
	h.writeResponse(w, sid, resp)
}

func (h *streamableHandler) handleGet(w http.ResponseWriter, r *http.Request) {
	sid := r.Header.Get(SessionIDHeader)
	if sid == "" {
		writeJSONRPCError(w, http.StatusBadRequest, nil, ErrCodeSession, "missing session identifier")
		return
	}
	sess, ok := h.registry.lookup(sid)
	if !ok {
		writeJSONRPCError(w, http.StatusNotFound, nil, ErrCodeSession, "session not found")
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeJSONRPCError(w, http.StatusInternalServerError, nil, ErrCodeInternal, "streaming unsupported")
		return
	}
	sess.touch()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.Header().Set(SessionIDHeader, sid)
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	keepAlive := time.NewTicker(30 * time.Second)
	defer keepAlive.Stop()

	// Responses always travel on the POST that carried the request, and
	// the fixed tool set never emits server-initiated notifications, so
	// this stream only holds the connection open with keep-alive comments
	// until the session ends or the client disconnects.
	for {
		select {
		case <-keepAlive.C:
			if _, err := io.WriteString(w, ": keep-alive\n\n"); err != nil {
				return
			}
			flusher.Flush()
		case <-sess.done:
			return
		case <-r.Context().Done():
			// Client went away; the session itself outlives the stream
			// and is reclaimed by DELETE, the reaper, or shutdown.
			h.logger.Debugf("Stream disconnected for session %s", sid)
			return
		}
	}
}

func (h *streamableHandler) handleDelete(w http.ResponseWriter, r *http.Request) {
	sid := r.Header.Get(SessionIDHeader)
	if sid == "" {
		writeJSONRPCError(w, http.StatusBadRequest, nil, ErrCodeSession, "missing session identifier")
		return
	}
	sess, ok := h.registry.lookup(sid)
	if !ok {
		writeJSONRPCError(w, http.StatusNotFound, nil, ErrCodeSession, "session not found")
		return
	}
	if err := sess.closeSession(); err != nil {
		h.logger.Errorf("Failed to close session %s: %v", sid, err)
	}
	h.registry.remove(sid)
	h.logger.Infof("Session terminated: %s", sid)
	w.WriteHeader(http.StatusNoContent)
}

// writeResponse sends a JSON engine response. Write failures after the
// header is out are only logged; a second response cannot be sent.
func (h *streamableHandler) writeResponse(w http.ResponseWriter, sid string, resp []byte) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set(SessionIDHeader, sid)
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(resp); err != nil {
		h.logger.Errorf("Failed to write response for session %s: %v", sid, err)
	}
}
