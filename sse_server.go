// Tencent is pleased to support the open source community by making trpc-cms-mcp available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-cms-mcp is licensed under the Apache License Version 2.0.

package cmsmcp

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

const sseEventQueueSize = 100

// sseSession represents an active legacy SSE connection. Unlike the
// streamable transport, the session's lifetime is the stream's
// lifetime: the GET connection is the handshake, and its disconnect
// tears the session down.
type sseSession struct {
	id         string
	engine     *engine
	eventQueue chan string
	done       chan struct{}
	createdAt  time.Time

	lastActivity atomic.Int64

	closeOnce sync.Once
	onClose   func(id string)
}

func newSSESession(id string, eng *engine) *sseSession {
	s := &sseSession{
		id:         id,
		engine:     eng,
		eventQueue: make(chan string, sseEventQueueSize),
		done:       make(chan struct{}),
		createdAt:  time.Now(),
	}
	s.touch()
	return s
}

func (s *sseSession) sessionID() string { return s.id }

func (s *sseSession) lastActive() time.Time {
	return time.Unix(0, s.lastActivity.Load())
}

func (s *sseSession) touch() {
	s.lastActivity.Store(time.Now().UnixNano())
}

func (s *sseSession) closeSession() error {
	s.closeOnce.Do(func() {
		close(s.done)
		if s.onClose != nil {
			s.onClose(s.id)
		}
	})
	return nil
}

// enqueue queues an SSE frame for the stream writer. Frames are
// dropped with a log entry when the queue is full or the session is
// already closed.
func (s *sseSession) enqueue(event string, logger Logger) {
	select {
	case s.eventQueue <- event:
	case <-s.done:
		logger.Debugf("Session closed, dropping event: %s", s.id)
	default:
		logger.Errorf("Event queue full for session %s, dropping event", s.id)
	}
}

// sseHandler serves the legacy two-endpoint SSE transport: a long-
// lived GET that opens the stream and creates the session, and a POST
// endpoint keyed by a sessionId query parameter for inbound messages.
// It shares no validation path with the streamable handler; the two
// protocols differ in both handshake and framing.
type sseHandler struct {
	registry *sessionRegistry[*sseSession]
	factory  *engineFactory
	logger   Logger

	// messageEndpoint is the path advertised to clients in the
	// endpoint event, e.g. "/messages".
	messageEndpoint string

	keepAliveInterval time.Duration
}

func newSSEHandler(registry *sessionRegistry[*sseSession], factory *engineFactory, messageEndpoint string, logger Logger) *sseHandler {
	return &sseHandler{
		registry:          registry,
		factory:           factory,
		logger:            logger,
		messageEndpoint:   messageEndpoint,
		keepAliveInterval: 30 * time.Second,
	}
}

// handleSSE serves GET on the stream endpoint. Opening the stream is
// the handshake: a fresh session and engine are minted, the session is
// registered, and the first event tells the client where to POST.
func (h *sseHandler) handleSSE(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", "GET")
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "Streaming unsupported", http.StatusInternalServerError)
		return
	}

	sid := uuid.NewString()
	sess := newSSESession(sid, h.factory.newEngine())
	sess.onClose = h.registry.remove
	if err := h.registry.register(sess); err != nil {
		h.logger.Errorf("Failed to register SSE session %s: %v", sid, err)
		http.Error(w, "Internal error", http.StatusInternalServerError)
		return
	}
	h.logger.Infof("SSE session opened: %s", sid)

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.WriteHeader(http.StatusOK)

	endpoint := fmt.Sprintf("%s?sessionId=%s", h.messageEndpoint, sid)
	if _, err := io.WriteString(w, formatSSEEvent("endpoint", []byte(endpoint))); err != nil {
		h.logger.Errorf("Failed to send endpoint event for session %s: %v", sid, err)
		_ = sess.closeSession()
		return
	}
	flusher.Flush()

	keepAlive := time.NewTicker(h.keepAliveInterval)
	defer keepAlive.Stop()

	for {
		select {
		case event := <-sess.eventQueue:
			if _, err := io.WriteString(w, event); err != nil {
				h.logger.Debugf("SSE write failed for session %s: %v", sid, err)
				_ = sess.closeSession()
				return
			}
			flusher.Flush()
			sess.touch()
		case <-keepAlive.C:
			if _, err := io.WriteString(w, ": keep-alive\n\n"); err != nil {
				_ = sess.closeSession()
				return
			}
			flusher.Flush()
			// A deliverable stream is proof of life; refresh activity so
			// the reaper never evicts a listen-only client.
			sess.touch()
		case <-sess.done:
			h.logger.Infof("SSE session closed: %s", sid)
			return
		case <-r.Context().Done():
			// Stream disconnect is session teardown on this transport.
			h.logger.Infof("SSE client disconnected: %s", sid)
			_ = sess.closeSession()
			return
		}
	}
}

// handleMessage serves POST on the message endpoint. The request is
// acknowledged immediately and processed detached from the request
// context; the result travels back over the session's event stream.
func (h *sseHandler) handleMessage(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", "POST")
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	sid := r.URL.Query().Get("sessionId")
	if sid == "" {
		writeJSONRPCError(w, http.StatusBadRequest, nil, ErrCodeSession, "missing sessionId parameter")
		return
	}
	sess, ok := h.registry.lookup(sid)
	if !ok {
		writeJSONRPCError(w, http.StatusBadRequest, nil, ErrCodeSession, "session not found")
		return
	}

	body, err := io.ReadAll(r.Body)
	if err != nil {
		writeJSONRPCError(w, http.StatusBadRequest, nil, ErrCodeParse, "failed to read request body")
		return
	}
	if !json.Valid(body) {
		writeJSONRPCError(w, http.StatusBadRequest, nil, ErrCodeParse, "invalid JSON")
		return
	}
	sess.touch()

	// Acknowledge now; the response is delivered over the stream. The
	// detached context keeps processing alive after this POST returns.
	w.WriteHeader(http.StatusAccepted)

	go h.processMessage(context.WithoutCancel(r.Context()), sess, body)
}

func (h *sseHandler) processMessage(ctx context.Context, sess *sseSession, body []byte) {
	resp, err := sess.engine.handleMessage(ctx, body)
	if err != nil {
		h.logger.Errorf("Engine error for SSE session %s: %v", sess.id, err)
		fallback, merr := json.Marshal(newJSONRPCErrorResponse(requestID(body), ErrCodeInternal, "internal error", nil))
		if merr != nil {
			return
		}
		sess.enqueue(formatSSEEvent("message", fallback), h.logger)
		return
	}
	if resp == nil {
		// Notification: nothing goes back on the stream.
		return
	}
	sess.enqueue(formatSSEEvent("message", resp), h.logger)
}
