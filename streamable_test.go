// Tencent is pleased to support the open source community by making trpc-cms-mcp available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-cms-mcp is licensed under the Apache License Version 2.0.

package cmsmcp

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"trpc.group/trpc-go/trpc-cms-mcp/internal/cms"
)

const initializeBody = `{"jsonrpc":"2.0","id":1,"method":"initialize","params":{"protocolVersion":"2025-03-26","capabilities":{},"clientInfo":{"name":"test","version":"1.0"}}}`

// fakeCMS serves a minimal content-management API for tests.
func fakeCMS(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/wp-json/wp/v2/settings", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"title":"Test Site","description":"Just testing","url":"https://example.com"}`))
	})
	mux.HandleFunc("/wp-json/wp/v2/posts", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if r.Method == http.MethodPost {
			_, _ = w.Write([]byte(`{"id":42,"status":"draft","title":{"rendered":"New"},"content":{"rendered":"Body"}}`))
			return
		}
		_, _ = w.Write([]byte(`[]`))
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func newTestStreamable(t *testing.T) (*streamableHandler, *sessionRegistry[*streamSession]) {
	t.Helper()
	backend := fakeCMS(t)
	client := cms.NewClient(backend.URL, "admin", "secret")
	factory := newEngineFactory("test-server", "0.0.1", "", NewToolSet(client))
	registry := newSessionRegistry[*streamSession]()
	return newStreamableHandler(registry, factory, GetDefaultLogger()), registry
}

type rpcEnvelope struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      interface{}     `json:"id"`
	Result  json.RawMessage `json:"result"`
	Error   *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func decodeBody(resp *http.Response, v any) error {
	return json.NewDecoder(resp.Body).Decode(v)
}

func decodeEnvelope(t *testing.T, body string) rpcEnvelope {
	t.Helper()
	var env rpcEnvelope
	require.NoError(t, json.Unmarshal([]byte(body), &env))
	return env
}

func initializeSession(t *testing.T, h *streamableHandler) string {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/mcp", strings.NewReader(initializeBody))
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	sid := w.Header().Get(SessionIDHeader)
	require.NotEmpty(t, sid)

	env := decodeEnvelope(t, w.Body.String())
	require.Nil(t, env.Error)
	require.NotNil(t, env.Result)
	return sid
}

func TestStreamable_InitializeCreatesSession(t *testing.T) {
	h, registry := newTestStreamable(t)

	sid := initializeSession(t, h)
	_, ok := registry.lookup(sid)
	assert.True(t, ok)

	// A second initialize mints a distinct identifier.
	sid2 := initializeSession(t, h)
	assert.NotEqual(t, sid, sid2)
	assert.Equal(t, 2, registry.size())
}

func TestStreamable_ToolCallOnSession(t *testing.T) {
	h, _ := newTestStreamable(t)
	sid := initializeSession(t, h)

	callBody := `{"jsonrpc":"2.0","id":2,"method":"tools/call","params":{"name":"search_posts","arguments":{"search_term":"hello"}}}`
	req := httptest.NewRequest(http.MethodPost, "/mcp", strings.NewReader(callBody))
	req.Header.Set(SessionIDHeader, sid)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	env := decodeEnvelope(t, w.Body.String())
	assert.Nil(t, env.Error)
	assert.NotNil(t, env.Result)
}

func TestStreamable_UnknownSessionRejected(t *testing.T) {
	h, registry := newTestStreamable(t)

	req := httptest.NewRequest(http.MethodPost, "/mcp", strings.NewReader(`{"jsonrpc":"2.0","id":5,"method":"tools/list"}`))
	req.Header.Set(SessionIDHeader, "never-issued")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
	env := decodeEnvelope(t, w.Body.String())
	require.NotNil(t, env.Error)
	assert.Equal(t, ErrCodeSession, env.Error.Code)
	// No session may be minted as a side effect.
	assert.Equal(t, 0, registry.size())
}

func TestStreamable_InvalidInitializeRejected(t *testing.T) {
	h, registry := newTestStreamable(t)

	tests := []struct {
		name string
		body string
	}{
		{"missing id", `{"jsonrpc":"2.0","method":"initialize","params":{"clientInfo":{"name":"t","version":"1"}}}`},
		{"not initialize", `{"jsonrpc":"2.0","id":1,"method":"tools/list"}`},
		{"garbage", `not even json`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/mcp", strings.NewReader(tt.body))
			w := httptest.NewRecorder()
			h.ServeHTTP(w, req)

			assert.Equal(t, http.StatusBadRequest, w.Code)
			env := decodeEnvelope(t, w.Body.String())
			require.NotNil(t, env.Error)
			assert.Equal(t, ErrCodeInvalidRequest, env.Error.Code)
			assert.Equal(t, 0, registry.size())
		})
	}
}

func TestStreamable_DeleteTerminatesSession(t *testing.T) {
	h, registry := newTestStreamable(t)
	sid := initializeSession(t, h)

	req := httptest.NewRequest(http.MethodDelete, "/mcp", nil)
	req.Header.Set(SessionIDHeader, sid)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, 0, registry.size())

	// Subsequent traffic on the terminated session is rejected.
	req = httptest.NewRequest(http.MethodPost, "/mcp", strings.NewReader(`{"jsonrpc":"2.0","id":3,"method":"tools/list"}`))
	req.Header.Set(SessionIDHeader, sid)
	w = httptest.NewRecorder()
	h.ServeHTTP(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
	env := decodeEnvelope(t, w.Body.String())
	require.NotNil(t, env.Error)
	assert.Equal(t, ErrCodeSession, env.Error.Code)
}

func TestStreamable_GetOpensStream(t *testing.T) {
	h, registry := newTestStreamable(t)
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)

	initReq, err := http.NewRequest(http.MethodPost, srv.URL, strings.NewReader(initializeBody))
	require.NoError(t, err)
	initResp, err := http.DefaultClient.Do(initReq)
	require.NoError(t, err)
	defer initResp.Body.Close()
	require.Equal(t, http.StatusOK, initResp.StatusCode)
	sid := initResp.Header.Get(SessionIDHeader)
	require.NotEmpty(t, sid)

	getReq, err := http.NewRequest(http.MethodGet, srv.URL, nil)
	require.NoError(t, err)
	getReq.Header.Set(SessionIDHeader, sid)
	getResp, err := http.DefaultClient.Do(getReq)
	require.NoError(t, err)
	defer getResp.Body.Close()

	assert.Equal(t, http.StatusOK, getResp.StatusCode)
	assert.Equal(t, "text/event-stream", getResp.Header.Get("Content-Type"))
	assert.Equal(t, sid, getResp.Header.Get(SessionIDHeader))

	// Closing the session ends the stream.
	sess, ok := registry.lookup(sid)
	require.True(t, ok)
	require.NoError(t, sess.closeSession())
	_, err = io.ReadAll(getResp.Body)
	assert.NoError(t, err)
}

func TestStreamable_GetUnknownSession(t *testing.T) {
	h, _ := newTestStreamable(t)

	req := httptest.NewRequest(http.MethodGet, "/mcp", nil)
	req.Header.Set(SessionIDHeader, "never-issued")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	assert.Equal(t, http.StatusNotFound, w.Code)

	req = httptest.NewRequest(http.MethodGet, "/mcp", nil)
	w = httptest.NewRecorder()
	h.ServeHTTP(w, req)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestStreamable_DeleteUnknownSession(t *testing.T) {
	h, _ := newTestStreamable(t)

	req := httptest.NewRequest(http.MethodDelete, "/mcp", nil)
	req.Header.Set(SessionIDHeader, "never-issued")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestStreamable_DoubleCloseIsIdempotent(t *testing.T) {
	h, registry := newTestStreamable(t)
	sid := initializeSession(t, h)

	sess, ok := registry.lookup(sid)
	require.True(t, ok)

	// Explicit teardown followed by a late close callback, and again.
	require.NoError(t, sess.closeSession())
	require.NoError(t, sess.closeSession())
	registry.remove(sid)

	assert.Equal(t, 0, registry.size())
}

func TestStreamable_ProtocolVersionHeader(t *testing.T) {
	h, _ := newTestStreamable(t)

	req := httptest.NewRequest(http.MethodPost, "/mcp", strings.NewReader(initializeBody))
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	assert.Equal(t, ProtocolVersion, w.Header().Get(ProtocolVersionHeader))
}

func TestStreamable_MethodNotAllowed(t *testing.T) {
	h, _ := newTestStreamable(t)

	req := httptest.NewRequest(http.MethodPut, "/mcp", nil)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	assert.Equal(t, http.StatusMethodNotAllowed, w.Code)
}
