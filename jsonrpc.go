// Tencent is pleased to support the open source community by making trpc-cms-mcp available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-cms-mcp is licensed under the Apache License Version 2.0.

package cmsmcp

import (
	"encoding/json"
	"net/http"
	"strings"
)

// JSON-RPC error codes used at the transport boundary. Tool-level
// failures never use these; they travel inside successful tool results.
const (
	// ErrCodeSession covers transport/session-level rejections: unknown,
	// expired, or terminated session identifiers.
	ErrCodeSession = -32000

	ErrCodeParse          = -32700
	ErrCodeInvalidRequest = -32600
	ErrCodeMethodNotFound = -32601
	ErrCodeInvalidParams  = -32602
	ErrCodeInternal       = -32603
)

// JSONRPCVersion is the protocol version carried by every envelope.
const JSONRPCVersion = "2.0"

// ProtocolVersion is the MCP protocol revision advertised on every
// streamable-transport response.
const ProtocolVersion = "2025-03-26"

// jsonRPCErrorResponse is the wire shape of a transport-level error.
type jsonRPCErrorResponse struct {
	JSONRPC string      `json:"jsonrpc"`
	ID      interface{} `json:"id"`
	Error   struct {
		Code    int         `json:"code"`
		Message string      `json:"message"`
		Data    interface{} `json:"data,omitempty"`
	} `json:"error"`
}

func newJSONRPCErrorResponse(id interface{}, code int, message string, data interface{}) *jsonRPCErrorResponse {
	resp := &jsonRPCErrorResponse{
		JSONRPC: JSONRPCVersion,
		ID:      id,
	}
	resp.Error.Code = code
	resp.Error.Message = message
	resp.Error.Data = data
	return resp
}

// writeJSONRPCError writes a JSON-RPC error response with the given
// HTTP status. The id may be nil when the request id is unavailable.
func writeJSONRPCError(w http.ResponseWriter, status int, id interface{}, code int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(newJSONRPCErrorResponse(id, code, message, nil)); err != nil {
		// Headers are already out; nothing more can be sent.
		GetDefaultLogger().Errorf("Error encoding error response: %v", err)
	}
}

// initializeRequest is the subset of an initialize envelope this server
// validates before minting a session.
type initializeRequest struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id"`
	Method  string          `json:"method"`
	Params  struct {
		ProtocolVersion string `json:"protocolVersion"`
		ClientInfo      struct {
			Name    string `json:"name"`
			Version string `json:"version"`
		} `json:"clientInfo"`
	} `json:"params"`
}

// validateInitialize is the single authoritative check for session
// initialization. It accepts exactly one shape: a JSON-RPC 2.0 request
// with method "initialize", a non-null id, and a client name and
// version under params.clientInfo. It returns the request id (nil when
// unavailable) alongside the verdict so rejections can echo it.
func validateInitialize(body []byte) (id interface{}, ok bool) {
	var req initializeRequest
	if err := json.Unmarshal(body, &req); err != nil {
		return nil, false
	}
	if len(req.ID) > 0 && string(req.ID) != "null" {
		if err := json.Unmarshal(req.ID, &id); err != nil {
			return nil, false
		}
	}
	if req.JSONRPC != JSONRPCVersion || req.Method != "initialize" {
		return id, false
	}
	if id == nil {
		return nil, false
	}
	if req.Params.ClientInfo.Name == "" || req.Params.ClientInfo.Version == "" {
		return id, false
	}
	return id, true
}

// requestID extracts the id field from a raw JSON-RPC body, returning
// nil when the body is unparseable or the id is absent.
func requestID(body []byte) interface{} {
	var envelope struct {
		ID interface{} `json:"id"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil {
		return nil
	}
	return envelope.ID
}

// formatSSEEvent formats a server-sent event frame. Multi-line data is
// split into repeated data: lines per the SSE framing rules.
func formatSSEEvent(eventType string, data []byte) string {
	var builder strings.Builder

	if eventType != "" {
		builder.WriteString("event: ")
		builder.WriteString(eventType)
		builder.WriteString("\n")
	}

	if len(data) > 0 {
		builder.WriteString("data: ")
		dataStr := strings.TrimRight(string(data), "\n")
		dataStr = strings.ReplaceAll(dataStr, "\n", "\ndata: ")
		builder.WriteString(dataStr)
		builder.WriteString("\n")
	}

	builder.WriteString("\n")
	return builder.String()
}
