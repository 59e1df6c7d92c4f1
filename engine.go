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

	mcpsrv "github.com/mark3labs/mcp-go/server"
)

// engine wraps one protocol dispatch instance. Every session owns
// exactly one engine; engines are never shared or reused across
// sessions. The engine parses JSON-RPC envelopes, dispatches tool
// calls, and serializes results; this server only moves bytes in and
// out of it.
type engine struct {
	mcp *mcpsrv.MCPServer
}

// handleMessage feeds one raw JSON-RPC message to the engine and
// returns the serialized response, or nil for notifications that
// produce no response.
func (e *engine) handleMessage(ctx context.Context, raw json.RawMessage) ([]byte, error) {
	msg := e.mcp.HandleMessage(ctx, raw)
	if msg == nil {
		return nil, nil
	}
	out, err := json.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("marshal engine response: %w", err)
	}
	return out, nil
}

// engineFactory builds a fresh engine per session, registering the
// fixed tool set once at construction. The tool set is closed: it is
// assembled at server startup and never mutated afterwards.
type engineFactory struct {
	name         string
	version      string
	instructions string
	tools        []mcpsrv.ServerTool
}

func newEngineFactory(name, version, instructions string, tools []mcpsrv.ServerTool) *engineFactory {
	return &engineFactory{
		name:         name,
		version:      version,
		instructions: instructions,
		tools:        tools,
	}
}

func (f *engineFactory) newEngine() *engine {
	s := mcpsrv.NewMCPServer(
		f.name,
		f.version,
		mcpsrv.WithInstructions(f.instructions),
		mcpsrv.WithToolCapabilities(false),
	)
	for _, t := range f.tools {
		s.AddTool(t.Tool, t.Handler)
	}
	return &engine{mcp: s}
}

// newMCPServer builds the single shared dispatch instance used by the
// stdio transport, which has exactly one implicit session for the
// process lifetime.
func (f *engineFactory) newMCPServer() *mcpsrv.MCPServer {
	return f.newEngine().mcp
}
